package kv

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_SetNX(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "qci:event:1", []byte("x"), time.Hour)
	if err != nil || !ok {
		t.Fatalf("first SetNX should win, got %v, %v", ok, err)
	}
	ok, _ = s.SetNX(ctx, "qci:event:1", []byte("y"), time.Hour)
	if ok {
		t.Error("second SetNX must not overwrite")
	}
	if v, _ := s.Get(ctx, "qci:event:1"); string(v) != "x" {
		t.Errorf("expected x, got %q", v)
	}

	s.Delete(ctx, "qci:event:1")
	if _, err := s.Get(ctx, "qci:event:1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	s.Set(ctx, "k", []byte("v"), time.Minute)
	s.Set(ctx, "forever", []byte("v"), 0)

	now = now.Add(2 * time.Minute)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected k to expire, got %v", err)
	}
	if _, err := s.Get(ctx, "forever"); err != nil {
		t.Errorf("ttl 0 must not expire: %v", err)
	}
	if ok, _ := s.SetNX(ctx, "k", []byte("again"), time.Minute); !ok {
		t.Error("SetNX should succeed on an expired key")
	}
}

func TestValkeyStore(t *testing.T) {
	s, err := NewValkeyStore(ValkeyConfig{Addr: "localhost:6379"})
	if err != nil {
		t.Skipf("Requires Valkey on localhost:6379: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	key := "qci:test:" + time.Now().Format(time.RFC3339Nano)
	defer s.Delete(ctx, key)
	if ok, err := s.SetNX(ctx, key, []byte("1"), time.Minute); err != nil || !ok {
		t.Fatalf("SetNX failed: %v %v", ok, err)
	}
	if ok, _ := s.SetNX(ctx, key, []byte("2"), time.Minute); ok {
		t.Error("second SetNX must fail")
	}
}
