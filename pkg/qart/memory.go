package qart

import (
	"bytes"
	"context"
	"io"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps objects in process memory. Used by tests and by
// servers started without S3 settings.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data     []byte
	artifact Artifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) EnsureBucket(ctx context.Context) error { return nil }

func (s *MemoryStore) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) (*Artifact, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	a := Artifact{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  contentType,
		LastModified: time.Now(),
		Metadata:     maps.Clone(metadata),
	}

	s.mu.Lock()
	s.objects[key] = memoryObject{data: data, artifact: a}
	s.mu.Unlock()
	return &a, nil
}

func (s *MemoryStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "", ErrNoPresign
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Artifact
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			a := obj.artifact
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
