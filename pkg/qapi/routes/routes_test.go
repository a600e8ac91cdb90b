package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quatton/qci/pkg/kv"
	"github.com/quatton/qci/pkg/qapi"
	"github.com/quatton/qci/pkg/qapi/services"
	"github.com/quatton/qci/pkg/qapi/services/iam"
	"github.com/quatton/qci/pkg/qart"
	"github.com/quatton/qci/pkg/qauth"
	"github.com/quatton/qci/pkg/qevents"
	"github.com/quatton/qci/pkg/qlog"
	"github.com/quatton/qci/pkg/qpipelines"
	"github.com/quatton/qci/pkg/qrunner"
)

// okPlatform runs every task successfully.
type okPlatform struct{}

func (okPlatform) Name() string { return "fake" }

func (okPlatform) Provision(ctx context.Context, req qrunner.EnvironmentRequest) (qrunner.Environment, error) {
	return okEnvironment{}, nil
}

type okEnvironment struct{}

func (okEnvironment) Exec(ctx context.Context, script string, stdout, stderr io.Writer) (int, error) {
	io.WriteString(stdout, "ok\n")
	return 0, nil
}

func (okEnvironment) StateDir() string { return "/tmp/state" }
func (okEnvironment) Close(ctx context.Context) error { return nil }

const testPipelines = `
pipelines:
  build:
    on: [push]
    steps: [{run: make build}, {run: make test}]
`

type testServer struct {
	t      *testing.T
	api    *qapi.Api
	svcs   *services.Services
	signer *qauth.Signer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	signer, err := qauth.NewSigner(strings.Repeat("k", 32))
	if err != nil {
		t.Fatal(err)
	}
	set, err := qpipelines.Parse([]byte(testPipelines))
	if err != nil {
		t.Fatal(err)
	}

	tracker := kv.NewMemoryStore()
	artifacts := qart.NewMemoryStore()
	runner := qrunner.NewRunner(okPlatform{},
		qrunner.WithDataDir(t.TempDir()),
		qrunner.WithOutput(io.Discard),
		qrunner.WithLogger(qlog.Discard()),
		qrunner.WithArtifactStore(artifacts),
	)
	dispatcher := qevents.NewDispatcher(qevents.WithDedup(tracker, time.Hour))
	registrar, err := qpipelines.Register(dispatcher, runner, set, qpipelines.WithTracker(tracker))
	if err != nil {
		t.Fatal(err)
	}

	svcs := &services.Services{
		IAM:        iam.NewIAMService(signer, qlog.Discard()),
		Runner:     runner,
		Dispatcher: dispatcher,
		Pipelines:  registrar,
		Tracker:    tracker,
		Artifacts:  artifacts,
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svcs.Close(ctx)
	})

	api := qapi.NewApi()
	RegisterAPI(api.Api, svcs)
	return &testServer{t: t, api: api, svcs: svcs, signer: signer}
}

func (s *testServer) token(events ...string) string {
	s.t.Helper()
	token, err := s.signer.Issue("test", events, time.Hour)
	if err != nil {
		s.t.Fatal(err)
	}
	return token
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			s.t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.api.Router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func (s *testServer) waitRuns(n int) []*qrunner.Run {
	s.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		status := qrunner.RunStatusSucceeded
		runs, err := s.svcs.Runner.ListRuns(context.Background(), &status)
		if err != nil {
			s.t.Fatal(err)
		}
		if len(runs) >= n {
			return runs
		}
		if time.Now().After(deadline) {
			s.t.Fatalf("timed out waiting for %d finished runs, have %d", n, len(runs))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["platform"] != "fake" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestDispatchEvent_Auth(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(http.MethodPost, "/api/events/push", "", map[string]any{}); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/events/push", "garbage", map[string]any{}); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid token, got %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/events/push", s.token("pull_request"), map[string]any{}); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for disallowed type, got %d", rec.Code)
	}
}

func TestDispatchEvent_RunsBoundPipeline(t *testing.T) {
	s := newTestServer(t)
	token := s.token(qauth.AnyEvent)

	rec := s.do(http.MethodPost, "/api/events/push", token, map[string]any{
		"id":     "delivery-1",
		"commit": "abc123",
		"ref":    "main",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	accepted := decode[map[string]string](t, rec)
	if accepted["id"] != "delivery-1" || accepted["type"] != "push" {
		t.Errorf("unexpected body: %v", accepted)
	}

	runs := s.waitRuns(1)
	if runs[0].Name != "build" || runs[0].Labels["event_id"] != "delivery-1" {
		t.Errorf("unexpected run: %+v", runs[0])
	}

	rec = s.do(http.MethodPost, "/api/events/push", token, map[string]any{"id": "delivery-1"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for redelivery, got %d", rec.Code)
	}

	rec = s.do(http.MethodGet, "/api/pipelines/build", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	p := decode[map[string]any](t, rec)
	if p["last_run_id"] != runs[0].ID {
		t.Errorf("expected last_run_id %s, got %v", runs[0].ID, p["last_run_id"])
	}
}

func TestDispatchEvent_UnknownType(t *testing.T) {
	s := newTestServer(t)
	token := s.token(qauth.AnyEvent)

	if rec := s.do(http.MethodPost, "/api/events/deploy", token, map[string]any{}); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unregistered type, got %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/events/Bad%20Type", token, map[string]any{}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for malformed type, got %d", rec.Code)
	}
}

func TestPipelines(t *testing.T) {
	s := newTestServer(t)
	reader := s.token()

	rec := s.do(http.MethodGet, "/api/pipelines", reader, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	list := decode[struct {
		Pipelines []struct {
			Name  string   `json:"name"`
			Tasks []string `json:"tasks"`
		} `json:"pipelines"`
	}](t, rec)
	if len(list.Pipelines) != 1 || list.Pipelines[0].Name != "build" || len(list.Pipelines[0].Tasks) != 2 {
		t.Errorf("unexpected pipelines: %+v", list)
	}

	if rec := s.do(http.MethodGet, "/api/pipelines/missing", reader, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	if rec := s.do(http.MethodPost, "/api/pipelines/build/runs", reader, nil); rec.Code != http.StatusForbidden {
		t.Errorf("expected read-only token to be rejected, got %d", rec.Code)
	}

	writer := s.token(qpipelines.TypeManual)
	if rec := s.do(http.MethodPost, "/api/pipelines/missing/runs", writer, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown pipeline, got %d", rec.Code)
	}
	rec = s.do(http.MethodPost, "/api/pipelines/build/runs", writer, map[string]any{"ref": "release"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	runs := s.waitRuns(1)
	if runs[0].Labels["event_type"] != qpipelines.TypeManual {
		t.Errorf("expected manual event label, got %v", runs[0].Labels)
	}
}

func TestRuns(t *testing.T) {
	s := newTestServer(t)
	token := s.token(qevents.TypeExec)

	rec := s.do(http.MethodPost, "/api/runs", token, map[string]any{
		"name":  "adhoc",
		"tasks": []string{"echo one", "echo two"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	submitted := decode[map[string]any](t, rec)
	id, _ := submitted["id"].(string)
	if id == "" {
		t.Fatalf("expected run id, got %v", submitted)
	}

	s.waitRuns(1)

	rec = s.do(http.MethodGet, "/api/runs/"+id, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	run := decode[map[string]any](t, rec)
	if run["status"] != "succeeded" {
		t.Errorf("expected succeeded, got %v", run["status"])
	}

	rec = s.do(http.MethodGet, "/api/runs?status=succeeded", token, nil)
	list := decode[struct {
		Runs []map[string]any `json:"runs"`
	}](t, rec)
	if len(list.Runs) != 1 {
		t.Errorf("expected one run, got %v", list)
	}

	rec = s.do(http.MethodGet, "/api/runs/"+id+"/logs", token, nil)
	logs := decode[map[string]string](t, rec)
	if !strings.Contains(logs["logs"], "echo two") {
		t.Errorf("expected task banner in logs, got %q", logs["logs"])
	}

	rec = s.do(http.MethodGet, "/api/runs/"+id+"/artifacts", token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "output.log") {
		t.Errorf("expected archived output.log, got %d: %s", rec.Code, rec.Body)
	}
	rec = s.do(http.MethodGet, "/api/runs/"+id+"/artifacts/output.log/url", token, nil)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501 from memory store presign, got %d", rec.Code)
	}

	if rec := s.do(http.MethodDelete, "/api/runs/"+id, token, nil); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 cancelling a finished run, got %d", rec.Code)
	}
	if rec := s.do(http.MethodDelete, "/api/runs/"+id, s.token(), nil); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for read-only cancel, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/api/runs/0190c0de-0000-7000-8000-000000000000", token, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", rec.Code)
	}
}

func TestSubmitRun_Invalid(t *testing.T) {
	s := newTestServer(t)
	token := s.token(qevents.TypeExec)

	rec := s.do(http.MethodPost, "/api/runs", token, map[string]any{"name": "empty", "tasks": []string{}})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for empty task list, got %d", rec.Code)
	}
	rec = s.do(http.MethodPost, "/api/runs", token, map[string]any{"name": "neg", "tasks": []string{"true"}, "timeout_seconds": -1})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for negative timeout, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestOpenAPIWithoutServices(t *testing.T) {
	api := qapi.NewApi()
	RegisterAPI(api.Api, nil)

	paths := api.Api.OpenAPI().Paths
	for _, p := range []string{"/health", "/api/events/{type}", "/api/pipelines/{name}/runs", "/api/runs/{runId}/logs"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("expected %s in OpenAPI paths", p)
		}
	}
}
