package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func get(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func ok(context.Context) error { return nil }

func TestHealthz_AlwaysOK(t *testing.T) {
	h := New(Checker{Name: "obs", Check: func(context.Context) error { return errors.New("down") }})
	code, body := get(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz_StartingUntilMarked(t *testing.T) {
	h := New(Checker{Name: "obs", Check: ok})

	code, body := get(t, h, "/readyz")
	if code != http.StatusServiceUnavailable || body.Status != "starting" {
		t.Errorf("before start: got %d %q, want 503 starting", code, body.Status)
	}

	h.MarkStarted()
	code, body = get(t, h, "/readyz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("after start: got %d %q, want 200 ok", code, body.Status)
	}
	if body.Checks["obs"] != "ok" {
		t.Errorf("obs check = %q", body.Checks["obs"])
	}
}

func TestReadyz_Checks(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "obs", Check: func(context.Context) error { return errors.New("connection refused") }},
				{Name: "pipeline", Check: ok},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"obs": "fail: connection refused", "pipeline": "ok"},
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "obs", Check: ok},
				{Name: "pipeline", Check: ok},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"obs": "ok", "pipeline": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(tt.checkers...)
			h.MarkStarted()
			code, body := get(t, h, "/readyz")
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("got %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			for k, v := range tt.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("check %s = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	waiting := make(chan struct{}, 2)
	block := func(ctx context.Context) error {
		waiting <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: block}, Checker{Name: "b", Check: block})
	h.MarkStarted()

	go func() {
		<-waiting
		<-waiting
		close(release)
	}()
	if code, body := get(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("got %d %v, want 200", code, body.Checks)
	}
}

func TestReadyz_Info(t *testing.T) {
	state := "idle"
	h := New().WithInfo(Info{Name: "censor", Value: func() string { return state }})
	h.MarkStarted()

	_, body := get(t, h, "/readyz")
	if body.Info["censor"] != "idle" {
		t.Errorf("info censor = %q, want idle", body.Info["censor"])
	}
	state = "triggering"
	_, body = get(t, h, "/readyz")
	if body.Info["censor"] != "triggering" {
		t.Errorf("info censor = %q, want triggering", body.Info["censor"])
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	h.MarkStarted()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
