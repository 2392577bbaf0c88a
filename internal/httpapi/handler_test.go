package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nextlevelbuilder/snakehook-triage/internal/job"
	"github.com/nextlevelbuilder/snakehook-triage/internal/policy"
	"github.com/nextlevelbuilder/snakehook-triage/internal/queue"
	"github.com/nextlevelbuilder/snakehook-triage/internal/ratelimit"
	"github.com/nextlevelbuilder/snakehook-triage/internal/submission"
)

func newTestService(t *testing.T, denylist []string, rateLimit int) *submission.Service {
	t.Helper()
	pool := queue.New(4, 1, func(job.RunJob) {})
	pool.Start()
	t.Cleanup(pool.Stop)
	return submission.New(policy.New(denylist), ratelimit.New(rateLimit, 60*time.Second), pool)
}

// Requests without an Authorization header, and with the wrong bearer
// token, must both be rejected with 401.
func TestHandleTriage_Unauthorized(t *testing.T) {
	h := New(nil, "secret")
	mux := h.BuildMux()

	req := httptest.NewRequest(http.MethodPost, "/v1/triage", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no auth header: status = %d, want 401", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/v1/triage", bytes.NewBufferString(`{}`))
	req2.Header.Set("Authorization", "Bearer wrong")
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec2.Code)
	}
}

// Denylist: a denylisted package is rejected with 429 and a fixed detail
// string, regardless of authentication succeeding.
func TestHandleTriage_Denylist(t *testing.T) {
	svc := newTestService(t, []string{"torch"}, 10)
	h := New(svc, "secret")
	mux := h.BuildMux()

	body, _ := json.Marshal(map[string]string{"package_name": "Torch_CPU", "version": "1.0"})
	req := httptest.NewRequest(http.MethodPost, "/v1/triage", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429; body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["detail"] != "package is denied" {
		t.Errorf("detail = %q, want %q", resp["detail"], "package is denied")
	}
}

// Rate limit: with per_ip_rate_limit=1, the first submission from a client
// is accepted and the immediate second is rejected with 429.
func TestHandleTriage_RateLimit(t *testing.T) {
	svc := newTestService(t, nil, 1)
	h := New(svc, "secret")
	mux := h.BuildMux()

	makeReq := func() *http.Request {
		body, _ := json.Marshal(map[string]string{"package_name": "requests", "version": "2.0"})
		req := httptest.NewRequest(http.MethodPost, "/v1/triage", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer secret")
		req.RemoteAddr = "10.0.0.1:5555"
		return req
	}

	rec1 := httptest.NewRecorder()
	mux.ServeHTTP(rec1, makeReq())
	if rec1.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d, want 202; body=%s", rec1.Code, rec1.Body.String())
	}

	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, makeReq())
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429; body=%s", rec2.Code, rec2.Body.String())
	}
}

// Extra top-level fields are a schema violation (422), preventing silent
// override of server-side settings via the request body.
func TestHandleTriage_RejectsUnknownFields(t *testing.T) {
	svc := newTestService(t, nil, 10)
	h := New(svc, "secret")
	mux := h.BuildMux()

	body, _ := json.Marshal(map[string]string{
		"package_name":    "requests",
		"version":         "2.0",
		"max_concurrency": "99",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/triage", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422; body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleTriage_Accepted(t *testing.T) {
	svc := newTestService(t, nil, 10)
	h := New(svc, "secret")
	mux := h.BuildMux()

	body, _ := json.Marshal(map[string]string{"package_name": "requests", "version": "2.0"})
	req := httptest.NewRequest(http.MethodPost, "/v1/triage", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "accepted" || resp["run_id"] == "" {
		t.Errorf("response = %+v, want accepted with a run_id", resp)
	}
}

func TestHandleHealthz(t *testing.T) {
	h := New(nil, "secret")
	mux := h.BuildMux()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %q, want ok", resp["status"])
	}
}
