// Package httpapi exposes the triage service's single admission endpoint
// and health check over net/http, translating admission-pipeline outcomes
// into HTTP status codes per the API contract.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/snakehook-triage/internal/job"
	"github.com/nextlevelbuilder/snakehook-triage/internal/policy"
	"github.com/nextlevelbuilder/snakehook-triage/internal/submission"
)

// Handler wires the Submission Service behind the HTTP contract.
type Handler struct {
	service *submission.Service
	token   string
}

// New builds a Handler. token is the bearer token required on every
// request to POST /v1/triage.
func New(service *submission.Service, token string) *Handler {
	return &Handler{service: service, token: token}
}

// BuildMux returns the configured *http.ServeMux using Go 1.22+
// method-pattern routing.
func (h *Handler) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/triage", h.authMiddleware(h.handleTriage))
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	return mux
}

func (h *Handler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next(w, r)
	}
}

func extractBearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

type triageRequest struct {
	PackageName string `json:"package_name"`
	Version     string `json:"version"`
	Mode        string `json:"mode"`
	FilePath    string `json:"file_path"`
	Entrypoint  string `json:"entrypoint"`
	ModuleName  string `json:"module_name"`
}

func (h *Handler) handleTriage(w http.ResponseWriter, r *http.Request) {
	body, err := decodeJSONAny(r)
	if err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "request body must be a JSON object: "+err.Error())
		return
	}
	if err := requestSchema.Validate(body); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "schema validation failed: "+err.Error())
		return
	}

	var req triageRequest
	encoded, _ := json.Marshal(body)
	if err := json.Unmarshal(encoded, &req); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "request body does not match expected shape")
		return
	}

	mode := job.Mode(req.Mode)
	if mode == "" {
		mode = job.ModeInstall
	}

	result := h.service.Submit(submission.Request{
		PackageName: req.PackageName,
		Version:     req.Version,
		Mode:        mode,
		FilePath:    req.FilePath,
		Entrypoint:  req.Entrypoint,
		ModuleName:  req.ModuleName,
		ClientKey:   clientKey(r),
	})

	switch result.Status {
	case submission.DeniedPackage:
		slog.Warn("admission rejected: package denied", "package", policy.Normalize(req.PackageName))
		writeJSONError(w, http.StatusTooManyRequests, "package is denied")
	case submission.RateLimited:
		slog.Warn("admission rejected: rate limit exceeded", "client", clientKey(r))
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case submission.Overloaded:
		slog.Warn("admission rejected: queue full", "package", req.PackageName)
		writeJSONError(w, http.StatusServiceUnavailable, "queue full")
	case submission.Accepted:
		slog.Info("run accepted", "run_id", result.RunID, "package", req.PackageName, "mode", mode)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id": result.RunID,
			"status": "accepted",
		})
	default:
		slog.Error("submission returned unknown status", "status", result.Status)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSONAny(r *http.Request) (interface{}, error) {
	var v interface{}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
