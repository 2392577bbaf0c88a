// Package submission implements admission control: the synchronous
// denylist -> rate-limit -> enqueue decision sequence that runs on the
// HTTP request goroutine before a run ID is ever minted.
package submission

import (
	"log/slog"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/snakehook-triage/internal/job"
	"github.com/nextlevelbuilder/snakehook-triage/internal/policy"
	"github.com/nextlevelbuilder/snakehook-triage/internal/queue"
	"github.com/nextlevelbuilder/snakehook-triage/internal/ratelimit"
)

// Status is the outcome of an admission decision.
type Status int

const (
	Accepted Status = iota
	DeniedPackage
	RateLimited
	Overloaded
)

// Result carries the admission outcome. RunID is only populated when
// Status == Accepted.
type Result struct {
	Status Status
	RunID  string
}

// Request is the caller-supplied triage request, already validated at the
// HTTP layer for required fields and length bounds.
type Request struct {
	PackageName string
	Version     string
	Mode        job.Mode
	FilePath    string
	Entrypoint  string
	ModuleName  string
	ClientKey   string // e.g. remote IP; scopes rate limiting
}

// Service runs admission and, on acceptance, submits the job to the worker
// pool.
type Service struct {
	denylist    *policy.Denylist
	rateLimiter *ratelimit.Limiter
	pool        *queue.Pool
}

// New builds a Service wired to the given denylist, rate limiter, and pool.
func New(denylist *policy.Denylist, limiter *ratelimit.Limiter, pool *queue.Pool) *Service {
	return &Service{denylist: denylist, rateLimiter: limiter, pool: pool}
}

// Submit runs the admission sequence: denylist, then rate limit, then
// (only once both pass) mints a run ID and attempts a non-blocking enqueue.
func (s *Service) Submit(req Request) Result {
	if s.denylist.Denied(req.PackageName) {
		return Result{Status: DeniedPackage}
	}
	if !s.rateLimiter.Allow(req.ClientKey, time.Now()) {
		return Result{Status: RateLimited}
	}

	if !ValidVersionString(req.Version) {
		slog.Debug("version is not semver, accepted unchecked", "package", req.PackageName, "version", req.Version)
	}

	runID := newRunID()
	j := job.RunJob{
		RunID:       runID,
		PackageName: req.PackageName,
		Version:     req.Version,
		Mode:        req.Mode,
		FilePath:    req.FilePath,
		Entrypoint:  req.Entrypoint,
		ModuleName:  req.ModuleName,
	}
	if !s.pool.Submit(j) {
		return Result{Status: Overloaded}
	}
	return Result{Status: Accepted, RunID: runID}
}

// newRunID mints a 128-bit random identifier rendered as 32 lowercase hex
// characters, matching spec.md's "opaque unique string" run_id shape.
func newRunID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// ValidVersionString reports whether v parses as a semantic version. This is
// a best-effort ecosystem-equivalent check layered above the HTTP layer's
// plain length bound (see SPEC_FULL.md's Open Question decision); a version
// string that fails this check is not rejected on its own, callers should
// treat it only as a signal worth logging.
func ValidVersionString(v string) bool {
	_, err := semver.NewVersion(v)
	return err == nil
}
