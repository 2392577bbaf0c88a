// Package lifecycle assembles every component into the running service and
// owns process-level start/stop sequencing as a reusable, testable
// container rather than inline in a cobra Run func.
package lifecycle

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/snakehook-triage/internal/config"
	"github.com/nextlevelbuilder/snakehook-triage/internal/httpapi"
	"github.com/nextlevelbuilder/snakehook-triage/internal/installer"
	"github.com/nextlevelbuilder/snakehook-triage/internal/job"
	"github.com/nextlevelbuilder/snakehook-triage/internal/orchestrator"
	"github.com/nextlevelbuilder/snakehook-triage/internal/policy"
	"github.com/nextlevelbuilder/snakehook-triage/internal/procrunner"
	"github.com/nextlevelbuilder/snakehook-triage/internal/queue"
	"github.com/nextlevelbuilder/snakehook-triage/internal/ratelimit"
	"github.com/nextlevelbuilder/snakehook-triage/internal/sandbox"
	"github.com/nextlevelbuilder/snakehook-triage/internal/submission"
	"github.com/nextlevelbuilder/snakehook-triage/internal/webhook"
)

// defaultSandboxLauncher is the argv[0] of the opaque, externally supplied
// sandbox launcher binary. It is not part of Settings because it names a
// deployment-local binary path, not a tunable knob.
const defaultSandboxLauncher = "nsjail"

// defaultSiteRoot is the run-scoped install root shared between the
// Installer and the Sandbox Executor; same reasoning as defaultSandboxLauncher.
const defaultSiteRoot = "/var/lib/snakehook/sites"

// denylistPollInterval governs how often Start re-applies the watcher's
// current snapshot onto the live Denylist; the watcher itself reloads its
// snapshot from fsnotify events, this just republishes it.
const denylistPollInterval = 2 * time.Second

// buildSandboxArgs translates the four per-child resource caps into the
// launcher's command-line flags, so the validated RLIMIT_*/CGROUP_PIDS_MAX
// settings actually constrain the sandboxed child instead of sitting unused.
func buildSandboxArgs(settings *config.Settings) []string {
	return []string{
		"--rlimit_cpu", strconv.Itoa(settings.RlimitCPUSec),
		"--rlimit_as", strconv.Itoa(settings.RlimitASMb),
		"--rlimit_nofile", strconv.Itoa(settings.RlimitNofile),
		"--cgroup_pids_max", strconv.Itoa(settings.CgroupPidsMax),
	}
}

// Container holds every wired component for the lifetime of one process.
type Container struct {
	settings        *config.Settings
	denylist        *policy.Denylist
	denylistWatcher *config.DenylistWatcher

	pool    *queue.Pool
	service *submission.Service
	handler *httpapi.Handler

	stop context.CancelFunc
}

// Build wires Settings into a runnable Container: denylist, rate limiter,
// webhook dispatcher, installer/sandbox executor, orchestrator, worker
// pool, submission service, and the HTTP handler, in that dependency order.
func Build(settings *config.Settings) (*Container, error) {
	denylist := policy.New(settings.PackageDenylist)

	var watcher *config.DenylistWatcher
	if settings.DenylistFile != "" {
		watcher = config.NewDenylistWatcher(settings.DenylistFile)
		denylist.SetSupplemental(watcher.Entries())
	}

	limiter := ratelimit.New(settings.PerIPRateLimit, time.Duration(settings.PerIPRateWindowSec)*time.Second)

	dispatcher, err := webhook.New(settings.DiscordWebhookURL, 1)
	if err != nil {
		return nil, err
	}

	runner := procrunner.New()
	runTimeout := time.Duration(settings.RunTimeoutSec) * time.Second
	sandboxArgs := buildSandboxArgs(settings)

	install := installer.New(runner, installer.Settings{
		SandboxLauncher:  defaultSandboxLauncher,
		SandboxArgs:      sandboxArgs,
		RunTimeout:       runTimeout,
		PipCacheDir:      settings.PipCacheDir,
		MaxDownloadBytes: int64(settings.MaxDownloadBytes),
		SiteRoot:         defaultSiteRoot,
	})
	execute := sandbox.New(runner, sandbox.Settings{
		SandboxLauncher: defaultSandboxLauncher,
		SandboxArgs:     sandboxArgs,
		RunTimeout:      runTimeout,
		SiteRoot:        defaultSiteRoot,
	})

	orch := orchestrator.New(install, execute, dispatcher)

	c := &Container{settings: settings, denylist: denylist, denylistWatcher: watcher}
	c.pool = queue.New(settings.MaxConcurrency, settings.QueueLimit, c.runHandler(orch))
	c.service = submission.New(denylist, limiter, c.pool)
	c.handler = httpapi.New(c.service, settings.APIToken)

	return c, nil
}

// runHandler adapts the orchestrator into a queue.Handler, logging
// dispatch and completion keyed by run_id.
func (c *Container) runHandler(orch *orchestrator.Orchestrator) queue.Handler {
	return func(j job.RunJob) {
		slog.Info("run dispatched", "run_id", j.RunID, "package", j.PackageName, "mode", j.Mode)
		timeout := time.Duration(c.settings.RunTimeoutSec+30) * time.Second
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		summary := orch.Execute(ctx, j)
		slog.Info("run completed", "run_id", summary.RunID, "ok", summary.OK)
	}
}

// Mux returns the HTTP handler to serve.
func (c *Container) Mux() http.Handler {
	return c.handler.BuildMux()
}

// Start begins background work: the worker pool and, if configured, the
// denylist file watcher. Does not block.
func (c *Container) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	c.pool.Start()

	if c.denylistWatcher == nil {
		return
	}
	go func() {
		if err := c.denylistWatcher.Watch(ctx); err != nil {
			slog.Warn("denylist watcher stopped", "error", err)
		}
	}()
	go c.republishDenylist(ctx)
}

// republishDenylist periodically pushes the watcher's snapshot onto the
// live Denylist so reloads picked up by fsnotify actually take effect on
// the next admission check.
func (c *Container) republishDenylist(ctx context.Context) {
	ticker := time.NewTicker(denylistPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.denylist.SetSupplemental(c.denylistWatcher.Entries())
		}
	}
}

// Stop drains the worker pool and stops the denylist watcher.
func (c *Container) Stop() {
	if c.stop != nil {
		c.stop()
	}
	c.pool.Stop()
}
