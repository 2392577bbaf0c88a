// Package sandbox implements the Sandbox Executor external contract:
// running an already-installed package under one of three modes inside an
// opaque, already-isolated launcher process.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/snakehook-triage/internal/installer"
	"github.com/nextlevelbuilder/snakehook-triage/internal/job"
	"github.com/nextlevelbuilder/snakehook-triage/internal/procrunner"
)

// Settings mirrors installer.Settings for the knobs the sandbox launcher
// needs; kept as its own type so this package has no compile-time coupling
// to internal/config.
type Settings struct {
	SandboxLauncher string
	SandboxArgs     []string
	RunTimeout      time.Duration
	SiteRoot        string // install root shared with the Installer
}

// Executor is the external contract the orchestrator depends on.
type Executor interface {
	Run(ctx context.Context, j job.RunJob) (job.SandboxResult, error)
}

// Real is the production Sandbox Executor.
type Real struct {
	runner   *procrunner.Runner
	settings Settings
}

// New builds a Real sandbox executor.
func New(runner *procrunner.Runner, settings Settings) *Real {
	return &Real{runner: runner, settings: settings}
}

// AuditPath returns the path the sandbox run's audit JSONL is written to.
func AuditPath(runID string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("audit-%s.jsonl", runID))
}

// Run executes job under the configured mode. install-mode jobs must never
// reach this method — the orchestrator skips the execute stage entirely for
// them (spec.md §4.7).
func (e *Real) Run(ctx context.Context, j job.RunJob) (job.SandboxResult, error) {
	if j.Mode == job.ModeInstall {
		return job.SandboxResult{}, fmt.Errorf("sandbox: Run must not be called for mode=install (run_id=%s)", j.RunID)
	}

	auditPath := AuditPath(j.RunID)
	entrypointScript := buildEntrypointScript(j, auditPath)

	argv := append([]string{e.settings.SandboxLauncher}, e.settings.SandboxArgs...)
	argv = append(argv, "--", "python3", "-c", entrypointScript)

	siteDir := installer.SitePackagesDir(e.settings.SiteRoot, j.PackageName, j.Version)
	env := procrunner.MinimalEnv("", map[string]string{"PYTHONPATH": siteDir})

	result := e.runner.Run(ctx, argv, e.settings.RunTimeout, env)

	return job.SandboxResult{
		OK:             !result.TimedOut && result.ReturnCode == 0,
		Stdout:         result.Stdout,
		Stderr:         result.Stderr,
		TimedOut:       result.TimedOut,
		AuditJSONLPath: auditPath,
	}, nil
}

// maxAuditBytes caps the in-sandbox audit hook's own output so a
// pathologically chatty package can't fill the disk before the outer
// process timeout fires.
const maxAuditBytes = 5_000_000

// buildEntrypointScript renders the Python driver script run inside the
// sandbox: it installs a sys.addaudithook writing event+args JSONL
// records to auditPath, then dispatches to the requested run mode.
func buildEntrypointScript(j job.RunJob, auditPath string) string {
	return fmt.Sprintf(`
import importlib
import importlib.metadata
import json
import runpy
import sys

mode = %q
package_name = %q
file_path = %q
entrypoint = %q
module_name = %q
limit = %d
written = 0
f = open(%q, "w", encoding="utf-8")

def _hook(event, args):
    global written
    if written >= limit:
        return
    try:
        line = json.dumps({"event": event, "args": repr(args)}) + "\n"
    except Exception:
        return
    remaining = limit - written
    chunk = line[:remaining]
    f.write(chunk)
    written += len(chunk)

sys.addaudithook(_hook)

def _normalize_name(value):
    return value.replace("-", "_").lower()

def _resolve_attr(value, attr_path):
    current = value
    for name in attr_path.split("."):
        current = getattr(current, name)
    return current

def _call_entrypoint(spec):
    if ":" in spec:
        module_name, attr_path = spec.split(":", 1)
        fn = _resolve_attr(importlib.import_module(module_name), attr_path)
        result = fn()
        if isinstance(result, int):
            raise SystemExit(result)
        return
    for candidate in importlib.metadata.entry_points(group="console_scripts"):
        if candidate.name == spec:
            _call_entrypoint(candidate.value)
            return
    raise RuntimeError(f"console entrypoint not found: {spec}")

def _auto_console_entrypoint(package):
    package_norm = _normalize_name(package)
    candidates = []
    for item in importlib.metadata.entry_points(group="console_scripts"):
        if _normalize_name(item.name) == package_norm:
            return item.value
        if _normalize_name(item.name).startswith(package_norm):
            candidates.append(item.value)
    if candidates:
        return candidates[0]
    return None

def _run_module_default(package, requested_module):
    if requested_module:
        runpy.run_module(requested_module, run_name="__main__", alter_sys=True)
        return
    runpy.run_module(package.replace("-", "_"), run_name="__main__", alter_sys=True)

if mode == "execute":
    if file_path:
        runpy.run_path(file_path, run_name="__main__")
    elif entrypoint:
        _call_entrypoint(entrypoint)
    else:
        auto_spec = _auto_console_entrypoint(package_name)
        if auto_spec is None:
            raise RuntimeError("no console script entrypoint found for package")
        _call_entrypoint(auto_spec)
elif mode == "execute_module":
    if file_path:
        runpy.run_path(file_path, run_name="__main__")
    elif entrypoint:
        _call_entrypoint(entrypoint)
    else:
        _run_module_default(package_name, module_name)
`, j.Mode, j.PackageName, j.FilePath, j.Entrypoint, j.ModuleName, maxAuditBytes, auditPath)
}
