// Package installer implements the Installer external contract: install a
// package at a version into a run-scoped site directory, producing an
// audit log when the sandbox mechanism supports one.
//
// The sandbox mechanism itself (namespaces, bind mounts, resource limits)
// is out of scope per spec.md §1; this package builds the command line for
// an opaque sandbox launcher binary and defers enforcement to it.
package installer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/nextlevelbuilder/snakehook-triage/internal/job"
	"github.com/nextlevelbuilder/snakehook-triage/internal/procrunner"
)

// Settings is the subset of configuration the installer needs. Kept
// narrow and duplicated from internal/config's shape so this package has
// no import-time dependency on the config package.
type Settings struct {
	SandboxLauncher  string // argv[0] of the opaque sandbox launcher, e.g. "nsjail"
	SandboxArgs      []string
	RunTimeout       time.Duration
	PipCacheDir      string
	MaxDownloadBytes int64
	SiteRoot         string // install root; shared with the Sandbox Executor's PYTHONPATH
}

// Installer is the external contract the orchestrator depends on.
type Installer interface {
	Install(ctx context.Context, j job.RunJob) (job.InstallResult, error)
}

// Real is the production Installer: it shells out to pip inside the
// sandbox launcher and measures the shared download cache before/after to
// enforce a post-hoc byte budget.
type Real struct {
	runner   *procrunner.Runner
	settings Settings
}

// New builds a Real installer.
func New(runner *procrunner.Runner, settings Settings) *Real {
	return &Real{runner: runner, settings: settings}
}

var pathSafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SitePackagesDir returns the run-scoped install destination for a
// package/version pair, sanitizing both components for filesystem safety.
func SitePackagesDir(root, packageName, version string) string {
	safePkg := pathSafe.ReplaceAllString(packageName, "_")
	safeVersion := pathSafe.ReplaceAllString(version, "_")
	return filepath.Join(root, fmt.Sprintf("%s-%s", safePkg, safeVersion))
}

// InstallAuditPath returns the path the install phase's audit JSONL is
// written to for a given run, matching the "audit-<run_id>*" deletion glob
// spec.md's temp-path invariant relies on.
func InstallAuditPath(runID string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("audit-%s-install.jsonl", runID))
}

// Install runs `pip install --target <site dir> <package>==<version>` under
// the sandbox launcher prefix, then checks the shared pip cache directory's
// growth against MaxDownloadBytes. Packages land in the same run-scoped
// site directory (SitePackagesDir(SiteRoot, package, version)) the Sandbox
// Executor later points PYTHONPATH at. The install audit file, if the
// sandboxed pip invocation produced one, is attached to the result
// regardless of outcome (including a cache-overrun failure — see
// SPEC_FULL.md's Open Question decision).
func (r *Real) Install(ctx context.Context, j job.RunJob) (job.InstallResult, error) {
	before, err := dirSize(r.settings.PipCacheDir)
	if err != nil {
		before = 0
	}

	auditPath := InstallAuditPath(j.RunID)
	siteDir := SitePackagesDir(r.settings.SiteRoot, j.PackageName, j.Version)
	argv := append([]string{r.settings.SandboxLauncher}, r.settings.SandboxArgs...)
	argv = append(argv, "--",
		"python3", "-m", "pip", "install",
		fmt.Sprintf("%s==%s", j.PackageName, j.Version),
		"--target", siteDir,
		"--disable-pip-version-check", "--no-input",
		"--cache-dir", r.settings.PipCacheDir,
	)
	env := procrunner.MinimalEnv("", map[string]string{
		"PIP_CACHE_DIR":        r.settings.PipCacheDir,
		"SNAKEHOOK_AUDIT_PATH": auditPath,
	})

	result := r.runner.Run(ctx, argv, r.settings.RunTimeout, env)
	auditIfPresent := ""
	if _, statErr := os.Stat(auditPath); statErr == nil {
		auditIfPresent = auditPath
	}

	if result.TimedOut || result.ReturnCode != 0 {
		return job.InstallResult{OK: false, Stdout: result.Stdout, Stderr: result.Stderr, AuditJSONLPath: auditIfPresent}, nil
	}

	after, err := dirSize(r.settings.PipCacheDir)
	if err != nil {
		after = before
	}
	delta := after - before
	if delta < 0 {
		delta = 0
	}
	if delta > r.settings.MaxDownloadBytes {
		return job.InstallResult{
			OK:             false,
			Stdout:         result.Stdout,
			Stderr:         fmt.Sprintf("download byte cap exceeded: wrote %d bytes, cap is %d", delta, r.settings.MaxDownloadBytes),
			AuditJSONLPath: auditIfPresent,
		}, nil
	}
	return job.InstallResult{OK: true, Stdout: result.Stdout, Stderr: result.Stderr, AuditJSONLPath: auditIfPresent}, nil
}

func dirSize(root string) (int64, error) {
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort measurement, skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr
		}
		total += info.Size()
		return nil
	})
	return total, err
}
