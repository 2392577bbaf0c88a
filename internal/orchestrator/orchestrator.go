// Package orchestrator implements the two-stage install→execute state
// machine: it drives the Installer and Sandbox Executor external
// contracts, derives audit highlights, builds the merged/compressed
// telemetry attachment and HTML report, dispatches the webhook summary,
// and guarantees every temporary path it produced is gone before it
// returns.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nextlevelbuilder/snakehook-triage/internal/audit"
	"github.com/nextlevelbuilder/snakehook-triage/internal/installer"
	"github.com/nextlevelbuilder/snakehook-triage/internal/job"
	"github.com/nextlevelbuilder/snakehook-triage/internal/sandbox"
)

// Dispatcher is the external contract for delivering a WebhookSummary plus
// its attachments. Defined here (rather than imported from the webhook
// package) to keep the dependency edge pointing outward, matching the
// teacher's handler/adapter split.
type Dispatcher interface {
	Send(ctx context.Context, summary job.WebhookSummary, attachmentPaths []string) error
}

// Orchestrator wires the Installer, Sandbox Executor, and Webhook
// Dispatcher contracts into the state machine described by the run
// lifecycle.
type Orchestrator struct {
	install    installer.Installer
	execute    sandbox.Executor
	dispatcher Dispatcher
}

// New builds an Orchestrator.
func New(install installer.Installer, execute sandbox.Executor, dispatcher Dispatcher) *Orchestrator {
	return &Orchestrator{install: install, execute: execute, dispatcher: dispatcher}
}

// Execute runs j through START→INSTALLING→{FAIL_DISPATCH|OK_DISPATCH|
// EXECUTING→RUN_DISPATCH}→CLEANUP→END, unconditionally removing every
// temporary path it produced before returning.
func (o *Orchestrator) Execute(ctx context.Context, j job.RunJob) job.ExecutionSummary {
	var tempPaths []string
	defer func() {
		for _, p := range tempPaths {
			os.Remove(p)
		}
	}()

	installResult, err := o.install.Install(ctx, j)
	if err != nil {
		slog.Error("installer returned error", "run_id", j.RunID, "err", err)
		installResult = job.InstallResult{OK: false, Stderr: err.Error()}
	}
	if installResult.AuditJSONLPath != "" {
		tempPaths = append(tempPaths, installResult.AuditJSONLPath)
	}

	if !installResult.OK {
		return o.dispatchFailure(ctx, j, installResult, &tempPaths)
	}
	if j.Mode == job.ModeInstall {
		return o.dispatchInstallOK(ctx, j, installResult, &tempPaths)
	}

	sandboxResult, err := o.execute.Run(ctx, j)
	if err != nil {
		slog.Error("sandbox executor returned error", "run_id", j.RunID, "err", err)
		sandboxResult = job.SandboxResult{OK: false, Stderr: err.Error()}
	}
	if sandboxResult.AuditJSONLPath != "" {
		tempPaths = append(tempPaths, sandboxResult.AuditJSONLPath)
	}
	return o.dispatchRun(ctx, j, installResult, sandboxResult, &tempPaths)
}

func (o *Orchestrator) dispatchFailure(ctx context.Context, j job.RunJob, install job.InstallResult, tempPaths *[]string) job.ExecutionSummary {
	message := SummarizeInstallFailure(install.Stdout, install.Stderr)

	highlights := audit.NewHighlights()
	_ = highlights.IngestFile("install", install.AuditJSONLPath)

	attachmentPath, reportPath := o.buildArtifacts(j, highlights, install.AuditJSONLPath, "", message, false, false)
	if attachmentPath != "" {
		*tempPaths = append(*tempPaths, attachmentPath)
	}
	if reportPath != "" {
		*tempPaths = append(*tempPaths, reportPath)
	}

	summary := job.WebhookSummary{
		RunID:       j.RunID,
		PackageName: j.PackageName,
		Version:     j.Version,
		Mode:        j.Mode,
		OK:          false,
		Summary:     message,
		StdoutBytes: len(install.Stdout),
		StderrBytes: len(install.Stderr),
	}
	applyHighlights(&summary, highlights)
	o.dispatch(ctx, summary, attachmentPath, reportPath)

	return job.ExecutionSummary{RunID: j.RunID, OK: false, Message: message, AttachmentPath: attachmentPath}
}

func (o *Orchestrator) dispatchInstallOK(ctx context.Context, j job.RunJob, install job.InstallResult, tempPaths *[]string) job.ExecutionSummary {
	const message = "install ok"

	highlights := audit.NewHighlights()
	_ = highlights.IngestFile("install", install.AuditJSONLPath)

	attachmentPath, reportPath := o.buildArtifacts(j, highlights, install.AuditJSONLPath, "", message, true, false)
	if attachmentPath != "" {
		*tempPaths = append(*tempPaths, attachmentPath)
	}
	if reportPath != "" {
		*tempPaths = append(*tempPaths, reportPath)
	}

	summary := job.WebhookSummary{
		RunID:       j.RunID,
		PackageName: j.PackageName,
		Version:     j.Version,
		Mode:        j.Mode,
		OK:          true,
		Summary:     message,
		StdoutBytes: len(install.Stdout),
		StderrBytes: len(install.Stderr),
	}
	applyHighlights(&summary, highlights)
	o.dispatch(ctx, summary, attachmentPath, reportPath)

	return job.ExecutionSummary{RunID: j.RunID, OK: true, Message: message, AttachmentPath: attachmentPath}
}

func (o *Orchestrator) dispatchRun(ctx context.Context, j job.RunJob, install job.InstallResult, run job.SandboxResult, tempPaths *[]string) job.ExecutionSummary {
	outcome := "ok"
	if !run.OK {
		outcome = "failed"
	}
	timeoutNote := ""
	if run.TimedOut {
		timeoutNote = " (timed out)"
	}
	message := fmt.Sprintf("run %s%s; stdout=%dB stderr=%dB", outcome, timeoutNote, len(run.Stdout), len(run.Stderr))

	highlights := audit.NewHighlights()
	_ = highlights.IngestFile("install", install.AuditJSONLPath)
	_ = highlights.IngestFile("sandbox", run.AuditJSONLPath)

	attachmentPath, reportPath := o.buildArtifacts(j, highlights, install.AuditJSONLPath, run.AuditJSONLPath, message, run.OK, run.TimedOut)
	if attachmentPath != "" {
		*tempPaths = append(*tempPaths, attachmentPath)
	}
	if reportPath != "" {
		*tempPaths = append(*tempPaths, reportPath)
	}

	summary := job.WebhookSummary{
		RunID:       j.RunID,
		PackageName: j.PackageName,
		Version:     j.Version,
		Mode:        j.Mode,
		OK:          run.OK,
		Summary:     message,
		TimedOut:    run.TimedOut,
		StdoutBytes: len(run.Stdout),
		StderrBytes: len(run.Stderr),
		FilePath:    j.FilePath,
		Entrypoint:  j.Entrypoint,
		ModuleName:  j.ModuleName,
	}
	applyHighlights(&summary, highlights)
	o.dispatch(ctx, summary, attachmentPath, reportPath)

	return job.ExecutionSummary{RunID: j.RunID, OK: run.OK, Message: message, AttachmentPath: attachmentPath}
}

// buildArtifacts produces the merged/compressed audit attachment and,
// when any highlight is non-empty, the HTML report. Either return value
// may be empty, meaning that artifact was not produced.
func (o *Orchestrator) buildArtifacts(j job.RunJob, highlights *audit.Highlights, installAuditPath, sandboxAuditPath, message string, ok, timedOut bool) (attachmentPath, reportPath string) {
	attachmentPath, err := buildAttachment(j.RunID, installAuditPath, sandboxAuditPath)
	if err != nil {
		slog.Warn("failed to build telemetry attachment", "run_id", j.RunID, "err", err)
		attachmentPath = ""
	}

	if !anyNonEmpty(
		highlights.FilesWritten.Items(), highlights.FilesRead.Items(),
		highlights.NetworkConnections.Items(), highlights.Subprocesses.Items(),
	) {
		return attachmentPath, ""
	}

	topEvents := formatEventCounts(highlights.TopEvents())
	reportPath = fmt.Sprintf("/tmp/audit-report-%s.html", j.RunID)
	data := ReportData{
		PackageName:    j.PackageName,
		Version:        j.Version,
		Mode:           string(j.Mode),
		RunID:          j.RunID,
		StatusBadge:    StatusBadge(ok, timedOut),
		SummaryMessage: message,
		Cards: buildCards(
			highlights.FilesWritten.Items(), highlights.FilesRead.Items(),
			highlights.NetworkConnections.Items(), highlights.Subprocesses.Items(),
			topEvents,
		),
	}
	if err := RenderReport(reportPath, data); err != nil {
		slog.Warn("failed to render HTML report", "run_id", j.RunID, "err", err)
		return attachmentPath, ""
	}
	return attachmentPath, reportPath
}

func (o *Orchestrator) dispatch(ctx context.Context, summary job.WebhookSummary, attachmentPath, reportPath string) {
	var attachments []string
	if attachmentPath != "" {
		attachments = append(attachments, attachmentPath)
	}
	if reportPath != "" {
		attachments = append(attachments, reportPath)
	}
	if err := o.dispatcher.Send(ctx, summary, attachments); err != nil {
		slog.Warn("webhook dispatch failed", "run_id", summary.RunID, "err", err)
	}
}

func applyHighlights(summary *job.WebhookSummary, h *audit.Highlights) {
	summary.FilesWritten = h.FilesWritten.Items()
	summary.FilesRead = h.FilesRead.Items()
	summary.NetworkConnections = h.NetworkConnections.Items()
	summary.Subprocesses = h.Subprocesses.Items()
	summary.TopEvents = formatEventCounts(h.TopEvents())
}

func formatEventCounts(rows []audit.EventCount) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = fmt.Sprintf("%s (%d)", r.Event, r.Count)
	}
	return out
}
