package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/nextlevelbuilder/snakehook-triage/internal/job"
)

const (
	maxSummaryChars   = 1000
	maxFieldItems     = 10
	maxFieldValueChar = 1000

	colorOK      = 0x2ECC71
	colorFail    = 0xE74C3C
	colorTimeout = 0xF39C12
)

// BuildEmbed renders the single embed describing summary, following the
// field layout and truncation caps of the original Discord webhook client.
func BuildEmbed(summary job.WebhookSummary, attachmentName string) *discordgo.MessageEmbed {
	attachmentNote := ""
	if attachmentName != "" {
		attachmentNote = "\nAttachment: `" + attachmentName + "`"
	}

	color := colorFail
	if summary.OK {
		color = colorOK
	}
	if summary.TimedOut {
		color = colorTimeout
	}

	return &discordgo.MessageEmbed{
		Title:       "Snakehook Triage Result",
		Description: "```text\n" + normalizeSummary(summary.Summary) + "\n```" + attachmentNote,
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Run ID", Value: "`" + summary.RunID + "`", Inline: true},
			{Name: "Status", Value: "`" + statusLabel(summary) + "`", Inline: true},
			{Name: "Mode", Value: "`" + string(summary.Mode) + "`", Inline: true},
			{Name: "Package", Value: "`" + summary.PackageName + "`", Inline: true},
			{Name: "Version", Value: "`" + summary.Version + "`", Inline: true},
			{Name: "Timed Out", Value: "`" + strconv.FormatBool(summary.TimedOut) + "`", Inline: true},
			{
				Name:   "Output",
				Value:  fmt.Sprintf("`stdout=%dB`\n`stderr=%dB`", summary.StdoutBytes, summary.StderrBytes),
				Inline: true,
			},
			{Name: "Run Details", Value: renderRunDetails(summary), Inline: false},
			{Name: "Files Written", Value: renderListField(summary.FilesWritten, "No write events captured."), Inline: false},
			{Name: "Network Connections", Value: renderListField(summary.NetworkConnections, "No connect events captured."), Inline: false},
		},
	}
}

func normalizeSummary(s string) string {
	normalized := strings.Join(strings.Fields(s), " ")
	if len(normalized) > maxSummaryChars {
		normalized = normalized[:maxSummaryChars-3] + "..."
	}
	return strings.ReplaceAll(normalized, "```", "'''")
}

func statusLabel(summary job.WebhookSummary) string {
	if summary.OK {
		return "OK"
	}
	if summary.TimedOut {
		return "FAILED (TIMED OUT)"
	}
	return "FAILED"
}

func renderRunDetails(summary job.WebhookSummary) string {
	var lines []string
	if summary.FilePath != "" {
		lines = append(lines, "`file_path="+summary.FilePath+"`")
	}
	if summary.Entrypoint != "" {
		lines = append(lines, "`entrypoint="+summary.Entrypoint+"`")
	}
	if summary.ModuleName != "" {
		lines = append(lines, "`module_name="+summary.ModuleName+"`")
	}
	if len(lines) == 0 {
		return "No optional run targets provided."
	}
	return strings.Join(lines, "\n")
}

func renderListField(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	shown := items
	if len(shown) > maxFieldItems {
		shown = shown[:maxFieldItems]
	}
	lines := make([]string, 0, len(shown)+1)
	for _, item := range shown {
		lines = append(lines, "• `"+item+"`")
	}
	if len(items) > maxFieldItems {
		lines = append(lines, fmt.Sprintf("• `... +%d more`", len(items)-maxFieldItems))
	}
	rendered := strings.Join(lines, "\n")
	if len(rendered) <= maxFieldValueChar {
		return rendered
	}
	return rendered[:maxFieldValueChar-3] + "..."
}
