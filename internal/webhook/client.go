// Package webhook dispatches triage summaries to a Discord incoming
// webhook: a structured embed plus any telemetry/report attachments.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/snakehook-triage/internal/job"
)

var webhookURLPattern = regexp.MustCompile(`/webhooks/(\d+)/([^/?]+)`)

// Client is the production Webhook Dispatcher: it POSTs a Discord embed
// plus attachments for every completed run, best-effort — Send returns a
// failure as an error, which the orchestrator logs and does not propagate.
type Client struct {
	session    *discordgo.Session
	webhookID  string
	webhookTok string
	limiter    *rate.Limiter
}

// New builds a Client from a full Discord webhook URL
// ("https://discord.com/api/webhooks/<id>/<token>"). ratePerSecond paces
// outbound POSTs to stay under Discord's rate limit for a single webhook.
func New(webhookURL string, ratePerSecond float64) (*Client, error) {
	m := webhookURLPattern.FindStringSubmatch(webhookURL)
	if m == nil {
		return nil, fmt.Errorf("webhook: malformed webhook URL")
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("webhook: creating discord session: %w", err)
	}
	return &Client{
		session:    session,
		webhookID:  m[1],
		webhookTok: m[2],
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), 1),
	}, nil
}

// Send implements orchestrator.Dispatcher. Every opened attachment file
// handle is closed on every exit path, including an early return from a
// rate-limiter wait error.
func (c *Client) Send(ctx context.Context, summary job.WebhookSummary, attachmentPaths []string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook: rate limiter wait: %w", err)
	}

	var files []*discordgo.File
	var attachmentName string
	for i, path := range attachmentPaths {
		f, err := os.Open(path)
		if err != nil {
			slog.Warn("webhook attachment missing, sending without it", "run_id", summary.RunID, "path", path)
			continue
		}
		defer f.Close()
		name := filepath.Base(path)
		if i == 0 {
			attachmentName = name
		}
		files = append(files, &discordgo.File{
			Name:        name,
			ContentType: contentTypeFor(name),
			Reader:      f,
		})
	}

	embed := BuildEmbed(summary, attachmentName)
	params := &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
		Files:  files,
	}

	slog.Info("posting discord summary", "run_id", summary.RunID, "has_attachment", len(files) > 0)
	_, err := c.session.WebhookExecute(c.webhookID, c.webhookTok, false, params)
	if err != nil {
		return fmt.Errorf("webhook: execute: %w", err)
	}
	return nil
}

func contentTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(name, ".html"):
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
