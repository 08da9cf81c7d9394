// Package output delivers finished coverage reports to notification channels.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"tracecov/internal/config"
	"tracecov/internal/models"
)

// ErrWebhookNotConfigured is returned when no Slack webhook URL is set.
var ErrWebhookNotConfigured = errors.New("slack webhook URL not configured")

// maxListedServices caps the per-service lines in one message.
const maxListedServices = 10

// SlackSender posts coverage summaries to a Slack incoming webhook.
type SlackSender struct {
	webhookURL string
	client     *http.Client
}

// NewSlackSender initializes a SlackSender with a configured webhook URL and HTTP client.
func NewSlackSender(webhookURL string) *SlackSender {
	return &SlackSender{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewSlackSenderFromConfig returns a sender for cfg, or nil when Slack output
// is disabled.
func NewSlackSenderFromConfig(cfg config.SlackOutputConfig) *SlackSender {
	if !cfg.Enabled {
		return nil
	}
	return NewSlackSender(cfg.WebhookURL)
}

// SlackBlock represents a Slack message block
type SlackBlock struct {
	Type     string       `json:"type"`
	Text     *SlackText   `json:"text,omitempty"`
	Fields   []SlackField `json:"fields,omitempty"`
	Elements []SlackText  `json:"elements,omitempty"`
}

// SlackText represents text in Slack
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SlackField represents a field in Slack
type SlackField struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SlackMessage represents a Slack message
type SlackMessage struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks"`
}

// SendReport posts the summary of a coverage report.
func (s *SlackSender) SendReport(ctx context.Context, r *models.Report) error {
	if s.webhookURL == "" {
		return ErrWebhookNotConfigured
	}

	body, err := json.Marshal(BuildReportMessage(r))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status: %d", resp.StatusCode)
	}

	return nil
}

// BuildReportMessage constructs a Slack block kit payload from a report.
func BuildReportMessage(r *models.Report) SlackMessage {
	sm := r.Summary
	emoji := "✅"
	if sm.TotalServices == 0 {
		emoji = "⚠️"
	} else if sm.MethodCoveragePercentage < 100 {
		emoji = "📊"
	}

	title := fmt.Sprintf("%s Coverage: %s", emoji, r.TestRunID)
	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{Type: "plain_text", Text: title},
		},
		{
			Type: "section",
			Fields: []SlackField{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Services:*\n%d/%d (%.2f%%)", sm.CoveredServices, sm.TotalServices, sm.ServiceCoveragePercentage),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Methods:*\n%d/%d (%.2f%%)", sm.CoveredMethods, sm.TotalMethods, sm.MethodCoveragePercentage),
				},
			},
		},
	}

	if len(r.Services) > 0 {
		names := make([]string, 0, len(r.Services))
		for name := range r.Services {
			names = append(names, name)
		}
		sort.Strings(names)

		var lines []string
		for i, name := range names {
			if i == maxListedServices {
				lines = append(lines, fmt.Sprintf("_and %d more_", len(names)-maxListedServices))
				break
			}
			svc := r.Services[name]
			lines = append(lines, fmt.Sprintf("• `%s` %d methods (%.2f%%)", name, len(svc.Methods), svc.CoveragePercentage))
		}

		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: strings.Join(lines, "\n")},
		})
	}

	blocks = append(blocks,
		SlackBlock{Type: "divider"},
		SlackBlock{
			Type: "context",
			Elements: []SlackText{{
				Type: "mrkdwn",
				Text: fmt.Sprintf("Window: %s to %s | Generated: %s",
					r.TimeRange.Start.Format(time.RFC3339),
					r.TimeRange.End.Format(time.RFC3339),
					r.Timestamp.Format(time.RFC3339),
				),
			}},
		},
	)

	return SlackMessage{Text: title, Blocks: blocks}
}
