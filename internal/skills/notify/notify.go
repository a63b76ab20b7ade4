// Package notify implements the notify.whatsapp skill: severity-tagged
// messages handed off to an external transport.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"sofiapulse/internal/envelope"
	"sofiapulse/internal/skill"
)

// Name is the canonical skill name.
const Name = "notify.whatsapp"

var severityEmoji = map[string]string{
	"info":     "ℹ️",
	"warning":  "⚠️",
	"critical": "🚨",
}

// Options configure the transport.
type Options struct {
	Enabled      bool
	TransportURL string
	AdminTo      string
	Timeout      time.Duration
}

type Skill struct {
	opts   Options
	client *http.Client
}

func New(opts Options) *Skill {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Skill{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

func (s *Skill) Execute(ctx context.Context, in skill.Input) envelope.Envelope {
	start := time.Now()
	p := in.Params

	severity := p.String("severity", "info")
	if severityEmoji[severity] == "" {
		return envelope.Fail(envelope.CodeInvalidInput,
			fmt.Sprintf("invalid severity: %s", severity), start, false)
	}
	title := p.String("title", "")
	if title == "" {
		return envelope.Fail(envelope.CodeInvalidInput, "title is required", start, false)
	}
	message := p.String("message", "")

	to := p.String("to", "admin")
	if to == "admin" {
		to = s.opts.AdminTo
	}
	if to == "" || to == "admin" {
		return envelope.Fail(envelope.CodeInvalidInput,
			"no recipient configured (set SOFIA_WPP_TO)", start, false)
	}

	formatted := FormatMessage(severity, title, message, p.Map("summary"))

	if !s.opts.Enabled {
		return envelope.Ok(map[string]any{
			"sent":      false,
			"to":        to,
			"formatted": formatted,
		}, start, envelope.Note{
			Code:    envelope.WarnWppDisabled,
			Message: "whatsapp transport disabled, message not sent",
		})
	}
	if s.opts.TransportURL == "" {
		return envelope.Fail(envelope.CodeInvalidInput,
			"transport url not configured", start, false)
	}

	if in.DryRun {
		return envelope.Ok(map[string]any{
			"dry_run":   true,
			"to":        to,
			"formatted": formatted,
		}, start)
	}

	status, err := s.post(ctx, to, formatted)
	if err != nil {
		return envelope.Fail(envelope.CodeHTTPRequestFailed,
			fmt.Sprintf("transport: %v", err), start, true)
	}
	if status < 200 || status >= 300 {
		return envelope.Fail(envelope.CodeHTTPRequestFailed,
			fmt.Sprintf("transport returned http %d", status), start, true)
	}

	return envelope.Ok(map[string]any{
		"sent":      true,
		"to":        to,
		"formatted": formatted,
	}, start)
}

func (s *Skill) post(ctx context.Context, to, message string) (int, error) {
	payload, err := json.Marshal(map[string]string{"to": to, "message": message})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.TransportURL,
		bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// FormatMessage renders the canonical notification text. Callers hash this
// exact string for dedupe, so the rendering must stay deterministic:
// summary keys are emitted in sorted order.
func FormatMessage(severity, title, body string, summary skill.Params) string {
	var b strings.Builder
	b.WriteString(severityEmoji[severity])
	b.WriteString(" *")
	b.WriteString(title)
	b.WriteString("*\n")
	if body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}
	if len(summary) > 0 {
		keys := make([]string, 0, len(summary))
		for k := range summary {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "• %s: %v\n", k, summary[k])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
