// Package httpfetch implements the http.fetch skill: HTTP requests with
// retry, exponential backoff, per-key rate limiting, and transient-status
// classification.
package httpfetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sofiapulse/internal/envelope"
	"sofiapulse/internal/skill"
)

// Name is the canonical skill name.
const Name = "http.fetch"

const (
	defaultTimeoutMS = 30_000
	defaultRetryMax  = 2
	defaultBackoffMS = 500
	bodyCap          = 50_000
)

// Transient statuses are retried with backoff.
var transientStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Rate-limit state is process-global: the core is single-process, so one
// map keyed on rate_limit_key serialized by a mutex is enough.
var (
	limitersMu sync.Mutex
	limiters   = make(map[string]*rate.Limiter)
)

func limiterFor(key string, rpm int) *rate.Limiter {
	limitersMu.Lock()
	defer limitersMu.Unlock()
	l, ok := limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
		limiters[key] = l
	}
	return l
}

// Skill performs HTTP requests. The zero value is not usable; construct
// with New.
type Skill struct {
	client *http.Client
}

func New() *Skill {
	return &Skill{client: &http.Client{}}
}

// NewWithClient injects a custom HTTP client (tests).
func NewWithClient(c *http.Client) *Skill {
	return &Skill{client: c}
}

func (s *Skill) Execute(ctx context.Context, in skill.Input) envelope.Envelope {
	start := time.Now()
	p := in.Params

	rawURL := p.String("url", "")
	if rawURL == "" {
		return envelope.Fail(envelope.CodeInvalidInput, "url is required", start, false)
	}
	method := strings.ToUpper(p.String("method", http.MethodGet))

	timeoutMS, err := p.Int("timeout_ms", defaultTimeoutMS)
	if err != nil {
		return envelope.Fail(envelope.CodeInvalidInput, err.Error(), start, false)
	}

	retryMax, backoffMS := defaultRetryMax, defaultBackoffMS
	if r := p.Map("retry"); r != nil {
		if retryMax, err = r.Int("max", defaultRetryMax); err != nil {
			return envelope.Fail(envelope.CodeInvalidInput, err.Error(), start, false)
		}
		if backoffMS, err = r.Int("backoff_ms", defaultBackoffMS); err != nil {
			return envelope.Fail(envelope.CodeInvalidInput, err.Error(), start, false)
		}
	}

	finalURL, err := buildURL(rawURL, p.Map("query"))
	if err != nil {
		return envelope.Fail(envelope.CodeInvalidInput, fmt.Sprintf("invalid url: %v", err), start, false)
	}

	body, contentType, err := encodeBody(p["body"])
	if err != nil {
		return envelope.Fail(envelope.CodeInvalidInput, err.Error(), start, false)
	}

	if key := p.String("rate_limit_key", ""); key != "" {
		rpm, err := p.Int("rate_limit_rpm", 60)
		if err != nil || rpm <= 0 {
			return envelope.Fail(envelope.CodeInvalidInput, "rate_limit_rpm must be a positive integer", start, false)
		}
		if err := limiterFor(key, rpm).Wait(ctx); err != nil {
			return envelope.Fail(envelope.CodeTimeout, fmt.Sprintf("rate limit wait: %v", err), start, true)
		}
	}

	if in.DryRun {
		return envelope.Ok(map[string]any{
			"dry_run": true,
			"url":     finalURL,
			"method":  method,
		}, start)
	}

	timeout := time.Duration(timeoutMS) * time.Millisecond
	var lastTimeout bool
	var lastErr string

	for attempt := 0; attempt <= retryMax; attempt++ {
		resp, err := s.attempt(ctx, method, finalURL, body, contentType, p.Map("headers"), timeout)
		if err != nil {
			lastTimeout = errors.Is(err, context.DeadlineExceeded) ||
				strings.Contains(err.Error(), "Client.Timeout")
			lastErr = err.Error()
			if attempt < retryMax {
				sleepBackoff(ctx, backoffMS, attempt, "")
				continue
			}
			break
		}

		status := resp.StatusCode
		bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, bodyCap+1))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr.Error()
			if attempt < retryMax {
				sleepBackoff(ctx, backoffMS, attempt, "")
				continue
			}
			break
		}

		switch {
		case status >= 200 && status < 300:
			return success(start, status, resp.Header, bodyBytes, p.Bool("expect_json", false))
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return envelope.Fail(envelope.CodeHTTPAuthFailed,
				fmt.Sprintf("http %d from %s", status, finalURL), start, false)
		case transientStatus[status]:
			lastTimeout = false
			lastErr = fmt.Sprintf("http %d from %s", status, finalURL)
			if attempt < retryMax {
				sleepBackoff(ctx, backoffMS, attempt, resp.Header.Get("Retry-After"))
				continue
			}
			return envelope.Fail(envelope.CodeHTTPRequestFailed, lastErr, start, true)
		default:
			return envelope.Fail(envelope.CodeHTTPRequestFailed,
				fmt.Sprintf("http %d from %s", status, finalURL), start, false)
		}
	}

	if lastTimeout {
		return envelope.Fail(envelope.CodeTimeout, lastErr, start, true)
	}
	return envelope.Fail(envelope.CodeHTTPRequestFailed, lastErr, start, true)
}

func (s *Skill) attempt(ctx context.Context, method, u string, body []byte, contentType string, headers skill.Params, timeout time.Duration) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := func() (*http.Response, error) {
		var rd io.Reader
		if len(body) > 0 {
			rd = strings.NewReader(string(body))
		}
		req, err := http.NewRequestWithContext(reqCtx, method, u, rd)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for k := range headers {
			req.Header.Set(k, headers.String(k, ""))
		}
		return s.client.Do(req)
	}()
	if err != nil {
		cancel()
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	// Tie cancel to body close so the response stays readable.
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func success(start time.Time, status int, hdr http.Header, body []byte, expectJSON bool) envelope.Envelope {
	truncated := false
	if len(body) > bodyCap {
		body = body[:bodyCap]
		truncated = true
	}

	headers := make(map[string]string, len(hdr))
	for k := range hdr {
		headers[k] = hdr.Get(k)
	}

	data := map[string]any{
		"status":    status,
		"headers":   headers,
		"body":      string(body),
		"truncated": truncated,
	}

	ct := hdr.Get("Content-Type")
	if expectJSON || strings.Contains(ct, "json") {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			data["json"] = parsed
		}
	}
	return envelope.Ok(data, start)
}

func buildURL(raw string, query skill.Params) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func encodeBody(v any) ([]byte, string, error) {
	switch b := v.(type) {
	case nil:
		return nil, "", nil
	case string:
		return []byte(b), "", nil
	case map[string]any:
		enc, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		return enc, "application/json", nil
	default:
		return nil, "", fmt.Errorf("body must be a string or an object, got %T", v)
	}
}

// backoffDelay computes backoff_ms * 2^attempt plus up to 25% jitter so
// concurrent retries against one upstream fan out. A numeric Retry-After
// header overrides the computed delay.
func backoffDelay(backoffMS, attempt int, retryAfter string) time.Duration {
	d := time.Duration(backoffMS) * time.Millisecond << uint(attempt)
	if d > 0 {
		d += time.Duration(rand.Int63n(int64(d)/4 + 1))
	}
	if retryAfter != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
			d = time.Duration(secs) * time.Second
		}
	}
	return d
}

// sleepBackoff sleeps for the computed delay, returning early on context
// cancellation.
func sleepBackoff(ctx context.Context, backoffMS, attempt int, retryAfter string) {
	t := time.NewTimer(backoffDelay(backoffMS, attempt, retryAfter))
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
