// Package probe checks that an agent's endpoint and credential work, and
// lists the models an endpoint offers.
//
// Both operations issue the same request: a model listing in the wire
// protocol of the agent kind (Anthropic, OpenAI, or Gemini). Failures are
// never returned as Go errors; they are classified into a Category so the
// caller can tell a bad key from a dead proxy.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/codec"
)

// DefaultTimeout bounds a single probe or catalog page request.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 4 << 20

// maxMessageLen caps provider error messages copied into a Result.
const maxMessageLen = 200

// Category classifies the outcome of a probe.
type Category string

const (
	CategoryNone            Category = "none"
	CategoryAuthFailure     Category = "auth_failure"
	CategoryNetworkFailure  Category = "network_failure"
	CategoryEndpointInvalid Category = "endpoint_invalid"
	CategoryTimeout         Category = "timeout"
)

// Result is the outcome of a connectivity test. Success implies Category
// is CategoryNone.
type Result struct {
	Success    bool          `json:"success"`
	Category   Category      `json:"category"`
	StatusCode int           `json:"status_code,omitempty"`
	Message    string        `json:"message,omitempty"`
	Latency    time.Duration `json:"latency_ns"`
}

func success(status int, msg string, latency time.Duration) Result {
	return Result{Success: true, Category: CategoryNone, StatusCode: status, Message: msg, Latency: latency}
}

func failure(c Category, status int, msg string, latency time.Duration) Result {
	return Result{Category: c, StatusCode: status, Message: msg, Latency: latency}
}

// Options configures a Client.
type Options struct {
	// HTTPClient overrides the transport (tests). Its own Timeout is left
	// alone; the per-request bound comes from Timeout below.
	HTTPClient *http.Client
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Client issues probe and catalog requests. Safe for concurrent use.
type Client struct {
	http    *http.Client
	timeout time.Duration
}

// New creates a Client.
func New(opts Options) *Client {
	c := &Client{http: opts.HTTPClient, timeout: opts.Timeout}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c
}

// Timeout returns the per-request bound.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Probe tests whether s's endpoint accepts s's credential, using the wire
// protocol of kind. The request is bounded by the client timeout and by
// ctx. Probe has no side effects on disk.
func (c *Client) Probe(ctx context.Context, kind agent.Kind, s codec.Settings) Result {
	info, ok := agent.Lookup(kind)
	if !ok {
		return failure(CategoryEndpointInvalid, 0, fmt.Sprintf("unknown agent kind %q", kind), 0)
	}
	page := c.fetch(ctx, Request{
		Endpoint: s.EndpointURL,
		APIKey:   s.APIKey,
		Protocol: info.Protocol,
		PageSize: 1,
	})

	r := page.Result
	if r.Success && s.Model != "" && len(page.Models) > 0 && page.NextPageToken == "" && !page.has(s.Model) {
		// The credential works; the configured model is just not listed.
		r.Message = fmt.Sprintf("authenticated; model %q not in endpoint listing", s.Model)
	}
	slog.Debug("probe finished",
		"agent", kind,
		"endpoint", s.EndpointURL,
		"success", r.Success,
		"category", r.Category,
		"status", r.StatusCode,
		"latency", r.Latency,
	)
	return r
}

// Request describes one model-listing request.
type Request struct {
	Endpoint string
	APIKey   string
	Protocol agent.Protocol
	// PageToken resumes a listing where a previous page ended.
	PageToken string
	// PageSize hints the page size to protocols that paginate. Zero leaves
	// it to the server.
	PageSize int
}

// fetch performs a single listing request and classifies the outcome.
func (c *Client) fetch(ctx context.Context, req Request) Page {
	u, err := modelsURL(req.Endpoint, req.Protocol, req.PageToken, req.PageSize)
	if err != nil {
		return Page{Result: failure(CategoryEndpointInvalid, 0, err.Error(), 0)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{Result: failure(CategoryEndpointInvalid, 0, err.Error(), 0)}
	}
	setAuth(httpReq, req.Protocol, req.APIKey)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Page{Result: classifyTransport(ctx, err, time.Since(start))}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	latency := time.Since(start)
	if err != nil {
		return Page{Result: classifyTransport(ctx, err, latency)}
	}

	if r, done := classifyStatus(resp.StatusCode, body, latency); done {
		return Page{Result: r}
	}

	models, next, ok := parseModels(body, req.Protocol)
	if !ok {
		return Page{Result: failure(CategoryEndpointInvalid, resp.StatusCode,
			"endpoint did not return a model listing", latency)}
	}
	return Page{
		Models:        models,
		NextPageToken: next,
		Result:        success(resp.StatusCode, "", latency),
	}
}

// classifyStatus maps a non-2xx status to a Result. done is false for 2xx,
// where the body still has to be parsed.
func classifyStatus(status int, body []byte, latency time.Duration) (r Result, done bool) {
	msg := truncate(errorMessage(body))
	withStatus := func(prefix string) string {
		if msg == "" {
			return fmt.Sprintf("%s (HTTP %d)", prefix, status)
		}
		return fmt.Sprintf("%s (HTTP %d): %s", prefix, status, msg)
	}

	switch {
	case status >= 200 && status < 300:
		return Result{}, false
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusProxyAuthRequired:
		return failure(CategoryAuthFailure, status, withStatus("credential rejected"), latency), true
	case status == http.StatusTooManyRequests:
		// Rate limiting happens after authentication.
		return success(status, withStatus("rate limited"), latency), true
	case status == http.StatusBadRequest && looksLikeKeyError(msg):
		// Gemini reports a bad key as 400 API_KEY_INVALID.
		return failure(CategoryAuthFailure, status, withStatus("credential rejected"), latency), true
	case status >= 500:
		return failure(CategoryNetworkFailure, status, withStatus("upstream error"), latency), true
	default:
		return failure(CategoryEndpointInvalid, status, withStatus("unexpected response"), latency), true
	}
}

func looksLikeKeyError(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "api key") || strings.Contains(m, "api_key")
}

// classifyTransport maps a transport-level error to a Result.
func classifyTransport(ctx context.Context, err error, latency time.Duration) Result {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failure(CategoryTimeout, 0, "request timed out", latency)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return failure(CategoryTimeout, 0, "request timed out", latency)
	}
	if errors.Is(err, context.Canceled) {
		return failure(CategoryNetworkFailure, 0, "request cancelled", latency)
	}
	return failure(CategoryNetworkFailure, 0, truncate(err.Error()), latency)
}

// truncate caps s at maxMessageLen bytes without splitting a rune, and
// replaces invalid UTF-8 from the upstream body.
func truncate(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxMessageLen {
		return s
	}
	cut := maxMessageLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
