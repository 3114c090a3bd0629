// Package analysis implements the client for the remote wildlife analysis
// service. Every failure it returns is classified through the taxonomy in
// internal/errors so the sync engine can decide between retrying and
// dropping a submission.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	stagerrors "github.com/Asgard-Solutions/ironstag-sub000/internal/errors"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/httpclient"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/logging"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/observability"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/outbox"
)

const (
	// DefaultTimeout bounds one submit round-trip, upload included.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxResponseBytes bounds how much of a response body is read.
	DefaultMaxResponseBytes = 1 << 20

	defaultAnalyzePath = "/api/analyze"

	// errorBodySnippet caps how much of an error body lands in messages.
	errorBodySnippet = 512
)

// Config configures the analysis client.
type Config struct {
	// BaseURL of the analysis service, without a trailing slash.
	BaseURL string
	// AnalyzePath is the submit endpoint path. Defaults to /api/analyze.
	AnalyzePath string
	// Timeout bounds one round-trip. Defaults to DefaultTimeout.
	Timeout time.Duration
	// MaxResponseBytes caps response reads. Defaults to DefaultMaxResponseBytes.
	MaxResponseBytes int64
}

// Client submits queued captures to the analysis service. It satisfies
// outbox.Submitter.
type Client struct {
	cfg        Config
	tokens     TokenSource
	httpClient *http.Client
	logger     logging.Logger
	metrics    *observability.MetricsCollector
	tracer     *observability.TracerProvider
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(logger) }
}

// WithMetrics attaches the agent metrics collector.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(c *Client) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithTracer attaches a tracer; each submit then runs inside a span.
func WithTracer(tracer *observability.TracerProvider) Option {
	return func(c *Client) { c.tracer = tracer }
}

// WithHTTPClient replaces the default breaker-guarded HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds a client for the given service. The transport is
// guarded by a circuit breaker, so a flapping backend is suspended
// instead of hammered; requests rejected by the open breaker surface as
// transient errors.
func NewClient(cfg Config, tokens TokenSource, opts ...Option) *Client {
	if cfg.AnalyzePath == "" {
		cfg.AnalyzePath = defaultAnalyzePath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if tokens == nil {
		tokens = StaticToken("")
	}

	c := &Client{
		cfg:     cfg,
		tokens:  tokens,
		logger:  logging.Nop(),
		metrics: &observability.MetricsCollector{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = httpclient.NewWithCircuitBreaker(cfg.Timeout, c.logger, "analysis-api")
	}
	return c
}

type analyzeRequest struct {
	ImageBase64  string `json:"image_base64"`
	LocalImageID string `json:"local_image_id"`
	Notes        string `json:"notes,omitempty"`
}

type analyzeResponse struct {
	ID string `json:"id"`
}

// Submit uploads one submission and returns the remote analysis ID.
// A missing or unreadable local image is a permanent failure: the
// submission can never succeed, no matter how often it is retried.
func (c *Client) Submit(ctx context.Context, sub outbox.Submission) (string, error) {
	ctx = observability.ContextWithSubmissionID(ctx, sub.ID)
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.StartSpan(ctx, observability.SpanRemoteSubmit,
			observability.SubmissionAttrs(sub.ID)...)
		defer span.End()
	}

	data, err := os.ReadFile(sub.ImagePath)
	if err != nil {
		return "", stagerrors.NewPermanentError(err,
			fmt.Sprintf("local image %s unreadable at %s", sub.LocalImageID, sub.ImagePath))
	}

	payload, err := json.Marshal(analyzeRequest{
		ImageBase64:  base64.StdEncoding.EncodeToString(data),
		LocalImageID: sub.LocalImageID,
		Notes:        sub.Notes,
	})
	if err != nil {
		return "", stagerrors.NewPermanentError(err, "encode analyze request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+c.cfg.AnalyzePath, bytes.NewReader(payload))
	if err != nil {
		return "", stagerrors.NewPermanentError(err, "build analyze request")
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		// The host may still be refreshing credentials; worth another pass.
		return "", stagerrors.NewTransientError(err, "bearer token unavailable")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordRemoteCall(ctx, "transport_error", time.Since(start))
		if stagerrors.IsTransient(err) {
			// Already classified: breaker rejections, timeouts, resets.
			return "", err
		}
		return "", stagerrors.NewTransientError(err, fmt.Sprintf("analyze request failed: %v", err))
	}
	defer resp.Body.Close()

	body, readErr := httpclient.ReadAllWithLimit(resp.Body, c.cfg.MaxResponseBytes)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.metrics.RecordRemoteCall(ctx, strconv.Itoa(resp.StatusCode), time.Since(start))
		return "", stagerrors.ClassifyHTTPStatus(resp.StatusCode, snippet(body))
	}
	if readErr != nil {
		c.metrics.RecordRemoteCall(ctx, "read_error", time.Since(start))
		return "", stagerrors.NewTransientError(readErr, "analyze response unreadable")
	}

	var out analyzeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		c.metrics.RecordRemoteCall(ctx, "decode_error", time.Since(start))
		return "", stagerrors.NewTransientError(err, "analyze response malformed")
	}
	if out.ID == "" {
		c.metrics.RecordRemoteCall(ctx, "decode_error", time.Since(start))
		return "", stagerrors.NewTransientError(nil, "analyze response missing id")
	}

	c.metrics.RecordRemoteCall(ctx, "ok", time.Since(start))
	c.logger.Debug("Submission %s accepted by %s as %s", sub.ID, c.cfg.BaseURL, out.ID)
	return out.ID, nil
}

// snippet truncates an error body for messages and logs.
func snippet(body []byte) string {
	if len(body) > errorBodySnippet {
		return string(body[:errorBodySnippet]) + "..."
	}
	return string(body)
}
