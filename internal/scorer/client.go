// Package scorer is the HTTP client for the remote fraud probability model.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Retry and timeout policy.
const (
	DefaultPath        = "/predict-fraud"
	DefaultMaxAttempts = 3
	DefaultTimeout     = 5 * time.Second
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 5 * time.Second
)

// Config configures a Client. Zero values take the defaults above.
type Config struct {
	BaseURL     string
	Path        string
	MaxAttempts int
	Timeout     time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls the fraud model service. It is safe for concurrent use.
type Client struct {
	url    string
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a scorer client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("scorer base url is empty")
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		url:    strings.TrimRight(cfg.BaseURL, "/") + cfg.Path,
		cfg:    cfg,
		http:   cfg.HTTPClient,
		logger: cfg.Logger,
		tracer: otel.Tracer("harrier/scorer"),
	}, nil
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string {
	return c.url
}

// Predict returns the fraud probability for tx. After the last failed attempt the
// error matches domain.ErrScorerUnavailable and wraps the last underlying error.
func (c *Client) Predict(ctx context.Context, tx *domain.Transaction) (float64, error) {
	ctx, span := c.tracer.Start(ctx, "scorer.Predict",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("tx.id", tx.ID)),
	)
	defer span.End()

	body, err := json.Marshal(BuildPayload(tx))
	if err != nil {
		span.SetStatus(codes.Error, "encode payload")
		return 0, fmt.Errorf("%w: encode payload: %w", domain.ErrScorerUnavailable, err)
	}

	var lastErr error
retry:
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		prob, err := c.attempt(ctx, body)
		if err == nil {
			metrics.ObserveScorerAttempt(metrics.OutcomeSuccess, time.Since(start))
			span.SetAttributes(
				attribute.Int("scorer.attempts", attempt),
				attribute.Float64("scorer.probability", prob),
			)
			return prob, nil
		}
		lastErr = err

		if attempt == c.cfg.MaxAttempts {
			metrics.ObserveScorerAttempt(metrics.OutcomeFailed, time.Since(start))
			break
		}
		metrics.ObserveScorerAttempt(metrics.OutcomeRetry, time.Since(start))

		delay := Backoff(attempt, c.cfg.BaseBackoff, c.cfg.MaxBackoff)
		c.logger.Debug("scorer attempt failed, retrying",
			"tx_id", tx.ID,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
			break retry
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "scorer unavailable")
	return 0, fmt.Errorf("%w: %w", domain.ErrScorerUnavailable, lastErr)
}

func (c *Client) attempt(ctx context.Context, body []byte) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status %d body=%q", resp.StatusCode, truncateBody(raw))
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return out.Probability(), nil
}

// Backoff returns the delay after a failed attempt (1-based): base doubled per
// attempt, capped at ceiling.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return min(d, ceiling)
}

func truncateBody(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
