// Package panel is a client for the panel's application API, the remote
// control plane that actually creates, resizes and deletes servers.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxErrorBody = 64 << 10

// Config holds panel client configuration
type Config struct {
	BaseURL      string        `yaml:"url" validate:"required,url"`
	APIKey       string        `yaml:"apiKey" validate:"required"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryMax     int           `yaml:"retryMax" validate:"min=0"`
	RetryWaitMin time.Duration `yaml:"retryWaitMin"`
	RetryWaitMax time.Duration `yaml:"retryWaitMax"`
	RateLimit    float64       `yaml:"rateLimit" validate:"min=0"` // requests per second, 0 = unlimited
	Burst        int           `yaml:"burst" validate:"min=0"`
}

// DefaultConfig returns default panel client configuration
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
		RateLimit:    10,
		Burst:        20,
	}
}

// Client talks to the panel application API. It knows nothing about ledgers.
type Client struct {
	baseURL string
	apiKey  string
	logger  *zap.Logger

	// retrying is used for reads and idempotent writes, once for creates
	retrying *retryablehttp.Client
	once     *retryablehttp.Client
}

// NewClient creates a new panel client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("panel")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &limitedTransport{
			limiter: limiter,
			next:    http.DefaultTransport.(*http.Transport).Clone(),
		},
	}

	newClient := func(retryMax int) *retryablehttp.Client {
		rc := retryablehttp.NewClient()
		rc.HTTPClient = httpClient
		rc.RetryMax = retryMax
		rc.RetryWaitMin = cfg.RetryWaitMin
		rc.RetryWaitMax = cfg.RetryWaitMax
		rc.CheckRetry = retryablehttp.DefaultRetryPolicy
		// Hand the last response back so it can be classified
		rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
		rc.Logger = leveledLogger{logger.Sugar()}
		return rc
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/") + "/api/application",
		apiKey:   cfg.APIKey,
		logger:   logger,
		retrying: newClient(cfg.RetryMax),
		once:     newClient(0),
	}
}

// do sends a request and decodes a 2xx body into out. Failures are
// classified into TransientError, NotFoundError and PermanentError.
func (c *Client) do(ctx context.Context, hc *retryablehttp.Client, op, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, bytesOrNil(raw))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "Application/vnd.pterodactyl.v1+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		c.logger.Warn("panel request failed",
			zap.String("op", op),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return &TransientError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("panel request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
		return nil
	}

	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	code, detail := parseErrorBody(errBody)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Op: op, Detail: detail}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransientError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("status %d: %s", resp.StatusCode, detail),
		}
	default:
		return &PermanentError{Op: op, StatusCode: resp.StatusCode, Code: code, Detail: detail}
	}
}

func bytesOrNil(b []byte) any {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b)
}

// getPaged fetches every page of a list endpoint, calling fn per page until
// it returns true
func getPaged[T any](ctx context.Context, c *Client, op, path string, fn func([]T) bool) error {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	for page := 1; ; page++ {
		var resp list[T]
		if err := c.do(ctx, c.retrying, op, http.MethodGet, fmt.Sprintf("%s%spage=%d&per_page=100", path, sep, page), nil, &resp); err != nil {
			return err
		}

		if fn(resp.items()) {
			return nil
		}

		if page >= resp.Meta.Pagination.TotalPages {
			return nil
		}
	}
}

// limitedTransport waits on a shared limiter before each attempt, retries
// included
type limitedTransport struct {
	limiter *rate.Limiter
	next    http.RoundTripper
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
