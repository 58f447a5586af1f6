// Package media talks to the external object store that holds uploaded
// images. It only implements the client side.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ignite-rpg/ignite-api/config"
	"github.com/ignite-rpg/ignite-api/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no media base URL is set.
var ErrNotConfigured = errors.New("media: store not configured")

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("media: store unavailable")

// Store uploads and deletes media objects.
type Store interface {
	Put(ctx context.Context, filename string, r io.Reader, folder string) (string, error)
	Delete(ctx context.Context, objectURL string) error
}

// StatusError is a non-2xx reply from the media store.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("media: %s: status %d: %s", e.Op, e.Code, e.Body)
}

// Client is the HTTP Store implementation. Calls go through a circuit
// breaker; client errors (4xx) do not count as failures.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[string]
	logger  *zap.Logger
}

// NewClient creates a Client from cfg. An empty BaseURL yields a client whose
// calls all fail with ErrNotConfigured.
func NewClient(cfg config.MediaConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	metrics.MediaBreakerState.Set(0)

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "media-store",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("media circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.MediaBreakerState.Set(stateToFloat(to))
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		cb:      cb,
		logger:  logger,
	}
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool { return c.baseURL != "" }

// Put uploads r as filename into folder and returns the public URL.
func (c *Client) Put(ctx context.Context, filename string, r io.Reader, folder string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("folder", folder); err != nil {
		return "", fmt.Errorf("media: put: %w", err)
	}
	part, err := mw.CreateFormFile("file", path.Base(filename))
	if err != nil {
		return "", fmt.Errorf("media: put: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("media: put: read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("media: put: %w", err)
	}

	objectURL, err := c.execute("put", func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", bytes.NewReader(body.Bytes()))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		var out struct {
			URL string `json:"url"`
		}
		if err := c.do(req, "put", &out); err != nil {
			return "", err
		}
		if out.URL == "" {
			return "", errors.New("media: put: empty url in response")
		}
		return out.URL, nil
	})
	if err != nil {
		return "", err
	}
	c.logger.Debug("media uploaded", zap.String("folder", folder), zap.String("url", objectURL))
	return objectURL, nil
}

// Delete removes the object at objectURL. An empty URL is a no-op.
func (c *Client) Delete(ctx context.Context, objectURL string) error {
	if objectURL == "" {
		return nil
	}
	if !c.Configured() {
		return ErrNotConfigured
	}
	_, err := c.execute("delete", func() (string, error) {
		endpoint := c.baseURL + "/delete?url=" + url.QueryEscape(objectURL)
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
		if err != nil {
			return "", err
		}
		return "", c.do(req, "delete", nil)
	})
	return err
}

func (c *Client) execute(op string, fn func() (string, error)) (string, error) {
	out, err := c.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	metrics.RecordMedia(op, err)
	return out, err
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("media: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("media: %s: decode response: %w", op, err)
	}
	return nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
