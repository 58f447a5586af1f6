package media

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignite-rpg/ignite-api/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.MediaConfig{
		BaseURL:         srv.URL + "/",
		APIKey:          "k3y",
		Timeout:         time.Second,
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	}, zap.NewNop())
}

func TestPut(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload", r.URL.Path)
		assert.Equal(t, "Bearer k3y", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "portraits", r.FormValue("folder"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "face.png", hdr.Filename)
		assert.Equal(t, "PNGDATA", string(data))

		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example/portraits/face.png"})
	})

	got, err := c.Put(context.Background(), "../../face.png", strings.NewReader("PNGDATA"), "portraits")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/portraits/face.png", got)
}

func TestDelete(t *testing.T) {
	var gotURL string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/delete", r.URL.Path)
		gotURL = r.URL.Query().Get("url")
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.Delete(context.Background(), "https://cdn.example/a b.png"))
	assert.Equal(t, "https://cdn.example/a b.png", gotURL)
	assert.NoError(t, c.Delete(context.Background(), ""))
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(config.MediaConfig{}, zap.NewNop())
	assert.False(t, c.Configured())
	_, err := c.Put(context.Background(), "x.png", strings.NewReader("x"), "portraits")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, c.Delete(context.Background(), "https://cdn/x.png"), ErrNotConfigured)
}

func TestPut_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too large", http.StatusRequestEntityTooLarge)
	})
	_, err := c.Put(context.Background(), "x.png", strings.NewReader("x"), "portraits")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusRequestEntityTooLarge, se.Code)
	assert.Contains(t, se.Body, "too large")
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 2; i++ {
		err := c.Delete(context.Background(), "https://cdn/x.png")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}
	err := c.Delete(context.Background(), "https://cdn/x.png")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open breaker must short-circuit")
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})
	for i := 0; i < 4; i++ {
		err := c.Delete(context.Background(), "https://cdn/x.png")
		assert.NotErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}
