package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func newRequest(t *testing.T, url string, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	return req
}

func TestRetriesServerErrorsThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(body))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rc := NewRetryClient(srv.Client(), fastPolicy, nil)
	resp, err := rc.Do(newRequest(t, srv.URL, "payload"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReturnsLastTransientResponseWhenExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	}))
	defer srv.Close()

	rc := NewRetryClient(srv.Client(), fastPolicy, nil)
	resp, err := rc.Do(newRequest(t, srv.URL, "x"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "upstream down", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusTooManyRequests, http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(code)
			}))
			defer srv.Close()

			rc := NewRetryClient(srv.Client(), fastPolicy, nil)
			resp, err := rc.Do(newRequest(t, srv.URL, "x"))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, code, resp.StatusCode)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

type failingDoer struct {
	calls atomic.Int32
	err   error
}

func (f *failingDoer) Do(*http.Request) (*http.Response, error) {
	f.calls.Add(1)
	return nil, f.err
}

func TestRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	doer := &failingDoer{err: boom}

	rc := NewRetryClient(doer, fastPolicy, nil)
	_, err := rc.Do(newRequest(t, "http://oci.invalid", "x"))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), doer.calls.Load())
}

func TestStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doer := &failingDoer{err: context.Canceled}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://oci.invalid", nil)
	require.NoError(t, err)

	rc := NewRetryClient(doer, Policy{MaxRetries: 5, BaseDelay: time.Millisecond}, nil)
	_, err = rc.Do(req)
	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, doer.calls.Load(), int32(1))
}

func TestIsRetryableStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{500, 502, 503, 504} {
		assert.True(t, IsRetryableStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 404, 429, 501} {
		assert.False(t, IsRetryableStatus(code), code)
	}
}
