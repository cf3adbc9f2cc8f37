package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/cache"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/gate"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/httpclient"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/locale"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/suppression"
)

type env struct {
	store   *suppression.Store
	handler http.Handler
	mem     *cache.Memory[bool]
}

func newEnv(t *testing.T, client *http.Client) *env {
	t.Helper()

	mem := cache.NewMemory[bool](cache.WithCleanupInterval(0))
	t.Cleanup(func() { _ = mem.Close() })
	store := suppression.New(mem)

	var doer httpclient.HTTPDoer
	if client != nil {
		doer = client
	}
	rc := NewReceiver(store, doer, nil)
	h := NewRouter(RouterConfig{Username: "oci", Password: "s3cret"}, rc, store, nil)
	return &env{store: store, handler: h, mem: mem}
}

func post(t *testing.T, h http.Handler, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.SetBasicAuth("oci", "s3cret")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubscriptionConfirmationIssuesOneGet(t *testing.T) {
	t.Parallel()

	var gets atomic.Int32
	confirm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "abc", r.URL.Query().Get("token"))
		gets.Add(1)
	}))
	defer confirm.Close()

	e := newEnv(t, confirm.Client())
	body := `{"ConfirmationURL":"` + confirm.URL + `/confirm?token=abc"}`
	rec := post(t, e.handler, Path, body, http.Header{MessageTypeHeader: {"SubscriptionConfirmation"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, int32(1), gets.Load())
}

func TestSubscriptionConfirmationFromQuery(t *testing.T) {
	t.Parallel()

	var gets atomic.Int32
	confirm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gets.Add(1)
	}))
	defer confirm.Close()

	e := newEnv(t, confirm.Client())
	target := Path + "?ConfirmationURL=" + confirm.URL + "/confirm"
	rec := post(t, e.handler, target, "", http.Header{MessageTypeHeader: {"SubscriptionConfirmation"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), gets.Load())
}

func TestSubscriptionConfirmationFailureStillAcknowledged(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	body := `{"ConfirmationURL":"http://127.0.0.1:1/unreachable"}`
	rec := post(t, e.handler, Path, body, http.Header{MessageTypeHeader: {"SubscriptionConfirmation"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestBounceSuppressesRecipientAndGateRejects(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	body := `{"data":{"action":"bounce","recipient":"a@example.com","messageId":"m-1"}}`
	rec := post(t, e.handler, Path, body, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	ok, err := e.store.Get(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	g := gate.New(e.store, locale.New("zh-Hans"), nil)
	d := g.Check(context.Background(), "a@example.com", gate.Allow())
	assert.False(t, d.Allowed)
	assert.Equal(t, "你绑定的邮箱地址有误，请前往「个人资料」页面更改绑定邮箱后再尝试发送", d.Reason)
}

func TestOtherActionsChangeNothing(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	for _, body := range []string{
		`{"data":{"action":"delivery","recipient":"a@example.com"}}`,
		`{"data":{"action":"open","recipient":"a@example.com"}}`,
		`{}`,
		`not json`,
		``,
	} {
		rec := post(t, e.handler, Path, body, nil)
		assert.Equal(t, http.StatusOK, rec.Code, body)
		assert.Empty(t, rec.Body.String(), body)
	}

	ok, err := e.store.Get(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMissingOrWrongCredentials(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	body := `{"data":{"action":"bounce","recipient":"a@example.com"}}`

	req := httptest.NewRequest(http.MethodPost, Path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req = httptest.NewRequest(http.MethodPost, Path, strings.NewReader(body))
	req.SetBasicAuth("oci", "wrong")
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ok, err := e.store.Get(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingStore struct{}

func (failingStore) Put(context.Context, string) error { return errors.New("redis down") }

func TestBounceStoreFailureAsksForRedelivery(t *testing.T) {
	t.Parallel()

	rc := NewReceiver(failingStore{}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, Path,
		strings.NewReader(`{"data":{"action":"bounce","recipient":"a@example.com"}}`))
	rec := httptest.NewRecorder()
	rc.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, e.mem.Close())
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
