package license

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/itelic/itelic-updater/internal/httpclient"
	"github.com/itelic/itelic-updater/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spyRequest struct {
	Method string
	URL    string
	Header http.Header
	Form   url.Values
}

// spyTransport records requests and replays canned responses.
type spyTransport struct {
	mu        sync.Mutex
	requests  []spyRequest
	responses map[Endpoint]*httpclient.Response
	err       error
}

func newSpy() *spyTransport {
	return &spyTransport{responses: make(map[Endpoint]*httpclient.Response)}
}

func (s *spyTransport) reply(ep Endpoint, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[ep] = &httpclient.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       []byte(body),
	}
}

func (s *spyTransport) Get(ctx context.Context, rawURL string, header http.Header) (*httpclient.Response, error) {
	return s.record(http.MethodGet, rawURL, header, nil)
}

func (s *spyTransport) Post(ctx context.Context, rawURL string, header http.Header, form url.Values) (*httpclient.Response, error) {
	return s.record(http.MethodPost, rawURL, header, form)
}

func (s *spyTransport) record(method, rawURL string, header http.Header, form url.Values) (*httpclient.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, spyRequest{Method: method, URL: rawURL, Header: header, Form: form})
	if s.err != nil {
		return nil, s.err
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	for ep, resp := range s.responses {
		if u.Path == "/itelic-api/"+string(ep)+"/" {
			return resp, nil
		}
	}
	return &httpclient.Response{StatusCode: http.StatusNotFound, Status: "Not Found", Body: []byte("<html>not found</html>")}, nil
}

func (s *spyTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *spyTransport) last() spyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func newTestClient(t *testing.T, tr Transport, productID int64, identity Identity) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		StoreURL:  "https://store.example.com",
		ProductID: productID,
		Version:   "1.0",
		Location:  "https://site.example.com",
		Identity:  identity,
		Transport: tr,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

const versionBody = `{"success": true, "body": {"list": {"47": {"version": "2.0", "package": "http://x/y.zip"}}}}`

func TestNewClient_Validation(t *testing.T) {
	spy := newSpy()

	tests := []struct {
		name string
		cfg  ClientConfig
	}{
		{"bad store url", ClientConfig{StoreURL: "not a url", ProductID: 1, Transport: spy}},
		{"zero product", ClientConfig{StoreURL: "https://s.example.com", ProductID: 0, Transport: spy}},
		{"negative activation", ClientConfig{StoreURL: "https://s.example.com", ProductID: 1, Identity: Identity{Key: "k", ActivationID: -1}, Transport: spy}},
		{"no transport", ClientConfig{StoreURL: "https://s.example.com", ProductID: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestClient_LatestVersion_RequiresActivation(t *testing.T) {
	spy := newSpy()
	spy.reply(EndpointVersion, http.StatusOK, versionBody)
	c := newTestClient(t, spy, 47, Identity{Key: "KEY"})

	info, err := c.LatestVersion(context.Background(), "KEY")
	assert.Nil(t, info)
	require.Error(t, err)

	var pe *PreconditionError
	require.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, ErrNotActivated)
	assert.True(t, IsPrecondition(err))

	var apiErr *Error
	assert.False(t, errors.As(err, &apiErr), "precondition must not look like an API failure")
	assert.Zero(t, spy.calls(), "no request may be sent")
}

func TestClient_LatestVersion(t *testing.T) {
	spy := newSpy()
	spy.reply(EndpointVersion, http.StatusOK, versionBody)
	c := newTestClient(t, spy, 47, Identity{Key: "KEY", ActivationID: 12})

	info, err := c.LatestVersion(context.Background(), "KEY")
	require.NoError(t, err)
	assert.Equal(t, "2.0", info.Version)
	assert.Equal(t, "http://x/y.zip", info.Package)
	assert.Empty(t, info.UpgradeNotice)

	req := spy.last()
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "https://store.example.com/itelic-api/version/?installed_version=1.0", req.URL)

	key, id, ok := ParseBasicAuth(req.Header.Get("Authorization"))
	require.True(t, ok)
	assert.Equal(t, "KEY", key)
	assert.Equal(t, int64(12), id)
}

func TestClient_LatestVersion_ProductMismatch(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"other product", versionBody},
		{"empty list array", `{"success": true, "body": {"list": []}}`},
		{"null list", `{"success": true, "body": {"list": null}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := newSpy()
			spy.reply(EndpointVersion, http.StatusOK, tt.body)
			c := newTestClient(t, spy, 99, Identity{Key: "KEY", ActivationID: 12})

			_, err := c.LatestVersion(context.Background(), "KEY")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProductMismatch)

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, KindProductMismatch, apiErr.Kind)
			assert.Equal(t, "Product ID and License Key don't match.", apiErr.Message)
		})
	}
}

func TestClient_LatestVersion_MalformedEntry(t *testing.T) {
	spy := newSpy()
	spy.reply(EndpointVersion, http.StatusOK, `{"success": true, "body": {"list": {"47": {"package": "http://x/y.zip"}}}}`)
	c := newTestClient(t, spy, 47, Identity{Key: "KEY", ActivationID: 12})

	_, err := c.LatestVersion(context.Background(), "KEY")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestClient_Activate(t *testing.T) {
	spy := newSpy()
	spy.reply(EndpointActivate, http.StatusOK, `{"success": true, "body": {"id": 314, "status": "active"}}`)
	c := newTestClient(t, spy, 47, Identity{})

	id, err := c.Activate(context.Background(), "KEY", TrackPreRelease)
	require.NoError(t, err)
	assert.Equal(t, int64(314), id)

	req := spy.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://store.example.com/itelic-api/activate/", req.URL)
	assert.Equal(t, "https://site.example.com", req.Form.Get("location"))
	assert.Equal(t, "1.0", req.Form.Get("version"))
	assert.Equal(t, "pre-release", req.Form.Get("track"))

	key, activation, ok := ParseBasicAuth(req.Header.Get("Authorization"))
	require.True(t, ok)
	assert.Equal(t, "KEY", key)
	assert.Zero(t, activation)
}

func TestClient_Activate_RemoteError(t *testing.T) {
	spy := newSpy()
	spy.reply(EndpointActivate, http.StatusOK, `{"success": false, "error": {"code": "bad_key", "message": "invalid license"}}`)
	c := newTestClient(t, spy, 47, Identity{})

	_, err := c.Activate(context.Background(), "KEY", TrackStable)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemote)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindRemote, apiErr.Kind)
	assert.Equal(t, "bad_key", apiErr.Code)
	assert.Equal(t, "invalid license", apiErr.Message)
	assert.Equal(t, EndpointActivate, apiErr.Endpoint)
	assert.Equal(t, "invalid license", UserMessage(err))
}

func TestClient_Activate_NumericErrorCode(t *testing.T) {
	spy := newSpy()
	spy.reply(EndpointActivate, http.StatusForbidden, `{"success": false, "error": {"code": 403, "message": ""}}`)
	c := newTestClient(t, spy, 47, Identity{})

	_, err := c.Activate(context.Background(), "KEY", TrackStable)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "403", apiErr.Code)
	assert.Equal(t, UnknownErrorMessage, UserMessage(err))
}

func TestClient_Activate_MissingID(t *testing.T) {
	for _, body := range []string{
		`{"success": true, "body": {}}`,
		`{"success": true, "body": {"id": 0}}`,
		`{"success": true, "body": []}`,
	} {
		spy := newSpy()
		spy.reply(EndpointActivate, http.StatusOK, body)
		c := newTestClient(t, spy, 47, Identity{})

		_, err := c.Activate(context.Background(), "KEY", TrackStable)
		assert.ErrorIs(t, err, ErrDecode, body)
	}
}

func TestClient_Activate_InvalidTrack(t *testing.T) {
	spy := newSpy()
	c := newTestClient(t, spy, 47, Identity{})

	_, err := c.Activate(context.Background(), "KEY", Track("nightly"))
	assert.True(t, IsPrecondition(err))
	assert.ErrorIs(t, err, ErrInvalidTrack)
	assert.Zero(t, spy.calls())
}

func TestClient_DecodeError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"html page", http.StatusInternalServerError, "<html>fatal error</html>", KindDecode},
		{"empty body", http.StatusBadGateway, "", KindDecode},
		{"json array", http.StatusOK, `[1,2,3]`, KindDecode},
		{"truncated", http.StatusOK, `{"success": tr`, KindDecode},
		{"failure without error", http.StatusUnauthorized, `{"success": false}`, KindRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := newSpy()
			spy.reply(EndpointInfo, tt.status, tt.body)
			c := newTestClient(t, spy, 47, Identity{})

			_, err := c.Info(context.Background(), "KEY")
			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.kind, apiErr.Kind)
			assert.Equal(t, http.StatusText(tt.status), apiErr.Message)
			assert.NotEmpty(t, apiErr.Code)
		})
	}
}

func TestClient_TransportError(t *testing.T) {
	spy := newSpy()
	spy.err = errors.New("dial tcp: connection refused")
	c := newTestClient(t, spy, 47, Identity{Key: "KEY", ActivationID: 3})

	_, err := c.LatestVersion(context.Background(), "KEY")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, spy.err)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "dial tcp: connection refused", apiErr.Message)
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(versionBody))
	}))
	defer server.Close()

	tr := httpclient.NewTransport(httpclient.TransportOptions{
		Client: &http.Client{Timeout: 20 * time.Millisecond},
		Logger: zerolog.Nop(),
	})
	c, err := NewClient(ClientConfig{
		StoreURL:  server.URL,
		ProductID: 47,
		Version:   "1.0",
		Identity:  Identity{Key: "KEY", ActivationID: 3},
		Transport: tr,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	_, err = c.LatestVersion(context.Background(), "KEY")
	assert.ErrorIs(t, err, ErrTransport)
}

func TestClient_OverHTTP(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/shop/itelic-api/info/":
			w.Write([]byte(`{"success": true, "body": {"status": "active", "max": 5}}`))
		case "/shop/itelic-api/deactivate/":
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "12", r.PostForm.Get("id"))
			w.Write([]byte(`{"success": true, "body": {"id": 12, "status": "deactivated"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	tr := httpclient.NewTransport(httpclient.TransportOptions{Logger: zerolog.Nop()})
	c, err := NewClient(ClientConfig{
		StoreURL:  server.URL + "/shop",
		ProductID: 47,
		Version:   "1.0",
		Transport: tr,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	info, err := c.Info(context.Background(), "KEY")
	require.NoError(t, err)
	assert.Equal(t, "active", info["status"])
	key, id, ok := ParseBasicAuth(gotAuth)
	require.True(t, ok)
	assert.Equal(t, "KEY", key)
	assert.Zero(t, id)

	require.NoError(t, c.Deactivate(context.Background(), "KEY", 12))
	_, id, _ = ParseBasicAuth(gotAuth)
	assert.Equal(t, int64(12), id)

	_, err = c.ProductInfo(context.Background(), "KEY", 12)
	assert.ErrorIs(t, err, ErrDecode, "404 page is not an envelope")
}

func TestClient_NoKeyNoAuthHeader(t *testing.T) {
	spy := newSpy()
	spy.reply(EndpointInfo, http.StatusOK, `{"success": true, "body": {"status": "unknown"}}`)
	c := newTestClient(t, spy, 47, Identity{})

	_, err := c.Info(context.Background(), "")
	require.NoError(t, err)
	_, present := spy.last().Header["Authorization"]
	assert.False(t, present)
}

func TestClient_Deactivate_RequiresID(t *testing.T) {
	spy := newSpy()
	c := newTestClient(t, spy, 47, Identity{})

	err := c.Deactivate(context.Background(), "KEY", 0)
	assert.True(t, IsPrecondition(err))
	assert.ErrorIs(t, err, ErrNoActivationID)
	assert.Zero(t, spy.calls())
}

func TestClient_ProductInfo_NullBody(t *testing.T) {
	spy := newSpy()
	spy.reply(EndpointProduct, http.StatusOK, `{"success": true, "body": null}`)
	c := newTestClient(t, spy, 47, Identity{})

	_, err := c.ProductInfo(context.Background(), "KEY", 1)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestClient_ChangelogURL(t *testing.T) {
	c := newTestClient(t, newSpy(), 47, Identity{})
	assert.Equal(t, "https://store.example.com/itelic-api/changelog/?ID=47", c.ChangelogURL())
}

func TestClient_Metrics(t *testing.T) {
	m, err := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	spy := newSpy()
	spy.reply(EndpointVersion, http.StatusOK, versionBody)
	c, err := NewClient(ClientConfig{
		StoreURL:  "https://store.example.com",
		ProductID: 99,
		Identity:  Identity{Key: "KEY", ActivationID: 1},
		Transport: spy,
		Logger:    zerolog.Nop(),
		Metrics:   m,
	})
	require.NoError(t, err)

	_, err = c.LatestVersion(context.Background(), "KEY")
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.APIRequests.WithLabelValues("version", "success")))
}

func TestParseTrack(t *testing.T) {
	tr, err := ParseTrack("")
	require.NoError(t, err)
	assert.Equal(t, TrackStable, tr)

	tr, err = ParseTrack("pre-release")
	require.NoError(t, err)
	assert.Equal(t, TrackPreRelease, tr)

	_, err = ParseTrack("beta")
	assert.ErrorIs(t, err, ErrInvalidTrack)
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Equal(t, UnknownErrorMessage, UserMessage(&Error{Kind: KindRemote}))
	assert.Equal(t, "expired", UserMessage(&Error{Kind: KindRemote, Message: "expired"}))
	assert.Equal(t, "boom", UserMessage(errors.New("boom")))
}
