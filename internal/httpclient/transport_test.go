package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_Get(t *testing.T) {
	var gotAuth, gotUA, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	tr := NewTransport(TransportOptions{UserAgent: "itelic-updater/1.0.0", Logger: zerolog.Nop()})
	header := http.Header{}
	header.Set("Authorization", "Basic abc")

	resp, err := tr.Get(context.Background(), server.URL+"/itelic-api/info/?a=b", header)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", resp.Status)
	assert.JSONEq(t, `{"success":true}`, string(resp.Body))
	assert.Equal(t, "Basic abc", gotAuth)
	assert.Equal(t, "itelic-updater/1.0.0", gotUA)
	assert.Equal(t, "a=b", gotQuery)
}

func TestTransport_PostForm(t *testing.T) {
	var contentType string
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"success":false}`))
	}))
	defer server.Close()

	tr := NewTransport(TransportOptions{Logger: zerolog.Nop()})
	resp, err := tr.Post(context.Background(), server.URL, nil, url.Values{"id": {"12"}})
	require.NoError(t, err, "non-2xx statuses are responses, not transport errors")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Forbidden", resp.Status)
	assert.Equal(t, "application/x-www-form-urlencoded", contentType)
	assert.Equal(t, "12", form.Get("id"))
}

func TestTransport_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	tr := NewTransport(TransportOptions{
		Client: &http.Client{Timeout: 20 * time.Millisecond},
		Logger: zerolog.Nop(),
	})
	_, err := tr.Get(context.Background(), server.URL, nil)
	assert.Error(t, err)
}

func TestTransport_CircuitBreakerOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	tr := NewTransport(TransportOptions{
		Breaker: &BreakerSettings{FailureThreshold: 2, OpenTimeout: time.Minute},
		Logger:  zerolog.Nop(),
	})
	assert.Equal(t, "closed", tr.BreakerState())

	for i := 0; i < 2; i++ {
		_, err := tr.Get(context.Background(), deadURL, nil)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrCircuitOpen))
	}

	_, err := tr.Get(context.Background(), deadURL, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "open", tr.BreakerState())
}

func TestTransport_BreakerDisabled(t *testing.T) {
	tr := NewTransport(TransportOptions{Logger: zerolog.Nop()})
	assert.Equal(t, "disabled", tr.BreakerState())
}
