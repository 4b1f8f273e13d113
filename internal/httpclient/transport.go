package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// MaxBodyBytes caps how much of a response body is read.
const MaxBodyBytes = 8 << 20

// ErrCircuitOpen is returned while the breaker rejects requests after repeated
// transport failures.
var ErrCircuitOpen = errors.New("licensing service temporarily unavailable: circuit open")

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	// Status is the reason phrase, e.g. "Not Found".
	Status string
	Body   []byte
}

// BreakerSettings configures the optional circuit breaker.
type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// TransportOptions configures a Transport.
type TransportOptions struct {
	Client    *http.Client
	UserAgent string
	Breaker   *BreakerSettings
	Logger    zerolog.Logger
}

// Transport performs GET and form POST requests against the licensing service.
// Non-2xx responses are returned as responses, only connection level problems
// are errors.
type Transport struct {
	client    *http.Client
	userAgent string
	breaker   *gobreaker.CircuitBreaker[*Response]
	logger    zerolog.Logger
}

// NewTransport creates a new Transport.
func NewTransport(opts TransportOptions) *Transport {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	t := &Transport{
		client:    client,
		userAgent: opts.UserAgent,
		logger:    opts.Logger.With().Str("component", "licensing_transport").Logger(),
	}

	if opts.Breaker != nil {
		threshold := opts.Breaker.FailureThreshold
		if threshold == 0 {
			threshold = 5
		}
		t.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
			Name:        "licensing",
			MaxRequests: 1,
			Timeout:     opts.Breaker.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				t.logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state changed")
			},
		})
	}

	return t
}

// BreakerState returns the breaker state, or "disabled".
func (t *Transport) BreakerState() string {
	if t.breaker == nil {
		return "disabled"
	}
	return t.breaker.State().String()
}

// Get performs a GET request.
func (t *Transport) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return t.do(req, header)
}

// Post performs a form encoded POST request.
func (t *Transport) Post(ctx context.Context, rawURL string, header http.Header, form url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.do(req, header)
}

func (t *Transport) do(req *http.Request, header http.Header) (*Response, error) {
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	if t.breaker == nil {
		return t.roundTrip(req)
	}

	resp, err := t.breaker.Execute(func() (*Response, error) {
		return t.roundTrip(req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return resp, err
}

func (t *Transport) roundTrip(req *http.Request) (*Response, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     reasonPhrase(resp),
		Body:       body,
	}, nil
}

func reasonPhrase(resp *http.Response) string {
	if phrase := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); phrase != "" && phrase != resp.Status {
		return phrase
	}
	return http.StatusText(resp.StatusCode)
}
