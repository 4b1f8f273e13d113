// Package license is a client for the Exchange licensing API: it activates and
// deactivates license keys for one installation and asks the store for the
// latest released version of the product.
package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/itelic/itelic-updater/internal/httpclient"
	"github.com/itelic/itelic-updater/internal/metrics"
	"github.com/rs/zerolog"
)

// Transport performs requests against the licensing service.
type Transport interface {
	Get(ctx context.Context, url string, header http.Header) (*httpclient.Response, error)
	Post(ctx context.Context, url string, header http.Header, form url.Values) (*httpclient.Response, error)
}

// Track selects the release channel an activation follows.
type Track string

const (
	TrackStable     Track = "stable"
	TrackPreRelease Track = "pre-release"
)

// ParseTrack parses a track name. The empty string means stable.
func ParseTrack(s string) (Track, error) {
	switch Track(s) {
	case "", TrackStable:
		return TrackStable, nil
	case TrackPreRelease:
		return TrackPreRelease, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTrack, s)
	}
}

// Identity binds a license key to one activation record. ActivationID 0 means
// the key has not been activated on this installation.
type Identity struct {
	Key          string
	ActivationID int64
}

// VersionInfo describes the latest release available to a license.
type VersionInfo struct {
	Version       string `json:"version"`
	Package       string `json:"package"`
	UpgradeNotice string `json:"upgrade_notice,omitempty"`
}

// ClientConfig holds configuration for the client.
type ClientConfig struct {
	StoreURL  string
	ProductID int64
	// Version is the installed version of the product.
	Version string
	// Location identifies this installation to the store, usually the site URL.
	Location  string
	Identity  Identity
	Transport Transport
	Logger    zerolog.Logger
	Metrics   *metrics.PrometheusMetrics
}

// Client talks to the licensing API on behalf of one Identity. It is an
// immutable snapshot: build a new Client after the identity changes.
type Client struct {
	resolver  *Resolver
	productID int64
	version   string
	location  string
	identity  Identity
	transport Transport
	logger    zerolog.Logger
	metrics   *metrics.PrometheusMetrics
}

// NewClient creates a new licensing client.
func NewClient(cfg ClientConfig) (*Client, error) {
	resolver, err := NewResolver(cfg.StoreURL)
	if err != nil {
		return nil, err
	}
	if cfg.ProductID <= 0 {
		return nil, errors.New("product id must be positive")
	}
	if cfg.Identity.ActivationID < 0 {
		return nil, errors.New("activation id must not be negative")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}

	return &Client{
		resolver:  resolver,
		productID: cfg.ProductID,
		version:   cfg.Version,
		location:  cfg.Location,
		identity:  cfg.Identity,
		transport: cfg.Transport,
		logger:    cfg.Logger.With().Str("component", "license_client").Int64("product_id", cfg.ProductID).Logger(),
		metrics:   cfg.Metrics,
	}, nil
}

// Identity returns the identity snapshot the client was built with.
func (c *Client) Identity() Identity {
	return c.identity
}

// LicenseKey returns the configured license key.
func (c *Client) LicenseKey(context.Context) (string, error) {
	return c.identity.Key, nil
}

// ProductID returns the configured product id.
func (c *Client) ProductID() int64 {
	return c.productID
}

// ChangelogURL returns the store's changelog page for the product.
func (c *Client) ChangelogURL() string {
	return c.resolver.Resolve(EndpointChangelog, url.Values{"ID": {strconv.FormatInt(c.productID, 10)}})
}

// Activate activates key for this installation on track and returns the
// activation record id assigned by the store. The caller persists the id.
func (c *Client) Activate(ctx context.Context, key string, track Track) (int64, error) {
	if track == "" {
		track = TrackStable
	}
	if track != TrackStable && track != TrackPreRelease {
		return 0, &PreconditionError{Op: "activate", Err: fmt.Errorf("%w: %q", ErrInvalidTrack, track)}
	}

	form := url.Values{
		"location": {c.location},
		"version":  {c.version},
		"track":    {string(track)},
	}

	body, err := c.call(ctx, EndpointActivate, http.MethodPost, key, c.identity.ActivationID, form, nil)
	if err != nil {
		return 0, err
	}

	var activation struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(body, &activation); err != nil {
		return 0, c.decodeError(EndpointActivate, "activation record is malformed", err)
	}
	id, err := activation.ID.Int64()
	if err != nil || id <= 0 {
		return 0, c.decodeError(EndpointActivate, "activation record has no id", err)
	}

	c.logger.Info().Int64("activation_id", id).Str("track", string(track)).Msg("license activated")
	return id, nil
}

// Deactivate releases activation activationID of key.
func (c *Client) Deactivate(ctx context.Context, key string, activationID int64) error {
	if activationID <= 0 {
		return &PreconditionError{Op: "deactivate", Err: ErrNoActivationID}
	}

	form := url.Values{"id": {strconv.FormatInt(activationID, 10)}}
	if _, err := c.call(ctx, EndpointDeactivate, http.MethodPost, key, activationID, form, nil); err != nil {
		return err
	}

	c.logger.Info().Int64("activation_id", activationID).Msg("license deactivated")
	return nil
}

// LatestVersion returns the latest version of the product available to key.
// It requires an activated identity and returns a *PreconditionError, without
// touching the network, when the client has no activation id.
func (c *Client) LatestVersion(ctx context.Context, key string) (*VersionInfo, error) {
	if c.identity.ActivationID == 0 {
		return nil, &PreconditionError{Op: "latest version", Err: ErrNotActivated}
	}

	query := url.Values{"installed_version": {c.version}}
	body, err := c.call(ctx, EndpointVersion, http.MethodGet, key, c.identity.ActivationID, nil, query)
	if err != nil {
		return nil, err
	}

	var payload struct {
		List json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, c.decodeError(EndpointVersion, "version list is malformed", err)
	}

	list, err := decodeVersionList(payload.List)
	if err != nil {
		return nil, c.decodeError(EndpointVersion, "version list is malformed", err)
	}

	info, ok := list[strconv.FormatInt(c.productID, 10)]
	if !ok {
		return nil, &Error{
			Kind:     KindProductMismatch,
			Endpoint: EndpointVersion,
			Message:  "Product ID and License Key don't match.",
		}
	}
	if info.Version == "" {
		return nil, c.decodeError(EndpointVersion, "version entry has no version", nil)
	}

	return &info, nil
}

// Info returns what the store knows about key. No activation is required.
func (c *Client) Info(ctx context.Context, key string) (map[string]any, error) {
	return c.object(ctx, EndpointInfo, key, 0)
}

// ProductInfo returns the store's description of the product key belongs to.
func (c *Client) ProductInfo(ctx context.Context, key string, activationID int64) (map[string]any, error) {
	return c.object(ctx, EndpointProduct, key, activationID)
}

func (c *Client) object(ctx context.Context, endpoint Endpoint, key string, activationID int64) (map[string]any, error) {
	body, err := c.call(ctx, endpoint, http.MethodGet, key, activationID, nil, nil)
	if err != nil {
		return nil, err
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return nil, c.decodeError(endpoint, "response body is not an object", err)
	}
	return obj, nil
}

// envelope is the wrapper around every API response.
type envelope struct {
	Success bool            `json:"success"`
	Body    json.RawMessage `json:"body"`
	Error   *struct {
		Code    flexString `json:"code"`
		Message string     `json:"message"`
	} `json:"error"`
}

// call runs the shared request pipeline and returns the envelope's body.
func (c *Client) call(ctx context.Context, endpoint Endpoint, method, key string, activationID int64, form, query url.Values) (json.RawMessage, error) {
	header := http.Header{}
	if key != "" {
		header.Set("Authorization", EncodeBasicAuth(key, activationID))
	}
	target := c.resolver.Resolve(endpoint, query)

	start := time.Now()
	var resp *httpclient.Response
	var err error
	switch method {
	case http.MethodGet:
		resp, err = c.transport.Get(ctx, target, header)
	case http.MethodPost:
		resp, err = c.transport.Post(ctx, target, header, form)
	default:
		return nil, &PreconditionError{Op: string(endpoint), Err: fmt.Errorf("%w: %s", ErrInvalidMethod, method)}
	}

	if err != nil {
		apiErr := &Error{Kind: KindTransport, Endpoint: endpoint, Message: err.Error(), Err: err}
		c.finish(endpoint, apiErr, start)
		return nil, apiErr
	}

	body, apiErr := c.unwrap(endpoint, resp)
	if apiErr != nil {
		c.finish(endpoint, apiErr, start)
		return nil, apiErr
	}

	c.finish(endpoint, nil, start)
	c.logger.Debug().Str("endpoint", string(endpoint)).Int("status", resp.StatusCode).Msg("licensing call succeeded")
	return body, nil
}

func (c *Client) unwrap(endpoint Endpoint, resp *httpclient.Response) (json.RawMessage, *Error) {
	fallback := &Error{
		Kind:     KindDecode,
		Endpoint: endpoint,
		Code:     strconv.Itoa(resp.StatusCode),
		Message:  resp.Status,
	}

	trimmed := bytes.TrimSpace(resp.Body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fallback
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		fallback.Err = err
		return nil, fallback
	}

	if !env.Success {
		if env.Error != nil && (env.Error.Code != "" || env.Error.Message != "") {
			return nil, &Error{
				Kind:     KindRemote,
				Endpoint: endpoint,
				Code:     string(env.Error.Code),
				Message:  env.Error.Message,
			}
		}
		fallback.Kind = KindRemote
		return nil, fallback
	}

	return env.Body, nil
}

// decodeError reports a well-formed envelope whose body has the wrong shape.
func (c *Client) decodeError(endpoint Endpoint, msg string, err error) *Error {
	c.logger.Debug().Err(err).Str("endpoint", string(endpoint)).Msg(msg)
	return &Error{Kind: KindDecode, Endpoint: endpoint, Message: msg, Err: err}
}

func (c *Client) finish(endpoint Endpoint, apiErr *Error, start time.Time) {
	outcome := "success"
	if apiErr != nil {
		outcome = string(apiErr.Kind)
		c.logger.Debug().
			Str("endpoint", string(endpoint)).
			Str("kind", outcome).
			Str("code", apiErr.Code).
			Msg("licensing call failed")
	}
	c.metrics.RecordAPIRequest(string(endpoint), outcome, time.Since(start))
}

// decodeVersionList accepts an object keyed by product id. An empty JSON array
// or null means no products.
func decodeVersionList(raw json.RawMessage) (map[string]VersionInfo, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("[]")) {
		return map[string]VersionInfo{}, nil
	}

	var list map[string]VersionInfo
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// flexString decodes a JSON string or number as a string.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(data)
	return nil
}
