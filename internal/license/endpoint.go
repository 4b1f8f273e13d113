package license

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Endpoint names one operation of the licensing API.
type Endpoint string

const (
	EndpointActivate   Endpoint = "activate"
	EndpointDeactivate Endpoint = "deactivate"
	EndpointInfo       Endpoint = "info"
	EndpointVersion    Endpoint = "version"
	EndpointDownload   Endpoint = "download"
	EndpointProduct    Endpoint = "product"
	// EndpointChangelog is only linked to from update descriptors, never called.
	EndpointChangelog Endpoint = "changelog"
)

const apiPath = "itelic-api/"

// Resolver builds endpoint URLs under a store's base URL.
type Resolver struct {
	base string
}

// NewResolver creates a Resolver for storeURL. The URL must be absolute and
// carry no query or fragment.
func NewResolver(storeURL string) (*Resolver, error) {
	u, err := url.Parse(strings.TrimSpace(storeURL))
	if err != nil {
		return nil, fmt.Errorf("parse store URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("store URL must be absolute")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, errors.New("store URL must not contain a query or fragment")
	}

	return &Resolver{base: strings.TrimRight(u.String(), "/") + "/"}, nil
}

// Base returns the normalized store URL, always ending in exactly one slash.
func (r *Resolver) Base() string {
	return r.base
}

// Resolve returns the URL of endpoint with query appended when non-empty.
// Query keys are encoded in sorted order so equal inputs give equal URLs.
func (r *Resolver) Resolve(endpoint Endpoint, query url.Values) string {
	u := r.base + apiPath + string(endpoint) + "/"
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}
