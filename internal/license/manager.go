package license

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/itelic/itelic-updater/internal/metrics"
	"github.com/itelic/itelic-updater/internal/settings"
	"github.com/rs/zerolog"
)

var (
	// ErrEmptyKey is returned when activating without a license key.
	ErrEmptyKey = errors.New("license key is required")
	// ErrNoActivation is returned by Deactivate when nothing is activated.
	ErrNoActivation = errors.New("no activation on record")
)

// ManagerConfig holds configuration for the activation manager.
type ManagerConfig struct {
	StoreURL  string
	ProductID int64
	Version   string
	// SiteURL is sent as the activation location. When empty a generated
	// instance URN is used instead.
	SiteURL   string
	Settings  settings.Store
	Transport Transport
	Logger    zerolog.Logger
	Metrics   *metrics.PrometheusMetrics
	// OnIdentityChange is called after the stored key or activation id changes.
	OnIdentityChange func(ctx context.Context)
}

// Manager owns the persisted license identity and hands out Client snapshots
// built from it.
type Manager struct {
	cfg      ManagerConfig
	store    settings.Store
	resolver *Resolver
	logger   zerolog.Logger

	// mu serializes activate/deactivate and instance id creation.
	mu sync.Mutex
}

// Status describes the stored license state. The key is masked.
type Status struct {
	LicenseKey   string `json:"license_key,omitempty"`
	ActivationID int64  `json:"activation_id"`
	Activated    bool   `json:"activated"`
	Track        Track  `json:"track"`
	Location     string `json:"location"`
	ProductID    int64  `json:"product_id"`
	Version      string `json:"version"`
	StoreURL     string `json:"store_url"`
}

// NewManager creates a new Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Settings == nil {
		return nil, errors.New("settings store is required")
	}
	resolver, err := NewResolver(cfg.StoreURL)
	if err != nil {
		return nil, err
	}
	if cfg.ProductID <= 0 {
		return nil, errors.New("product id must be positive")
	}

	return &Manager{
		cfg:      cfg,
		store:    cfg.Settings,
		resolver: resolver,
		logger:   cfg.Logger.With().Str("component", "license_manager").Logger(),
	}, nil
}

// ProductID returns the configured product id.
func (m *Manager) ProductID() int64 {
	return m.cfg.ProductID
}

// Identity returns the stored license identity.
func (m *Manager) Identity(ctx context.Context) (Identity, error) {
	key, err := m.store.GetString(ctx, settings.KeyLicenseKey, "")
	if err != nil {
		return Identity{}, err
	}
	id, err := m.store.GetInt(ctx, settings.KeyActivationID, 0)
	if err != nil {
		return Identity{}, err
	}
	if id < 0 {
		id = 0
	}
	return Identity{Key: key, ActivationID: id}, nil
}

// Track returns the stored release track, stable when unset.
func (m *Manager) Track(ctx context.Context) (Track, error) {
	raw, err := m.store.GetString(ctx, settings.KeyTrack, string(TrackStable))
	if err != nil {
		return "", err
	}
	return ParseTrack(raw)
}

// Location returns the identity of this installation sent on activation.
func (m *Manager) Location(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locationLocked(ctx)
}

func (m *Manager) locationLocked(ctx context.Context) (string, error) {
	if m.cfg.SiteURL != "" {
		return m.cfg.SiteURL, nil
	}

	id, err := m.store.GetString(ctx, settings.KeyInstanceID, "")
	if err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.New().String()
		if err := m.store.SetString(ctx, settings.KeyInstanceID, id); err != nil {
			return "", fmt.Errorf("save instance id: %w", err)
		}
		m.logger.Info().Str("instance_id", id).Msg("generated instance id")
	}
	return "urn:uuid:" + id, nil
}

// Client returns a Client bound to the currently stored identity.
func (m *Manager) Client(ctx context.Context) (*Client, error) {
	identity, err := m.Identity(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientLocked(ctx, identity)
}

// clientLocked builds a client while m.mu is held.
func (m *Manager) clientLocked(ctx context.Context, identity Identity) (*Client, error) {
	location, err := m.locationLocked(ctx)
	if err != nil {
		return nil, err
	}
	return NewClient(ClientConfig{
		StoreURL:  m.cfg.StoreURL,
		ProductID: m.cfg.ProductID,
		Version:   m.cfg.Version,
		Location:  location,
		Identity:  identity,
		Transport: m.cfg.Transport,
		Logger:    m.cfg.Logger,
		Metrics:   m.cfg.Metrics,
	})
}

// Activate saves key and track, activates the key and stores the returned
// activation id. The key and track stay saved when activation fails so the
// administrator can retry.
func (m *Manager) Activate(ctx context.Context, key string, track Track) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, ErrEmptyKey
	}
	if track == "" {
		track = TrackStable
	}
	if _, err := ParseTrack(string(track)); err != nil {
		return 0, &PreconditionError{Op: "activate", Err: err}
	}

	identity, err := m.Identity(ctx)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetString(ctx, settings.KeyLicenseKey, key); err != nil {
		return 0, fmt.Errorf("save license key: %w", err)
	}
	if err := m.store.SetString(ctx, settings.KeyTrack, string(track)); err != nil {
		return 0, fmt.Errorf("save track: %w", err)
	}
	if key != identity.Key {
		// A new key never reuses the previous key's activation.
		if err := m.store.Delete(ctx, settings.KeyActivationID); err != nil {
			return 0, fmt.Errorf("clear activation id: %w", err)
		}
		identity = Identity{Key: key}
	}
	m.identityChanged(ctx)

	client, err := m.clientLocked(ctx, identity)
	if err != nil {
		return 0, err
	}

	id, err := client.Activate(ctx, key, track)
	if err != nil {
		m.logger.Warn().Err(err).Str("license_key", MaskKey(key)).Msg("activation failed")
		return 0, err
	}

	if err := m.store.SetInt(ctx, settings.KeyActivationID, id); err != nil {
		return 0, fmt.Errorf("save activation id: %w", err)
	}
	m.identityChanged(ctx)

	return id, nil
}

// Deactivate releases the stored activation and forgets the key and
// activation id. It returns ErrNoActivation without calling the service when
// nothing is activated.
func (m *Manager) Deactivate(ctx context.Context) error {
	identity, err := m.Identity(ctx)
	if err != nil {
		return err
	}
	if identity.Key == "" || identity.ActivationID == 0 {
		return ErrNoActivation
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	client, err := m.clientLocked(ctx, identity)
	if err != nil {
		return err
	}
	if err := client.Deactivate(ctx, identity.Key, identity.ActivationID); err != nil {
		m.logger.Warn().Err(err).Int64("activation_id", identity.ActivationID).Msg("deactivation failed")
		return err
	}

	if err := m.store.Delete(ctx, settings.KeyLicenseKey); err != nil {
		return fmt.Errorf("clear license key: %w", err)
	}
	if err := m.store.Delete(ctx, settings.KeyActivationID); err != nil {
		return fmt.Errorf("clear activation id: %w", err)
	}
	m.identityChanged(ctx)

	return nil
}

func (m *Manager) identityChanged(ctx context.Context) {
	if m.cfg.OnIdentityChange != nil {
		m.cfg.OnIdentityChange(ctx)
	}
}

// Status returns the stored license state.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	identity, err := m.Identity(ctx)
	if err != nil {
		return nil, err
	}
	track, err := m.Track(ctx)
	if err != nil {
		return nil, err
	}
	location, err := m.Location(ctx)
	if err != nil {
		return nil, err
	}

	return &Status{
		LicenseKey:   MaskKey(identity.Key),
		ActivationID: identity.ActivationID,
		Activated:    identity.Key != "" && identity.ActivationID > 0,
		Track:        track,
		Location:     location,
		ProductID:    m.cfg.ProductID,
		Version:      m.cfg.Version,
		StoreURL:     m.cfg.StoreURL,
	}, nil
}

// LicenseKey returns the stored license key.
func (m *Manager) LicenseKey(ctx context.Context) (string, error) {
	return m.store.GetString(ctx, settings.KeyLicenseKey, "")
}

// LatestVersion asks for the latest version using the stored identity.
func (m *Manager) LatestVersion(ctx context.Context, key string) (*VersionInfo, error) {
	client, err := m.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.LatestVersion(ctx, key)
}

// Info returns the store's view of the stored license key.
func (m *Manager) Info(ctx context.Context) (map[string]any, error) {
	client, err := m.Client(ctx)
	if err != nil {
		return nil, err
	}
	key := client.Identity().Key
	if key == "" {
		return nil, &PreconditionError{Op: "info", Err: ErrEmptyKey}
	}
	return client.Info(ctx, key)
}

// ProductInfo returns the store's description of the product the stored
// license key belongs to.
func (m *Manager) ProductInfo(ctx context.Context) (map[string]any, error) {
	client, err := m.Client(ctx)
	if err != nil {
		return nil, err
	}
	identity := client.Identity()
	if identity.Key == "" {
		return nil, &PreconditionError{Op: "product info", Err: ErrEmptyKey}
	}
	return client.ProductInfo(ctx, identity.Key, identity.ActivationID)
}

// ChangelogURL returns the store's changelog page for the product.
func (m *Manager) ChangelogURL() string {
	return m.resolver.Resolve(EndpointChangelog, url.Values{"ID": {strconv.FormatInt(m.cfg.ProductID, 10)}})
}

// MaskKey hides all but the first and last four characters of key.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
