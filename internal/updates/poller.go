package updates

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/itelic/itelic-updater/internal/license"
	"github.com/itelic/itelic-updater/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a successful check answers later poll cycles.
const DefaultTTL = time.Hour

// Source answers version checks for one product. *license.Manager and
// *license.Client implement it.
type Source interface {
	ProductID() int64
	LicenseKey(ctx context.Context) (string, error)
	LatestVersion(ctx context.Context, key string) (*license.VersionInfo, error)
	ChangelogURL() string
}

// Config holds configuration for the poller.
type Config struct {
	Source Source
	// Cache defaults to a new MemoryCache.
	Cache Cache
	// Slug is the product's installed identifier in the host registry.
	Slug string
	// CurrentVersion is the installed version.
	CurrentVersion string
	// TTL bounds cache freshness. Zero or negative disables reuse, so every
	// poll cycle probes once.
	TTL     time.Duration
	Logger  zerolog.Logger
	Metrics *metrics.PrometheusMetrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Poller runs the update check for one product on every poll cycle of the
// host. It is safe for concurrent use: concurrent cycles for the same product
// share a single in-flight probe.
type Poller struct {
	config Config
	cache  Cache
	logger zerolog.Logger
	group  singleflight.Group

	mu   sync.RWMutex
	last *Transient
}

// NewPoller creates a new Poller.
func NewPoller(config Config) (*Poller, error) {
	if config.Source == nil {
		return nil, errors.New("source is required")
	}
	if config.Slug == "" {
		return nil, errors.New("slug is required")
	}
	if config.Cache == nil {
		config.Cache = NewMemoryCache()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Poller{
		config: config,
		cache:  config.Cache,
		logger: config.Logger.With().
			Str("component", "update_poller").
			Str("slug", config.Slug).
			Int64("product_id", config.Source.ProductID()).
			Logger(),
	}, nil
}

// Slug returns the product's installed identifier.
func (p *Poller) Slug() string {
	return p.config.Slug
}

// CheckForUpdate refreshes t for this product and returns it. When the
// product is not part of the batch, or no license key is configured, t is
// returned unchanged without any network activity. Failures are logged and
// leave t unchanged; the next cycle retries.
func (p *Poller) CheckForUpdate(ctx context.Context, t *Transient) *Transient {
	if t == nil || len(t.Checked) == 0 {
		p.config.Metrics.RecordUpdateCheck(metrics.CheckSkipped)
		return t
	}
	if _, ok := t.Checked[p.config.Slug]; !ok {
		p.config.Metrics.RecordUpdateCheck(metrics.CheckSkipped)
		return t
	}

	key, err := p.config.Source.LicenseKey(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to read license key")
		p.config.Metrics.RecordUpdateCheck(metrics.CheckFailed)
		return t
	}
	if key == "" {
		p.config.Metrics.RecordUpdateCheck(metrics.CheckSkipped)
		return t
	}

	entry, ok := p.verdict(ctx, key)
	if !ok || entry.Verdict == nil {
		return t
	}

	info := entry.Verdict
	if !IsNewerVersion(info.Version, p.config.CurrentVersion) {
		p.logger.Debug().
			Str("current_version", p.config.CurrentVersion).
			Str("latest_version", info.Version).
			Msg("no update available")
		p.config.Metrics.SetUpdateAvailable(false)
		return t
	}

	if t.Response == nil {
		t.Response = make(map[string]Descriptor)
	}
	t.Response[p.config.Slug] = Descriptor{
		NewVersion:    info.Version,
		Package:       info.Package,
		Slug:          p.config.Slug,
		Theme:         p.config.Slug,
		URL:           p.config.Source.ChangelogURL(),
		UpgradeNotice: info.UpgradeNotice,
	}
	p.config.Metrics.SetUpdateAvailable(true)

	p.logger.Info().
		Str("current_version", p.config.CurrentVersion).
		Str("latest_version", info.Version).
		Msg("update available")

	return t
}

// Check runs a full poll cycle for this product alone, records the result as
// the last transient and returns it. With force the cached verdict is dropped
// first.
func (p *Poller) Check(ctx context.Context, force bool) *Transient {
	if force {
		p.Invalidate(ctx)
	}

	t := NewTransient(p.config.Slug, p.config.CurrentVersion)
	t.LastChecked = p.config.Now().UTC()
	t = p.CheckForUpdate(ctx, t)

	p.mu.Lock()
	p.last = t
	p.mu.Unlock()

	return t
}

// Last returns the transient produced by the most recent Check, or nil.
func (p *Poller) Last() *Transient {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Invalidate drops the cached verdict so the next cycle probes again.
func (p *Poller) Invalidate(ctx context.Context) {
	if err := p.cache.Delete(ctx, p.config.Source.ProductID()); err != nil {
		p.logger.Warn().Err(err).Msg("failed to invalidate update cache")
	}
}

// verdict returns a fresh cache entry for key, probing the store on a miss.
func (p *Poller) verdict(ctx context.Context, key string) (*Entry, bool) {
	hash := HashKey(key)

	if entry := p.cached(ctx, hash); entry != nil {
		p.config.Metrics.RecordUpdateCheck(metrics.CheckHit)
		return entry, true
	}

	productID := p.config.Source.ProductID()
	flight := strconv.FormatInt(productID, 10) + ":" + hash

	v, err, shared := p.group.Do(flight, func() (any, error) {
		// Waiters share this probe, so it must outlive the caller that
		// started it. The transport timeout still bounds it.
		probeCtx := context.WithoutCancel(ctx)

		// A probe that finished just before this one started already
		// refreshed the cache.
		if entry := p.cached(probeCtx, hash); entry != nil {
			return entry, nil
		}

		info, err := p.config.Source.LatestVersion(probeCtx, key)
		if err != nil {
			return nil, err
		}

		entry := &Entry{CheckedAt: p.config.Now(), KeyHash: hash, Verdict: info}
		if err := p.cache.Set(probeCtx, productID, entry); err != nil {
			p.logger.Warn().Err(err).Msg("failed to cache update check")
		}
		return entry, nil
	})
	if err != nil {
		p.logFailure(err)
		p.config.Metrics.RecordUpdateCheck(metrics.CheckFailed)
		return nil, false
	}

	p.logger.Debug().Bool("shared", shared).Msg("update check completed")
	p.config.Metrics.RecordUpdateCheck(metrics.CheckMiss)
	return v.(*Entry), true
}

func (p *Poller) cached(ctx context.Context, hash string) *Entry {
	entry, err := p.cache.Get(ctx, p.config.Source.ProductID())
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to read update cache")
		return nil
	}
	if !entry.Fresh(hash, p.config.TTL, p.config.Now()) {
		return nil
	}
	return entry
}

func (p *Poller) logFailure(err error) {
	event := p.logger.Warn()
	if license.IsPrecondition(err) {
		event = p.logger.Debug()
	}

	var apiErr *license.Error
	if errors.As(err, &apiErr) {
		event = event.Str("kind", string(apiErr.Kind)).Str("code", apiErr.Code)
	}
	event.Err(err).Msg("update check failed")
}
