package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itelic/itelic-updater/internal/settings"
)

// Descriptor tells the host where to fetch a newer release.
type Descriptor struct {
	NewVersion    string `json:"new_version"`
	Package       string `json:"package"`
	Slug          string `json:"slug"`
	Theme         string `json:"theme"`
	URL           string `json:"url"`
	UpgradeNotice string `json:"upgrade_notice,omitempty"`
}

// Transient is the host's registry of installed versions and available
// updates, refreshed on every poll cycle.
type Transient struct {
	LastChecked time.Time `json:"last_checked"`
	// Checked maps the slugs included in this cycle to their installed version.
	Checked map[string]string `json:"checked"`
	// Response maps slugs to the update available for them.
	Response map[string]Descriptor `json:"response"`
}

// NewTransient creates a transient checking slug at version.
func NewTransient(slug, version string) *Transient {
	return &Transient{
		Checked:  map[string]string{slug: version},
		Response: make(map[string]Descriptor),
	}
}

// Update returns the descriptor recorded for slug, if any.
func (t *Transient) Update(slug string) (Descriptor, bool) {
	if t == nil {
		return Descriptor{}, false
	}
	d, ok := t.Response[slug]
	return d, ok
}

// AppendUpgradeNotice appends the descriptor's upgrade notice to the message
// shown next to an available update.
func AppendUpgradeNotice(message string, d Descriptor) string {
	if d.UpgradeNotice == "" {
		return message
	}
	if message == "" {
		return d.UpgradeNotice
	}
	return message + " " + d.UpgradeNotice
}

// SaveTransient persists t in store.
func SaveTransient(ctx context.Context, store settings.Store, t *Transient) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode update transient: %w", err)
	}
	return store.SetString(ctx, settings.KeyUpdateTransient, string(data))
}

// LoadTransient returns the transient saved by SaveTransient, or nil when
// none has been saved.
func LoadTransient(ctx context.Context, store settings.Store) (*Transient, error) {
	raw, err := store.GetString(ctx, settings.KeyUpdateTransient, "")
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	var t Transient
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode update transient: %w", err)
	}
	return &t, nil
}
