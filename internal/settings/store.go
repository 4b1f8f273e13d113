// Package settings provides the persistent key/value store holding the license
// key, activation id and related per-installation state.
package settings

import (
	"context"
	"fmt"
	"strconv"
)

// Well-known setting names.
const (
	KeyLicenseKey      = "license_key"
	KeyActivationID    = "activation_id"
	KeyTrack           = "track"
	KeyInstanceID      = "instance_id"
	KeyUpdateTransient = "update_transient"
)

// Store is a simple string key/value store.
type Store interface {
	GetString(ctx context.Context, name, def string) (string, error)
	GetInt(ctx context.Context, name string, def int64) (int64, error)
	SetString(ctx context.Context, name, value string) error
	SetInt(ctx context.Context, name string, value int64) error
	Delete(ctx context.Context, name string) error
	Ping(ctx context.Context) error
	Close() error
}

func parseInt(name, raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("setting %s is not an integer: %w", name, err)
	}
	return n, nil
}
