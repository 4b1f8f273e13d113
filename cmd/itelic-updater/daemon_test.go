package main

import (
	"testing"
	"time"

	"github.com/itelic/itelic-updater/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulePolls(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		cfg := config.Default()
		scheduler := cron.New()

		polling, err := schedulePolls(scheduler, &cfg, func() {})
		require.NoError(t, err)
		assert.True(t, polling)
		assert.Len(t, scheduler.Entries(), 1)
	})

	t.Run("auto check disabled", func(t *testing.T) {
		cfg := config.Default()
		cfg.AutoCheckUpdate = false
		scheduler := cron.New()

		polling, err := schedulePolls(scheduler, &cfg, func() {})
		require.NoError(t, err)
		assert.False(t, polling)
		assert.Empty(t, scheduler.Entries())
	})

	t.Run("invalid schedule", func(t *testing.T) {
		cfg := config.Default()
		cfg.PollSchedule = "twice a day"

		_, err := schedulePolls(cron.New(), &cfg, func() {})
		assert.Error(t, err)
	})
}

func TestCacheShorterThanPoll(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		ttl      time.Duration
		schedule string
		want     bool
	}{
		{name: "defaults", ttl: config.DefaultCacheTTL, schedule: config.DefaultPollSchedule, want: true},
		{name: "ttl equals interval", ttl: 12 * time.Hour, schedule: "@every 12h", want: false},
		{name: "ttl longer than hourly cron", ttl: 2 * time.Hour, schedule: "0 * * * *", want: false},
		{name: "zero ttl", ttl: 0, schedule: "@every 1m", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.CacheTTL = tt.ttl
			cfg.PollSchedule = tt.schedule
			assert.Equal(t, tt.want, cacheShorterThanPoll(&cfg, now))
		})
	}
}
