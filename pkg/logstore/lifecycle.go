package logstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultCleanupInterval is how often the controller runs a retention pass
// while the application is foregrounded.
const DefaultCleanupInterval = 15 * time.Minute

// Controller owns the periodic-cleanup schedule. Start maps to the
// application entering the foreground, Stop to backgrounding; both are
// idempotent. A tick that finds both categories disabled stops the schedule.
type Controller struct {
	store    *Store
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewController builds a Controller for the store. A non-positive interval
// falls back to DefaultCleanupInterval.
func NewController(store *Store, interval time.Duration, logger zerolog.Logger) *Controller {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &Controller{
		store:    store,
		interval: interval,
		logger:   logger.With().Str("component", "lifecycle").Logger(),
	}
}

// Start begins periodic cleanup and runs one pass immediately, so a long
// background period is remediated right away rather than one interval later.
// No-op when already running or when both categories are disabled.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	if !c.store.settings.ErrorsEnabled() && !c.store.settings.AIEnabled() {
		c.logger.Debug().Msg("both categories disabled, not starting cleanup")
		return
	}

	c.cron = cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(&c.logger))))
	if _, err := c.cron.AddFunc(fmt.Sprintf("@every %s", c.interval), c.tick); err != nil {
		c.logger.Error().Err(err).Msg("failed to schedule cleanup")
		c.cron = nil
		return
	}

	c.running = true
	c.cron.Start()
	c.logger.Info().Dur("interval", c.interval).Msg("cleanup schedule started")

	go c.store.RunCleanup()
}

// Stop cancels the schedule without waiting for an in-flight pass; cleanup is
// idempotent and safe to resume later. No-op when already stopped.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if !c.running {
		return
	}
	c.cron.Stop()
	c.cron = nil
	c.running = false
	c.logger.Info().Msg("cleanup schedule stopped")
}

// Running reports whether the schedule is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Controller) tick() {
	if !c.store.settings.ErrorsEnabled() && !c.store.settings.AIEnabled() {
		c.mu.Lock()
		c.stopLocked()
		c.mu.Unlock()
		return
	}
	c.store.RunCleanup()
}
