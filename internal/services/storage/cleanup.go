package storage

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper is anything that can drop its expired entries
type Sweeper interface {
	Sweep(now time.Time) int
}

// CleanupService periodically sweeps the registered stores so memory stays
// bounded even when nobody reads the expired entries.
type CleanupService struct {
	sweepers map[string]Sweeper
	interval time.Duration
	onSweep  func()
	logger   *logrus.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewCleanupService creates a cleanup service
func NewCleanupService(interval time.Duration, logger *logrus.Logger) *CleanupService {
	return &CleanupService{
		sweepers: make(map[string]Sweeper),
		interval: interval,
		logger:   logger,
	}
}

// Register adds a named sweeper. Must be called before Start.
func (c *CleanupService) Register(name string, s Sweeper) {
	c.sweepers[name] = s
}

// OnSweep sets a hook run after every sweep pass
func (c *CleanupService) OnSweep(fn func()) {
	c.onSweep = fn
}

// Start begins the periodic cleanup
func (c *CleanupService) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}

	cleanupCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.run(cleanupCtx, c.done)
}

// Stop stops the cleanup loop and waits for it to exit
func (c *CleanupService) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
}

// SweepNow runs a single pass over every sweeper
func (c *CleanupService) SweepNow(now time.Time) map[string]int {
	removed := make(map[string]int, len(c.sweepers))
	for name, s := range c.sweepers {
		removed[name] = s.Sweep(now)
	}

	c.logger.WithField("removed", removed).Debug("Sweep finished")
	if c.onSweep != nil {
		c.onSweep()
	}
	return removed
}

func (c *CleanupService) run(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Cleanup service stopping")
			return
		case now := <-ticker.C:
			c.SweepNow(now)
		}
	}
}
