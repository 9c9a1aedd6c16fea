package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// LookupFunc asks the backend whether a sender has an open workout
type LookupFunc func(ctx context.Context, senderID string) (bool, error)

// Recorder receives cache hit/miss events
type Recorder interface {
	RecordCacheHit()
	RecordCacheMiss()
}

// ActiveSessionCache remembers, for a short freshness window, whether each
// sender has a workout in progress.
type ActiveSessionCache struct {
	cache  *cache.Cache
	group  singleflight.Group
	lookup LookupFunc

	// inflight tracks senders with a lookup running. Invalidation bumps the
	// generation; a lookup only writes back if its generation is still current.
	// Entries are dropped when the last lookup for the sender returns.
	mu       sync.Mutex
	inflight map[string]*lookupState

	metrics Recorder
	logger  *logrus.Logger
}

type lookupState struct {
	generation uint64
	callers    int
}

// NewActiveSessionCache creates a cache whose entries stay fresh for ttl
func NewActiveSessionCache(ttl time.Duration, lookup LookupFunc, metrics Recorder, logger *logrus.Logger) *ActiveSessionCache {
	return &ActiveSessionCache{
		cache:       cache.New(ttl, ttl*2),
		lookup:      lookup,
		inflight:    make(map[string]*lookupState),
		metrics:     metrics,
		logger:      logger,
	}
}

// IsActive returns the cached flag when fresh, otherwise asks the backend.
// A failed lookup reports false and is not cached.
func (c *ActiveSessionCache) IsActive(ctx context.Context, senderID string) bool {
	if val, found := c.cache.Get(senderID); found {
		c.recordHit()
		return val.(bool)
	}
	c.recordMiss()

	state, gen := c.acquire(senderID)
	defer c.release(senderID)

	// Joined callers share the first caller's lookup, so it must not die
	// with that caller's context.
	lookupCtx := context.WithoutCancel(ctx)

	val, err, shared := c.group.Do(fmt.Sprintf("%s:%d", senderID, gen), func() (interface{}, error) {
		active, err := c.lookup(lookupCtx, senderID)
		if err != nil {
			return false, err
		}

		c.mu.Lock()
		if state.generation == gen {
			c.cache.SetDefault(senderID, active)
		}
		c.mu.Unlock()

		return active, nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("sender_id", senderID).Warn("Active session lookup failed, assuming no session")
		return false
	}

	c.logger.WithFields(logrus.Fields{
		"sender_id": senderID,
		"active":    val,
		"shared":    shared,
	}).Debug("Active session looked up")

	return val.(bool)
}

// Invalidate drops the cached flag so the next read goes to the backend
func (c *ActiveSessionCache) Invalidate(senderID string) {
	c.mu.Lock()
	if state, ok := c.inflight[senderID]; ok {
		state.generation++
	}
	c.cache.Delete(senderID)
	c.mu.Unlock()

	c.logger.WithField("sender_id", senderID).Debug("Active session cache invalidated")
}

func (c *ActiveSessionCache) acquire(senderID string) (*lookupState, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.inflight[senderID]
	if !ok {
		state = &lookupState{}
		c.inflight[senderID] = state
	}
	state.callers++
	return state, state.generation
}

func (c *ActiveSessionCache) release(senderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.inflight[senderID]
	if !ok {
		return
	}
	state.callers--
	if state.callers <= 0 {
		delete(c.inflight, senderID)
	}
}

// Len returns the number of cached entries, including expired ones not yet collected
func (c *ActiveSessionCache) Len() int {
	return c.cache.ItemCount()
}

func (c *ActiveSessionCache) recordHit() {
	if c.metrics != nil {
		c.metrics.RecordCacheHit()
	}
}

func (c *ActiveSessionCache) recordMiss() {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss()
	}
}
