package storage

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/trener-gymbot-go/internal/config"
	"github.com/trener-gymbot-go/internal/models"
)

// Key identifies one conversation: a sender inside a room
type Key struct {
	RoomID   string
	SenderID string
}

// cacheKey is unambiguous even when ids contain the separator
func (k Key) cacheKey() string {
	return fmt.Sprintf("context:%d:%s:%s", len(k.RoomID), k.RoomID, k.SenderID)
}

// ContextStore defines conversation context operations
type ContextStore interface {
	Get(key Key) []models.Turn
	Update(key Key, turns []models.Turn)
	Clear(key Key)
	Len() int
}

// MemoryContextStore keeps the most recent turns per conversation in memory.
// Entries expire maxAge after their last update.
type MemoryContextStore struct {
	contexts *cache.Cache
	maxTurns int
	logger   *logrus.Logger
}

// NewContextStore creates a context store from configuration
func NewContextStore(cfg *config.Config, logger *logrus.Logger) *MemoryContextStore {
	return NewMemoryContextStore(cfg.Context.MaxTurns, cfg.Context.MaxAge, cfg.Context.SweepInterval, logger)
}

// NewMemoryContextStore creates a context store. Expired entries are
// unreadable at once and removed from memory every cleanupInterval.
func NewMemoryContextStore(maxTurns int, maxAge, cleanupInterval time.Duration, logger *logrus.Logger) *MemoryContextStore {
	return &MemoryContextStore{
		contexts: cache.New(maxAge, cleanupInterval),
		maxTurns: maxTurns,
		logger:   logger,
	}
}

// Get returns a copy of the stored turns, or nil when absent or expired
func (s *MemoryContextStore) Get(key Key) []models.Turn {
	k := key.cacheKey()
	val, found := s.contexts.Get(k)
	if !found {
		// drop an expired entry the janitor has not reached yet
		s.contexts.Delete(k)
		return nil
	}

	turns := val.([]models.Turn)
	return append([]models.Turn(nil), turns...)
}

// Update replaces the stored turns and restarts the expiry clock. A nil
// slice keeps whatever is stored without refreshing it.
func (s *MemoryContextStore) Update(key Key, turns []models.Turn) {
	if turns == nil {
		return
	}

	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}

	s.contexts.SetDefault(key.cacheKey(), append([]models.Turn(nil), turns...))
	s.logger.WithFields(logrus.Fields{
		"room_id":   key.RoomID,
		"sender_id": key.SenderID,
		"turns":     len(turns),
	}).Debug("Context updated")
}

// Clear removes the conversation outright
func (s *MemoryContextStore) Clear(key Key) {
	s.contexts.Delete(key.cacheKey())
}

// Len returns the number of stored conversations, including expired ones
// the janitor has not removed yet
func (s *MemoryContextStore) Len() int {
	return s.contexts.ItemCount()
}
