package middleware

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/trener-gymbot-go/internal/config"
)

// RateLimiter interface for per-sender admission control
type RateLimiter interface {
	Admit(senderID string, now time.Time) bool
	Sweep(now time.Time) int
}

// SlidingWindowLimiter admits at most max messages per sender within any
// trailing window. Rejections never touch the stored window.
type SlidingWindowLimiter struct {
	enabled bool
	window  time.Duration
	max     int
	windows map[string][]time.Time
	mu      sync.Mutex
	logger  *logrus.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.Config, logger *logrus.Logger) *SlidingWindowLimiter {
	return NewSlidingWindowLimiter(cfg.RateLimit.Enabled, cfg.RateLimit.Window, cfg.RateLimit.MaxPerWindow, logger)
}

// NewSlidingWindowLimiter creates a limiter with explicit settings
func NewSlidingWindowLimiter(enabled bool, window time.Duration, max int, logger *logrus.Logger) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		enabled: enabled,
		window:  window,
		max:     max,
		windows: make(map[string][]time.Time),
		logger:  logger,
	}
}

// Admit checks whether senderID may send a message at now
func (r *SlidingWindowLimiter) Admit(senderID string, now time.Time) bool {
	if !r.enabled {
		return true
	}

	// The prune/check/append sequence must stay under one lock with no blocking call inside.
	r.mu.Lock()
	defer r.mu.Unlock()

	recent := r.prune(r.windows[senderID], now)
	if len(recent) >= r.max {
		r.logger.WithFields(logrus.Fields{
			"sender_id": senderID,
			"in_window": len(recent),
		}).Warn("Rate limit exceeded")
		return false
	}

	r.windows[senderID] = append(recent, now)
	return true
}

// Sweep drops senders whose window is empty at now and returns how many were removed
func (r *SlidingWindowLimiter) Sweep(now time.Time) int {
	if !r.enabled {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for senderID, timestamps := range r.windows {
		recent := r.prune(timestamps, now)
		if len(recent) == 0 {
			delete(r.windows, senderID)
			removed++
			continue
		}
		r.windows[senderID] = recent
	}
	return removed
}

// prune returns the suffix of timestamps still inside the window. The result
// is a fresh slice so a rejected caller never aliases the stored one.
func (r *SlidingWindowLimiter) prune(timestamps []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(timestamps) && !timestamps[i].After(cutoff) {
		i++
	}
	recent := make([]time.Time, len(timestamps)-i, len(timestamps)-i+1)
	copy(recent, timestamps[i:])
	return recent
}

// SecurityMiddleware provides input checks
type SecurityMiddleware struct {
	maxLength int
	logger    *logrus.Logger
}

// NewSecurityMiddleware creates security middleware
func NewSecurityMiddleware(maxLength int, logger *logrus.Logger) *SecurityMiddleware {
	return &SecurityMiddleware{
		maxLength: maxLength,
		logger:    logger,
	}
}

// ValidateInput performs input validation
func (s *SecurityMiddleware) ValidateInput(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("message is not valid UTF-8")
	}
	if s.maxLength > 0 && utf8.RuneCountInString(text) > s.maxLength {
		return fmt.Errorf("message too long: %d characters", utf8.RuneCountInString(text))
	}
	return nil
}
