package transport

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// InboundMessage is a text message received from a chat room
type InboundMessage struct {
	ID           string
	SenderID     string
	SenderName   string
	RoomID       string
	Text         string
	LanguageCode string
	Timestamp    time.Time
}

// Transport is the outbound side of a chat platform
type Transport interface {
	// SetTyping shows or clears the typing indicator in a room. timeout is a
	// hint for platforms that let the indicator expire by itself.
	SetTyping(ctx context.Context, roomID string, on bool, timeout time.Duration) error

	// Send posts one message. html selects the platform's HTML markup mode.
	Send(ctx context.Context, roomID, text string, html bool) error

	// MaxMessageLength is the largest message the platform accepts, in characters
	MaxMessageLength() int
}

// Typing keeps a room's typing indicator alive until Stop is called
type Typing struct {
	transport Transport
	roomID    string
	cancel    context.CancelFunc
	done      chan struct{}
	once      sync.Once
	logger    *logrus.Logger
}

// StartTyping turns the indicator on and refreshes it every refresh interval.
// A refresh of zero sends the indicator once.
func StartTyping(ctx context.Context, t Transport, roomID string, refresh, timeout time.Duration, logger *logrus.Logger) *Typing {
	typingCtx, cancel := context.WithCancel(ctx)
	ty := &Typing{
		transport: t,
		roomID:    roomID,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    logger,
	}

	ty.send(typingCtx, true, timeout)
	go ty.run(typingCtx, refresh, timeout)
	return ty
}

// Stop ends the refresh loop and clears the indicator. Safe to call more than once.
func (ty *Typing) Stop() {
	ty.once.Do(func() {
		ty.cancel()
		<-ty.done
		// the request context may already be gone; clearing must still happen
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ty.send(ctx, false, 0)
	})
}

func (ty *Typing) run(ctx context.Context, refresh, timeout time.Duration) {
	defer close(ty.done)
	if refresh <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ty.send(ctx, true, timeout)
		}
	}
}

func (ty *Typing) send(ctx context.Context, on bool, timeout time.Duration) {
	if err := ty.transport.SetTyping(ctx, ty.roomID, on, timeout); err != nil && ctx.Err() == nil {
		ty.logger.WithError(err).WithFields(logrus.Fields{
			"room_id": ty.roomID,
			"on":      on,
		}).Warn("Failed to set typing indicator")
	}
}
