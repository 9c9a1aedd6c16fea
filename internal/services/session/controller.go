package session

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/trener-gymbot-go/internal/i18n"
	"github.com/trener-gymbot-go/internal/intent"
	"github.com/trener-gymbot-go/internal/services/api"
	"github.com/trener-gymbot-go/pkg/formatter"
)

// Backend is the subset of the backend client the controller drives
type Backend interface {
	StartSession(ctx context.Context, senderID string) (*api.Reply, error)
	LogExercise(ctx context.Context, senderID, text string) (*api.Reply, error)
	FinishSession(ctx context.Context, senderID string) (*api.Reply, error)
	CancelSession(ctx context.Context, senderID string) (*api.Reply, error)
	ActiveSession(ctx context.Context, senderID string) (*api.Reply, error)
}

// ActiveCache answers and forgets whether a sender has an open workout
type ActiveCache interface {
	IsActive(ctx context.Context, senderID string) bool
	Invalidate(senderID string)
}

// Controller runs workout session operations. Every method returns text
// that is safe to show to the sender; backend errors are only logged.
type Controller struct {
	backend   Backend
	cache     ActiveCache
	localizer *i18n.Localizer
	logger    *logrus.Logger
}

// NewController creates a session controller
func NewController(backend Backend, cache ActiveCache, localizer *i18n.Localizer, logger *logrus.Logger) *Controller {
	return &Controller{
		backend:   backend,
		cache:     cache,
		localizer: localizer,
		logger:    logger,
	}
}

// IsActive reports whether the sender has an open workout
func (c *Controller) IsActive(ctx context.Context, senderID string) bool {
	return c.cache.IsActive(ctx, senderID)
}

// Start opens a workout
func (c *Controller) Start(ctx context.Context, senderID string) string {
	defer c.cache.Invalidate(senderID)

	reply, err := c.backend.StartSession(ctx, senderID)
	if err != nil {
		return c.failure(ctx, "start", senderID, err)
	}
	return c.message(ctx, reply, i18n.MsgSessionStarted)
}

// LogExercise records text in the open workout. Without one, a message with
// an explicit weight or set marker opens a workout first; anything else gets
// a hint on how to start.
func (c *Controller) LogExercise(ctx context.Context, senderID, text string) string {
	var started string
	if !c.cache.IsActive(ctx, senderID) {
		if !intent.HasExplicitMarker(text) {
			return c.localizer.Ctx(ctx, i18n.MsgNoActiveSession)
		}

		c.logger.WithField("sender_id", senderID).Info("Starting workout implicitly for exercise log")
		reply, err := c.startImplicitly(ctx, senderID)
		if err != nil {
			return c.failure(ctx, "start", senderID, err)
		}
		started = c.message(ctx, reply, i18n.MsgSessionStarted)
	}

	reply, err := c.backend.LogExercise(ctx, senderID, text)
	if err != nil {
		return joinReplies(started, c.failure(ctx, "log-exercise", senderID, err))
	}
	return joinReplies(started, c.message(ctx, reply, i18n.MsgExerciseLogged))
}

func (c *Controller) startImplicitly(ctx context.Context, senderID string) (*api.Reply, error) {
	defer c.cache.Invalidate(senderID)
	return c.backend.StartSession(ctx, senderID)
}

// Finish closes the open workout
func (c *Controller) Finish(ctx context.Context, senderID string) string {
	defer c.cache.Invalidate(senderID)

	reply, err := c.backend.FinishSession(ctx, senderID)
	if err != nil {
		return c.failure(ctx, "finish", senderID, err)
	}
	return c.message(ctx, reply, i18n.MsgSessionFinished)
}

// Cancel discards the open workout
func (c *Controller) Cancel(ctx context.Context, senderID string) string {
	defer c.cache.Invalidate(senderID)

	reply, err := c.backend.CancelSession(ctx, senderID)
	if err != nil {
		return c.failure(ctx, "cancel", senderID, err)
	}
	return c.message(ctx, reply, i18n.MsgSessionCancelled)
}

// DescribeActive renders the workout in progress, if any
func (c *Controller) DescribeActive(ctx context.Context, senderID string) string {
	reply, err := c.backend.ActiveSession(ctx, senderID)
	if err != nil {
		return c.failure(ctx, "describe", senderID, err)
	}
	if !reply.Active {
		return c.localizer.Ctx(ctx, i18n.MsgActiveSessionNone)
	}
	if reply.Session != nil {
		return formatter.FormatSession(*reply.Session)
	}
	return c.message(ctx, reply, i18n.MsgSessionStarted)
}

func (c *Controller) message(ctx context.Context, reply *api.Reply, fallbackID string) string {
	if reply != nil && reply.Message != "" {
		return reply.Message
	}
	return c.localizer.Ctx(ctx, fallbackID)
}

func (c *Controller) failure(ctx context.Context, op, senderID string, err error) string {
	c.logger.WithFields(logrus.Fields{
		"operation":  op,
		"sender_id":  senderID,
		"request_id": api.RequestIDFromContext(ctx),
	}).WithError(err).Error("Session operation failed")

	switch {
	case api.IsConnectionRefused(err):
		return c.localizer.Ctx(ctx, i18n.MsgServiceUnavailable)
	case api.IsClientError(err):
		if msg := api.ClientMessage(err); msg != "" {
			return msg
		}
		return c.localizer.Ctx(ctx, i18n.MsgRequestRejected)
	default:
		return c.localizer.Ctx(ctx, i18n.MsgSessionError)
	}
}

func joinReplies(first, second string) string {
	if first == "" {
		return second
	}
	return first + "\n\n" + second
}
