package handlers

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/trener-gymbot-go/internal/config"
	"github.com/trener-gymbot-go/internal/i18n"
	"github.com/trener-gymbot-go/internal/intent"
	"github.com/trener-gymbot-go/internal/middleware"
	"github.com/trener-gymbot-go/internal/services/api"
	"github.com/trener-gymbot-go/internal/services/storage"
	"github.com/trener-gymbot-go/internal/transport"
	"github.com/trener-gymbot-go/pkg/formatter"
	"github.com/trener-gymbot-go/pkg/logger"
)

// typingRefresh keeps the indicator alive on platforms where it expires after ~5s
const typingRefresh = 4 * time.Second

// MessageHandler routes inbound messages and delivers the replies
type MessageHandler struct {
	config      *config.Config
	transport   transport.Transport
	deliverer   *transport.Deliverer
	rateLimiter middleware.RateLimiter
	security    *middleware.SecurityMiddleware
	classifier  *intent.Classifier
	commands    *CommandHandler
	sessions    Sessions
	contexts    storage.ContextStore
	backend     Backend
	localizer   *i18n.Localizer
	metrics     *middleware.Metrics
	logger      *logrus.Logger
	now         func() time.Time
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(
	cfg *config.Config,
	t transport.Transport,
	rateLimiter middleware.RateLimiter,
	classifier *intent.Classifier,
	commands *CommandHandler,
	sessions Sessions,
	contexts storage.ContextStore,
	backend Backend,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *MessageHandler {
	return &MessageHandler{
		config:      cfg,
		transport:   t,
		deliverer:   transport.NewDeliverer(t, cfg.Delivery, logger),
		rateLimiter: rateLimiter,
		security:    middleware.NewSecurityMiddleware(cfg.Input.MaxLength, logger),
		classifier:  classifier,
		commands:    commands,
		sessions:    sessions,
		contexts:    contexts,
		backend:     backend,
		localizer:   localizer,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// HandleMessage processes one inbound message end to end. Failures are
// logged and answered with an apology; nothing is returned to the caller.
func (h *MessageHandler) HandleMessage(ctx context.Context, msg transport.InboundMessage) {
	requestID := uuid.NewString()
	ctx = api.WithRequestID(ctx, requestID)
	ctx = i18n.WithLanguage(ctx, h.localizer.Match(msg.LanguageCode))
	log := logger.WithMessage(h.logger, requestID, msg.RoomID, msg.SenderID)
	if msg.SenderName != "" {
		log = log.WithField("sender_name", msg.SenderName)
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("Panic while handling message")
			h.metrics.RecordMessageProcessed("panic")
			h.deliver(ctx, log, msg.RoomID, h.localizer.Ctx(ctx, i18n.MsgError))
		}
	}()

	h.metrics.RecordMessageReceived()

	if !h.rateLimiter.Admit(msg.SenderID, h.now()) {
		h.metrics.RecordRateLimitExceeded()
		h.metrics.RecordMessageProcessed("rate_limited")
		if h.config.RateLimit.Notify {
			h.deliver(ctx, log, msg.RoomID, h.localizer.Ctx(ctx, i18n.MsgRateLimitExceeded))
		}
		return
	}

	if err := h.security.ValidateInput(msg.Text); err != nil {
		log.WithError(err).Warn("Input validation failed")
		h.metrics.RecordMessageProcessed("invalid")
		h.deliver(ctx, log, msg.RoomID, h.localizer.Ctx(ctx, i18n.MsgInputInvalid))
		return
	}

	typing := transport.StartTyping(ctx, h.transport, msg.RoomID, typingRefresh, h.config.Bot.TypingTimeout, h.logger)
	defer typing.Stop()

	reply := h.route(ctx, log, msg)
	if strings.TrimSpace(reply) == "" {
		reply = h.localizer.Ctx(ctx, i18n.MsgEmptyReply)
	}

	if h.deliver(ctx, log, msg.RoomID, reply) {
		h.metrics.RecordMessageProcessed("success")
	} else {
		h.metrics.RecordMessageProcessed("delivery_error")
	}
}

// route classifies the message and produces the reply text
func (h *MessageHandler) route(ctx context.Context, log *logrus.Entry, msg transport.InboundMessage) string {
	text := strings.TrimSpace(msg.Text)

	// the backend lookup is only worth it when the answer can change the intent
	active := false
	if h.classifier.DependsOnSession(text) {
		active = h.sessions.IsActive(ctx, msg.SenderID)
	}

	in := h.classifier.Classify(text, active)
	h.metrics.RecordIntent(in.Kind.String())
	log.WithFields(logrus.Fields{
		"intent":         in.Kind.String(),
		"active_session": active,
	}).Debug("Message classified")

	switch in.Kind {
	case intent.SlashCommand:
		return h.commands.HandleCommand(ctx, msg, in)
	case intent.StartSession:
		return h.sessions.Start(ctx, msg.SenderID)
	case intent.EndSession:
		return h.sessions.Finish(ctx, msg.SenderID)
	case intent.CancelSession:
		return h.sessions.Cancel(ctx, msg.SenderID)
	case intent.LogExercise:
		return h.sessions.LogExercise(ctx, msg.SenderID, text)
	case intent.DataQuery:
		return h.converse(ctx, log, msg, text, h.backend.DataRoutes())
	default:
		return h.converse(ctx, log, msg, text, h.backend.ChatRoutes())
	}
}

// converse sends the text with the stored context along routes and keeps the
// context the backend returns. A reply without context leaves it untouched.
func (h *MessageHandler) converse(ctx context.Context, log *logrus.Entry, msg transport.InboundMessage, text string, routes []api.Route) string {
	key := storage.Key{RoomID: msg.RoomID, SenderID: msg.SenderID}

	reply, err := h.backend.Ask(ctx, routes, api.QueryRequest{
		Message:  text,
		SenderID: msg.SenderID,
		RoomID:   msg.RoomID,
		Context:  h.contexts.Get(key),
	})
	if err != nil {
		log.WithError(err).Error("Backend query failed")
		return h.queryFailure(ctx, err)
	}

	h.contexts.Update(key, reply.Context)

	answer := reply.Message
	if reply.Routine != nil {
		answer = joinParagraphs(answer, formatter.FormatRoutine(*reply.Routine))
	}
	if strings.TrimSpace(answer) == "" {
		return h.localizer.Ctx(ctx, i18n.MsgEmptyReply)
	}
	return answer
}

func (h *MessageHandler) queryFailure(ctx context.Context, err error) string {
	switch {
	case api.IsConnectionRefused(err):
		return h.localizer.Ctx(ctx, i18n.MsgServiceUnavailable)
	case api.IsClientError(err):
		if reason := api.ClientMessage(err); reason != "" {
			return reason
		}
		return h.localizer.Ctx(ctx, i18n.MsgRequestRejected)
	default:
		return h.localizer.Ctx(ctx, i18n.MsgTemporarilyUnavailable)
	}
}

// deliver sends text to the room and reports whether every chunk went out
func (h *MessageHandler) deliver(ctx context.Context, log *logrus.Entry, roomID, text string) bool {
	if err := h.deliverer.Deliver(ctx, roomID, text); err != nil {
		log.WithError(err).Error("Failed to deliver reply")
		return false
	}
	return true
}

func joinParagraphs(first, second string) string {
	if strings.TrimSpace(first) == "" {
		return second
	}
	return first + "\n\n" + second
}
