package handlers

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/trener-gymbot-go/internal/i18n"
	"github.com/trener-gymbot-go/internal/intent"
	"github.com/trener-gymbot-go/internal/middleware"
	"github.com/trener-gymbot-go/internal/services/api"
	"github.com/trener-gymbot-go/internal/services/storage"
	"github.com/trener-gymbot-go/internal/transport"
	"github.com/trener-gymbot-go/pkg/formatter"
)

// Backend is the subset of the backend client used for conversation and commands
type Backend interface {
	Ask(ctx context.Context, routes []api.Route, req api.QueryRequest) (*api.Reply, error)
	ChatRoutes() []api.Route
	DataRoutes() []api.Route
	GenerateRoutine(ctx context.Context, senderID, routineType string) (*api.Reply, error)
	Health(ctx context.Context) error
}

// Sessions runs workout session operations and returns user-facing text
type Sessions interface {
	IsActive(ctx context.Context, senderID string) bool
	Start(ctx context.Context, senderID string) string
	LogExercise(ctx context.Context, senderID, text string) string
	Finish(ctx context.Context, senderID string) string
	Cancel(ctx context.Context, senderID string) string
	DescribeActive(ctx context.Context, senderID string) string
}

type commandFunc func(ctx context.Context, msg transport.InboundMessage, args string) string

// CommandHandler handles slash commands
type CommandHandler struct {
	commands  map[string]commandFunc
	sessions  Sessions
	contexts  storage.ContextStore
	backend   Backend
	localizer *i18n.Localizer
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	sessions Sessions,
	contexts storage.ContextStore,
	backend Backend,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *CommandHandler {
	h := &CommandHandler{
		sessions:  sessions,
		contexts:  contexts,
		backend:   backend,
		localizer: localizer,
		metrics:   metrics,
		logger:    logger,
	}

	h.commands = map[string]commandFunc{
		"/start":    h.handleStart,
		"/help":     h.handleHelp,
		"/ayuda":    h.handleHelp,
		"/iniciar":  h.handleSessionStart,
		"/terminar": h.handleSessionFinish,
		"/cancelar": h.handleSessionCancel,
		"/estado":   h.handleStatus,
		"/limpiar":  h.handleClear,
		"/clear":    h.handleClear,
		"/salud":    h.handleHealth,
		"/rutina":   h.handleRoutine,
	}
	return h
}

// Names lists the known commands, leading slash included
func (h *CommandHandler) Names() []string {
	names := make([]string, 0, len(h.commands))
	for name := range h.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandleCommand runs a classified slash command and returns the reply text
func (h *CommandHandler) HandleCommand(ctx context.Context, msg transport.InboundMessage, in intent.Intent) string {
	run, ok := h.commands[in.Command]
	if !ok {
		// the classifier only emits known commands
		h.logger.WithField("command", in.Command).Warn("Unknown command reached the command handler")
		return h.localizer.Ctx(ctx, i18n.MsgHelp)
	}

	h.metrics.RecordCommandExecuted(in.Command)
	h.logger.WithFields(logrus.Fields{
		"command":   in.Command,
		"sender_id": msg.SenderID,
	}).Debug("Executing command")

	return run(ctx, msg, in.Args)
}

func (h *CommandHandler) handleStart(ctx context.Context, msg transport.InboundMessage, args string) string {
	return h.localizer.Ctx(ctx, i18n.MsgWelcome)
}

func (h *CommandHandler) handleHelp(ctx context.Context, msg transport.InboundMessage, args string) string {
	return h.localizer.Ctx(ctx, i18n.MsgHelp)
}

func (h *CommandHandler) handleSessionStart(ctx context.Context, msg transport.InboundMessage, args string) string {
	return h.sessions.Start(ctx, msg.SenderID)
}

func (h *CommandHandler) handleSessionFinish(ctx context.Context, msg transport.InboundMessage, args string) string {
	return h.sessions.Finish(ctx, msg.SenderID)
}

func (h *CommandHandler) handleSessionCancel(ctx context.Context, msg transport.InboundMessage, args string) string {
	return h.sessions.Cancel(ctx, msg.SenderID)
}

func (h *CommandHandler) handleStatus(ctx context.Context, msg transport.InboundMessage, args string) string {
	return h.sessions.DescribeActive(ctx, msg.SenderID)
}

// handleClear drops the conversation context of the room and sender
func (h *CommandHandler) handleClear(ctx context.Context, msg transport.InboundMessage, args string) string {
	h.contexts.Clear(storage.Key{RoomID: msg.RoomID, SenderID: msg.SenderID})
	return h.localizer.Ctx(ctx, i18n.MsgContextCleared)
}

func (h *CommandHandler) handleHealth(ctx context.Context, msg transport.InboundMessage, args string) string {
	if err := h.backend.Health(ctx); err != nil {
		h.logger.WithError(err).Warn("Backend health check failed")
		return h.localizer.Ctx(ctx, i18n.MsgHealthDown)
	}
	return h.localizer.Ctx(ctx, i18n.MsgHealthOK)
}

// handleRoutine asks the backend for a routine. The optional argument is the
// routine type (push, pull, legs, full).
func (h *CommandHandler) handleRoutine(ctx context.Context, msg transport.InboundMessage, args string) string {
	reply, err := h.backend.GenerateRoutine(ctx, msg.SenderID, args)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"sender_id":  msg.SenderID,
			"type":       args,
			"request_id": api.RequestIDFromContext(ctx),
		}).Error("Failed to generate routine")
		if api.IsConnectionRefused(err) {
			return h.localizer.Ctx(ctx, i18n.MsgServiceUnavailable)
		}
		return h.localizer.Ctx(ctx, i18n.MsgRoutineError)
	}

	if reply.Routine != nil {
		return formatter.FormatRoutine(*reply.Routine)
	}
	if reply.Message != "" {
		return reply.Message
	}
	return h.localizer.Ctx(ctx, i18n.MsgRoutineError)
}
