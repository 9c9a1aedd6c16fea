package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
	"github.com/trener-gymbot-go/internal/config"
	"github.com/trener-gymbot-go/internal/models"
)

// Backend paths
const (
	PathQuery         = "/session/query"
	PathQueryWithData = "/session/query-with-data"
	PathActive        = "/session/active/"
	PathStart         = "/session/start"
	PathLogExercise   = "/session/log-exercise"
	PathFinish        = "/session/finish"
	PathCancel        = "/session/cancel"
	PathHealth        = "/health"
	PathRoutine       = "/routine/generate"
)

// QueryRequest is the body of the chat endpoints
type QueryRequest struct {
	Message  string        `json:"message"`
	SenderID string        `json:"sender_id"`
	RoomID   string        `json:"room_id,omitempty"`
	Context  []models.Turn `json:"context"`
}

// SessionRequest is the body of the session mutation endpoints
type SessionRequest struct {
	SenderID string `json:"sender_id"`
	Text     string `json:"text,omitempty"`
}

// RoutineRequest asks the backend to generate a routine
type RoutineRequest struct {
	SenderID string `json:"sender_id"`
	Type     string `json:"tipo,omitempty"`
}

// Reply is a backend response. The backend is not consistent about field
// names, so decoding accepts several spellings and non-object bodies.
type Reply struct {
	Message string
	Context []models.Turn // nil when the backend did not send one
	Active  bool
	Session *models.SessionSummary
	Routine *models.Routine
}

type replyFields struct {
	Message   string                 `json:"message"`
	Respuesta string                 `json:"respuesta"`
	Text      string                 `json:"text"`
	Context   []models.Turn          `json:"context"`
	Contexto  []models.Turn          `json:"contexto_actualizado"`
	Active    *bool                  `json:"active"`
	Activa    *bool                  `json:"activa"`
	Session   *models.SessionSummary `json:"session"`
	Routine   *models.Routine        `json:"routine"`
	Rutina    *models.Routine        `json:"rutina"`
}

// UnmarshalJSON accepts an object, a string, or an array whose first element is either
func (r *Reply) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		return json.Unmarshal(data, &r.Message)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return r.UnmarshalJSON(items[0])
	case '{':
		var f replyFields
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		r.Message = firstNonEmpty(f.Message, f.Respuesta, f.Text)
		r.Context = f.Context
		if r.Context == nil {
			r.Context = f.Contexto
		}
		switch {
		case f.Active != nil:
			r.Active = *f.Active
		case f.Activa != nil:
			r.Active = *f.Activa
		default:
			r.Active = f.Session != nil
		}
		r.Session = f.Session
		r.Routine = f.Routine
		if r.Routine == nil {
			r.Routine = f.Rutina
		}
		return nil
	default:
		return fmt.Errorf("unexpected reply body: %.40s", data)
	}
}

// DecodeRaw decodes a response body, treating anything that is not JSON as plain text
func (r *Reply) DecodeRaw(data []byte) error {
	if json.Valid(data) {
		return r.UnmarshalJSON(data)
	}
	r.Message = string(bytes.TrimSpace(data))
	return nil
}

// ClientMessage extracts the human-readable reason from a 4xx response body,
// or "" when err is not a client error or the body carries no reason.
func ClientMessage(err error) string {
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode < 400 || se.StatusCode >= 500 {
		return ""
	}
	var body struct {
		Detail    interface{} `json:"detail"`
		Message   string      `json:"message"`
		Respuesta string      `json:"respuesta"`
	}
	if json.Unmarshal([]byte(se.Body), &body) != nil {
		return ""
	}
	detail, _ := body.Detail.(string)
	return firstNonEmpty(body.Message, body.Respuesta, detail)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Route is one step of a fallback chain
type Route struct {
	Path   string
	Policy RetryPolicy
}

// Client exposes the backend operations the bot needs
type Client struct {
	gateway *Gateway
	session RetryPolicy
	chat    RetryPolicy
	data    RetryPolicy
	logger  *logrus.Logger
}

// NewClient creates a backend client with per call-site retry policies
func NewClient(gateway *Gateway, cfg config.BackendConfig, logger *logrus.Logger) *Client {
	return &Client{
		gateway: gateway,
		session: PolicyFromConfig(cfg.Session),
		chat:    PolicyFromConfig(cfg.Chat),
		data:    PolicyFromConfig(cfg.Data),
		logger:  logger,
	}
}

// ChatRoutes is the chain used for plain conversation
func (c *Client) ChatRoutes() []Route {
	return []Route{{Path: PathQuery, Policy: c.chat}}
}

// DataRoutes is the chain used for questions about the sender's history.
// The lighter chat endpoint answers when the data-aware one fails.
func (c *Client) DataRoutes() []Route {
	return []Route{
		{Path: PathQueryWithData, Policy: c.data},
		{Path: PathQuery, Policy: c.chat},
	}
}

// Ask posts req to each route in order and returns the first successful reply.
// When every route fails the last error is returned.
func (c *Client) Ask(ctx context.Context, routes []Route, req QueryRequest) (*Reply, error) {
	if len(routes) == 0 {
		return nil, errors.New("no routes to ask")
	}

	var lastErr error
	for i, route := range routes {
		var reply Reply
		err := c.gateway.Call(ctx, http.MethodPost, route.Path, req, &reply, route.Policy)
		if err == nil {
			return &reply, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if i < len(routes)-1 {
			c.logger.WithFields(logrus.Fields{
				"path":       route.Path,
				"next":       routes[i+1].Path,
				"request_id": RequestIDFromContext(ctx),
			}).WithError(err).Warn("Backend route failed, falling back")
		}
	}
	return nil, lastErr
}

// ActiveSession returns whether the sender has an open workout and, if the
// backend includes it, a description of that workout
func (c *Client) ActiveSession(ctx context.Context, senderID string) (*Reply, error) {
	var reply Reply
	path := PathActive + url.PathEscape(senderID)
	if err := c.gateway.Call(ctx, http.MethodGet, path, nil, &reply, c.session); err != nil {
		return nil, err
	}
	return &reply, nil
}

// IsActive adapts ActiveSession to the active-session cache lookup
func (c *Client) IsActive(ctx context.Context, senderID string) (bool, error) {
	reply, err := c.ActiveSession(ctx, senderID)
	if err != nil {
		return false, err
	}
	return reply.Active, nil
}

// StartSession opens a workout
func (c *Client) StartSession(ctx context.Context, senderID string) (*Reply, error) {
	return c.mutate(ctx, PathStart, SessionRequest{SenderID: senderID})
}

// LogExercise records free text describing an exercise in the open workout
func (c *Client) LogExercise(ctx context.Context, senderID, text string) (*Reply, error) {
	return c.mutate(ctx, PathLogExercise, SessionRequest{SenderID: senderID, Text: text})
}

// FinishSession closes the open workout
func (c *Client) FinishSession(ctx context.Context, senderID string) (*Reply, error) {
	return c.mutate(ctx, PathFinish, SessionRequest{SenderID: senderID})
}

// CancelSession discards the open workout
func (c *Client) CancelSession(ctx context.Context, senderID string) (*Reply, error) {
	return c.mutate(ctx, PathCancel, SessionRequest{SenderID: senderID})
}

func (c *Client) mutate(ctx context.Context, path string, req SessionRequest) (*Reply, error) {
	var reply Reply
	if err := c.gateway.Call(ctx, http.MethodPost, path, req, &reply, c.session); err != nil {
		return nil, err
	}
	return &reply, nil
}

// GenerateRoutine asks the backend for a routine of the given type ("" lets it choose)
func (c *Client) GenerateRoutine(ctx context.Context, senderID, routineType string) (*Reply, error) {
	var reply Reply
	req := RoutineRequest{SenderID: senderID, Type: routineType}
	if err := c.gateway.Call(ctx, http.MethodPost, PathRoutine, req, &reply, c.data); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Health checks the backend once, without retries
func (c *Client) Health(ctx context.Context) error {
	policy := RetryPolicy{MaxAttempts: 1, Timeout: c.session.Timeout}
	return c.gateway.Call(ctx, http.MethodGet, PathHealth, nil, nil, policy)
}
