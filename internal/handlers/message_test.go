package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trener-gymbot-go/internal/config"
	"github.com/trener-gymbot-go/internal/i18n"
	"github.com/trener-gymbot-go/internal/intent"
	"github.com/trener-gymbot-go/internal/middleware"
	"github.com/trener-gymbot-go/internal/models"
	"github.com/trener-gymbot-go/internal/services/api"
	"github.com/trener-gymbot-go/internal/services/cache"
	"github.com/trener-gymbot-go/internal/services/session"
	"github.com/trener-gymbot-go/internal/services/storage"
	"github.com/trener-gymbot-go/internal/transport"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []string
	typing []bool
}

func (f *fakeTransport) SetTyping(ctx context.Context, roomID string, on bool, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, on)
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, roomID, text string, html bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTransport) MaxMessageLength() int { return 4096 }

func (f *fakeTransport) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) typingCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.typing...)
}

// gymServer fakes every backend endpoint the bot talks to
type gymServer struct {
	mu       sync.Mutex
	active   map[string]bool
	calls    []string
	queries  []api.QueryRequest
	failChat bool
	failData bool
}

func (g *gymServer) serve(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, r.Method+" "+r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasPrefix(r.URL.Path, api.PathActive):
		sender := strings.TrimPrefix(r.URL.Path, api.PathActive)
		json.NewEncoder(w).Encode(map[string]bool{"active": g.active[sender]})
	case r.URL.Path == api.PathStart:
		var req api.SessionRequest
		json.NewDecoder(r.Body).Decode(&req)
		g.active[req.SenderID] = true
		w.Write([]byte(`{"message":"Entrenamiento iniciado"}`))
	case r.URL.Path == api.PathLogExercise:
		var req api.SessionRequest
		json.NewDecoder(r.Body).Decode(&req)
		w.Write([]byte(`{"message":"Registrado: ` + req.Text + `"}`))
	case r.URL.Path == api.PathFinish:
		var req api.SessionRequest
		json.NewDecoder(r.Body).Decode(&req)
		g.active[req.SenderID] = false
		w.Write([]byte(`{"message":"Entrenamiento guardado"}`))
	case r.URL.Path == api.PathQuery:
		var req api.QueryRequest
		json.NewDecoder(r.Body).Decode(&req)
		g.queries = append(g.queries, req)
		if g.failChat {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		turns := append(req.Context,
			models.Turn{Role: models.RoleUser, Content: req.Message},
			models.Turn{Role: models.RoleAssistant, Content: "chat: " + req.Message},
		)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": "chat: " + req.Message,
			"context": turns,
		})
	case r.URL.Path == api.PathQueryWithData:
		var req api.QueryRequest
		json.NewDecoder(r.Body).Decode(&req)
		g.queries = append(g.queries, req)
		if g.failData {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"respuesta":"Llevas 4 semanas seguidas"}`))
	case r.URL.Path == api.PathRoutine:
		w.Write([]byte(`{"rutina":{"nombre":"Push A","tipo":"push","ejercicios":[{"nombre":"Press banca","series":4,"repeticiones":10,"peso_kg":60}]}}`))
	case r.URL.Path == api.PathHealth:
		w.Write([]byte(`{"status":"ok"}`))
	default:
		http.NotFound(w, r)
	}
}

func (g *gymServer) callLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *gymServer) queryLog() []api.QueryRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]api.QueryRequest(nil), g.queries...)
}

type testBot struct {
	handler   *MessageHandler
	transport *fakeTransport
	backend   *gymServer
	contexts  *storage.MemoryContextStore
	localizer *i18n.Localizer
}

func newTestBot(t *testing.T, notify bool) *testBot {
	return newTestBotWithSessions(t, notify, nil)
}

// newTestBotWithSessions wires the full pipeline against a fake backend.
// A non-nil sessions replaces the real session controller.
func newTestBotWithSessions(t *testing.T, notify bool, sessions Sessions) *testBot {
	logger := quietLogger()
	gym := &gymServer{active: map[string]bool{}}
	srv := httptest.NewServer(http.HandlerFunc(gym.serve))
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Bot:       config.BotConfig{TypingTimeout: time.Second},
		RateLimit: config.RateLimitConfig{Enabled: true, Window: 10 * time.Second, MaxPerWindow: 5, Notify: notify},
		Delivery:  config.DeliveryConfig{MaxMessageLength: 4000},
		Input:     config.InputConfig{MaxLength: 200},
	}

	localizer, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "es", Languages: []string{"es", "en"}})
	require.NoError(t, err)

	policy := config.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, Timeout: time.Second}
	metrics := middleware.NewMetrics()
	client := api.NewClient(
		api.NewGateway(srv.URL, metrics, logger),
		config.BackendConfig{BaseURL: srv.URL, Session: policy, Chat: policy, Data: policy},
		logger,
	)

	if sessions == nil {
		activeCache := cache.NewActiveSessionCache(time.Minute, client.IsActive, metrics, logger)
		sessions = session.NewController(client, activeCache, localizer, logger)
	}

	contexts := storage.NewMemoryContextStore(6, time.Hour, time.Hour, logger)
	limiter := middleware.NewRateLimiter(cfg, logger)
	commands := NewCommandHandler(sessions, contexts, client, localizer, metrics, logger)
	classifier := intent.NewClassifier(intent.DefaultKeywords(), commands.Names()...)

	ft := &fakeTransport{}
	h := NewMessageHandler(cfg, ft, limiter, classifier, commands, sessions, contexts, client, localizer, metrics, logger)

	return &testBot{handler: h, transport: ft, backend: gym, contexts: contexts, localizer: localizer}
}

func inbound(text string) transport.InboundMessage {
	return transport.InboundMessage{
		ID:        "1",
		SenderID:  "alice",
		RoomID:    "room-1",
		Text:      text,
		Timestamp: time.Now(),
	}
}

func (b *testBot) send(text string) string {
	before := len(b.transport.messages())
	b.handler.HandleMessage(context.Background(), inbound(text))
	sent := b.transport.messages()
	if len(sent) == before {
		return ""
	}
	return strings.Join(sent[before:], "\n")
}

func TestHandleMessage_ExerciseStartsWorkout(t *testing.T) {
	bot := newTestBot(t, false)

	reply := bot.send("Sentadilla 80kg 5x5")

	assert.Contains(t, reply, "Entrenamiento iniciado")
	assert.Contains(t, reply, "Registrado: Sentadilla 80kg 5x5")
	assert.Equal(t, []string{
		"GET /session/active/alice",
		"POST /session/start",
		"POST /session/log-exercise",
	}, bot.backend.callLog())

	typing := bot.transport.typingCalls()
	require.NotEmpty(t, typing)
	assert.True(t, typing[0])
	assert.False(t, typing[len(typing)-1])
}

func TestHandleMessage_ShortWordsDependOnSession(t *testing.T) {
	bot := newTestBot(t, false)

	reply := bot.send("terminar")
	assert.Equal(t, "chat: terminar", reply, "without a workout it is just chat")

	bot.send("/iniciar")
	reply = bot.send("terminar")
	assert.Equal(t, "Entrenamiento guardado", reply)
}

func TestHandleMessage_ChatKeepsContext(t *testing.T) {
	bot := newTestBot(t, false)

	assert.Equal(t, "chat: hola", bot.send("hola"))
	assert.Equal(t, "chat: que tal", bot.send("que tal"))

	queries := bot.backend.queryLog()
	require.Len(t, queries, 2)
	assert.Empty(t, queries[0].Context)
	assert.Equal(t, []models.Turn{
		{Role: models.RoleUser, Content: "hola"},
		{Role: models.RoleAssistant, Content: "chat: hola"},
	}, queries[1].Context)
	assert.Equal(t, "room-1", queries[1].RoomID)

	got := bot.contexts.Get(storage.Key{RoomID: "room-1", SenderID: "alice"})
	assert.Len(t, got, 4)
}

func TestHandleMessage_DataQueryKeepsContextWhenNoneReturned(t *testing.T) {
	bot := newTestBot(t, false)

	bot.send("hola")
	reply := bot.send("Cuál es mi racha")

	assert.Equal(t, "Llevas 4 semanas seguidas", reply)
	assert.Contains(t, bot.backend.callLog(), "POST "+api.PathQueryWithData)
	assert.Len(t, bot.contexts.Get(storage.Key{RoomID: "room-1", SenderID: "alice"}), 2)
}

func TestHandleMessage_DataQueryFallsBackToChat(t *testing.T) {
	bot := newTestBot(t, false)
	bot.backend.mu.Lock()
	bot.backend.failData = true
	bot.backend.mu.Unlock()

	reply := bot.send("Cuál es mi racha")

	assert.Equal(t, "chat: Cuál es mi racha", reply)
}

func TestHandleMessage_BackendDown(t *testing.T) {
	bot := newTestBot(t, false)
	bot.backend.mu.Lock()
	bot.backend.failChat = true
	bot.backend.mu.Unlock()

	reply := bot.send("hola")

	assert.Equal(t, bot.localizer.Default(i18n.MsgTemporarilyUnavailable), reply)
	assert.Len(t, bot.backend.queryLog(), 2, "chat policy retries once")
}

func TestHandleMessage_RateLimit(t *testing.T) {
	bot := newTestBot(t, false)

	for i := 0; i < 5; i++ {
		assert.NotEmpty(t, bot.send("hola"))
	}
	assert.Empty(t, bot.send("hola"), "rejections are silent by default")
	assert.Len(t, bot.backend.queryLog(), 5)
}

func TestHandleMessage_RateLimitNotify(t *testing.T) {
	bot := newTestBot(t, true)

	for i := 0; i < 5; i++ {
		bot.send("hola")
	}
	reply := bot.send("hola")

	assert.Contains(t, reply, "Vas muy rápido")
	assert.Len(t, bot.backend.queryLog(), 5)
}

func TestHandleMessage_InputTooLong(t *testing.T) {
	bot := newTestBot(t, false)

	reply := bot.send(strings.Repeat("a", 201))

	assert.Contains(t, reply, "No puedo procesar ese mensaje")
	assert.Empty(t, bot.backend.callLog())
}

func TestHandleMessage_Commands(t *testing.T) {
	bot := newTestBot(t, false)

	assert.Contains(t, bot.send("/ayuda"), "/rutina")
	assert.Contains(t, bot.send("/salud"), "El backend responde correctamente")

	routine := bot.send("/rutina push")
	assert.Contains(t, routine, "Push A")
	assert.Contains(t, routine, "Press banca: 4 x 10 @ 60 kg")

	bot.send("hola")
	key := storage.Key{RoomID: "room-1", SenderID: "alice"}
	require.NotEmpty(t, bot.contexts.Get(key))
	assert.Contains(t, bot.send("/limpiar"), "Contexto de la conversación borrado")
	assert.Empty(t, bot.contexts.Get(key))

	assert.Equal(t, "chat: /foo", bot.send("/foo"), "unknown commands are chat")
}

func TestHandleMessage_EnglishSender(t *testing.T) {
	bot := newTestBot(t, false)

	msg := inbound("/estado")
	msg.LanguageCode = "en-GB"
	bot.handler.HandleMessage(context.Background(), msg)

	sent := bot.transport.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "no workout in progress")
}

type panickingSessions struct{}

func (panickingSessions) IsActive(ctx context.Context, senderID string) bool { return false }
func (panickingSessions) Start(ctx context.Context, senderID string) string {
	panic(errors.New("boom"))
}
func (panickingSessions) LogExercise(ctx context.Context, senderID, text string) string { return "" }
func (panickingSessions) Finish(ctx context.Context, senderID string) string { return "" }
func (panickingSessions) Cancel(ctx context.Context, senderID string) string { return "" }
func (panickingSessions) DescribeActive(ctx context.Context, senderID string) string { return "" }

func TestHandleMessage_RecoversFromPanic(t *testing.T) {
	bot := newTestBotWithSessions(t, false, panickingSessions{})

	require.NotPanics(t, func() {
		bot.handler.HandleMessage(context.Background(), inbound("/iniciar"))
	})

	sent := bot.transport.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "algo salió mal")

	typing := bot.transport.typingCalls()
	require.NotEmpty(t, typing)
	assert.False(t, typing[len(typing)-1], "typing is cleared after a panic")
}

type panickingLimiter struct{}

func (panickingLimiter) Admit(senderID string, now time.Time) bool { panic("limiter state corrupted") }
func (panickingLimiter) Sweep(now time.Time) int { return 0 }

func TestHandleMessage_RecoversFromPanicBeforeRouting(t *testing.T) {
	bot := newTestBot(t, false)
	bot.handler.rateLimiter = panickingLimiter{}

	require.NotPanics(t, func() {
		bot.handler.HandleMessage(context.Background(), inbound("hola"))
	})

	sent := bot.transport.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "algo salió mal")
	assert.Empty(t, bot.transport.typingCalls(), "typing never started")
	assert.Empty(t, bot.backend.callLog())
}

func TestHandleMessage_LogsSenderName(t *testing.T) {
	bot := newTestBot(t, false)
	hook := logtest.NewLocal(bot.handler.logger)

	msg := inbound(strings.Repeat("a", 201))
	msg.SenderName = "Alice"
	bot.handler.HandleMessage(context.Background(), msg)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Input validation failed", entry.Message)
	assert.Equal(t, "Alice", entry.Data["sender_name"])
	assert.Equal(t, "alice", entry.Data["sender_id"])
}

func TestHandleMessage_EmptyReply(t *testing.T) {
	bot := newTestBotWithSessions(t, false, panickingSessions{})

	// LogExercise returns "" in the fake
	reply := bot.send("dominadas 10 8 6")

	assert.Contains(t, reply, "No obtuve respuesta del servicio")
}
