package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/trener-gymbot-go/internal/config"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var locales embed.FS

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	defaultTag, err := language.Parse(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", cfg.DefaultLanguage, err)
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range cfg.Languages {
		if _, err := bundle.LoadMessageFileFS(locales, fmt.Sprintf("locales/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang, cfg.DefaultLanguage)
	}
	if _, ok := localizers[cfg.DefaultLanguage]; !ok {
		localizers[cfg.DefaultLanguage] = i18n.NewLocalizer(bundle, cfg.DefaultLanguage)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Default returns the message in the default language
func (l *Localizer) Default(messageID string) string {
	return l.Get(l.defaultLanguage, messageID, nil)
}

type languageKey struct{}

// WithLanguage attaches the sender's preferred language to ctx
func WithLanguage(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, languageKey{}, lang)
}

// LanguageFromContext returns the language attached to ctx, or ""
func LanguageFromContext(ctx context.Context) string {
	lang, _ := ctx.Value(languageKey{}).(string)
	return lang
}

// Ctx returns the message in the language carried by ctx
func (l *Localizer) Ctx(ctx context.Context, messageID string) string {
	return l.Get(LanguageFromContext(ctx), messageID, nil)
}

// Match maps a client language code such as "en-US" to a loaded language,
// falling back to the default
func (l *Localizer) Match(code string) string {
	if code == "" {
		return l.defaultLanguage
	}
	if _, ok := l.localizers[code]; ok {
		return code
	}
	base, _ := language.Make(code).Base()
	if _, ok := l.localizers[base.String()]; ok {
		return base.String()
	}
	return l.defaultLanguage
}

// Message IDs
const (
	MsgWelcome                = "welcome"
	MsgHelp                   = "help"
	MsgRateLimitExceeded      = "rate_limit_exceeded"
	MsgInputInvalid           = "input_invalid"
	MsgError                  = "error"
	MsgServiceUnavailable     = "service_unavailable"
	MsgTemporarilyUnavailable = "temporarily_unavailable"
	MsgRequestRejected        = "request_rejected"
	MsgSessionError           = "session_error"
	MsgSessionStarted         = "session_started"
	MsgSessionFinished        = "session_finished"
	MsgSessionCancelled       = "session_cancelled"
	MsgExerciseLogged         = "exercise_logged"
	MsgNoActiveSession        = "no_active_session"
	MsgActiveSessionNone      = "active_session_none"
	MsgContextCleared         = "context_cleared"
	MsgHealthOK               = "health_ok"
	MsgHealthDown             = "health_down"
	MsgRoutineError           = "routine_error"
	MsgEmptyReply             = "empty_reply"
)
