package i18n

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trener-gymbot-go/internal/config"
)

func TestLocalizer(t *testing.T) {
	l, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "es", Languages: []string{"es", "en"}})
	require.NoError(t, err)

	assert.Contains(t, l.Get("es", MsgContextCleared, nil), "Contexto")
	assert.Contains(t, l.Get("en", MsgContextCleared, nil), "context cleared")
	assert.Equal(t, l.Get("es", MsgHelp, nil), l.Get("fr", MsgHelp, nil), "unknown language falls back to default")
	assert.Equal(t, "missing_id", l.Default("missing_id"))
}

func TestLocalizer_EveryMessageTranslated(t *testing.T) {
	l, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "es", Languages: []string{"es", "en"}})
	require.NoError(t, err)

	ids := []string{
		MsgWelcome, MsgHelp, MsgRateLimitExceeded, MsgInputInvalid, MsgError,
		MsgServiceUnavailable, MsgTemporarilyUnavailable, MsgRequestRejected, MsgSessionError,
		MsgSessionStarted, MsgSessionFinished, MsgSessionCancelled, MsgExerciseLogged,
		MsgNoActiveSession, MsgActiveSessionNone, MsgContextCleared, MsgHealthOK,
		MsgHealthDown, MsgRoutineError, MsgEmptyReply,
	}
	for _, lang := range []string{"es", "en"} {
		for _, id := range ids {
			assert.NotEqual(t, id, l.Get(lang, id, nil), "%s/%s", lang, id)
		}
	}
}

func TestLocalizer_UnknownLanguageFile(t *testing.T) {
	_, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "es", Languages: []string{"es", "de"}})
	assert.Error(t, err)
}

func TestLocalizer_LanguageFromContext(t *testing.T) {
	l, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "es", Languages: []string{"es", "en"}})
	require.NoError(t, err)

	ctx := WithLanguage(context.Background(), "en")
	assert.Equal(t, "en", LanguageFromContext(ctx))
	assert.Equal(t, l.Get("en", MsgHealthOK, nil), l.Ctx(ctx, MsgHealthOK))
	assert.Equal(t, l.Default(MsgHealthOK), l.Ctx(context.Background(), MsgHealthOK))
}

func TestLocalizer_Match(t *testing.T) {
	l, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "es", Languages: []string{"es", "en"}})
	require.NoError(t, err)

	assert.Equal(t, "en", l.Match("en"))
	assert.Equal(t, "en", l.Match("en-US"))
	assert.Equal(t, "es", l.Match("es-AR"))
	assert.Equal(t, "es", l.Match("pt-BR"))
	assert.Equal(t, "es", l.Match(""))
}
