package transport

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/trener-gymbot-go/internal/config"
)

// telegramMaxMessageLength is the Bot API limit for message text
const telegramMaxMessageLength = 4096

// Telegram is the Bot API transport. Rooms are chat ids and senders are user
// ids, both in decimal.
type Telegram struct {
	bot           *tgbotapi.BotAPI
	updateTimeout int
	startedAt     time.Time
	logger        *logrus.Logger
}

// NewTelegram authorizes the bot and returns the transport
func NewTelegram(cfg config.BotConfig, debug bool, logger *logrus.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	bot.Debug = debug

	logger.WithField("username", bot.Self.UserName).Info("Bot authorized")

	return &Telegram{
		bot:           bot,
		updateTimeout: cfg.UpdateTimeout,
		startedAt:     time.Now(),
		logger:        logger,
	}, nil
}

// Messages long-polls for updates and emits the text messages addressed to
// the bot. The channel is closed once ctx is done.
func (t *Telegram) Messages(ctx context.Context) <-chan InboundMessage {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.updateTimeout
	updates := t.bot.GetUpdatesChan(u)

	out := make(chan InboundMessage)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				t.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				msg, ok := ToInbound(update.Message, t.bot.Self.ID, t.startedAt)
				if !ok {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					t.bot.StopReceivingUpdates()
					return
				}
			}
		}
	}()

	t.logger.Info("Using long polling")
	return out
}

// ToInbound converts a Bot API message. It drops non-text messages, messages
// from bots (including this one) and messages sent before startedAt, which
// Telegram redelivers after a restart.
func ToInbound(m *tgbotapi.Message, selfID int64, startedAt time.Time) (InboundMessage, bool) {
	if m == nil || m.From == nil || m.Chat == nil || m.Text == "" {
		return InboundMessage{}, false
	}
	if m.From.IsBot || m.From.ID == selfID {
		return InboundMessage{}, false
	}
	// message dates have second resolution
	if m.Time().Before(startedAt.Truncate(time.Second)) {
		return InboundMessage{}, false
	}

	return InboundMessage{
		ID:           strconv.Itoa(m.MessageID),
		SenderID:     strconv.FormatInt(m.From.ID, 10),
		SenderName:   m.From.UserName,
		RoomID:       strconv.FormatInt(m.Chat.ID, 10),
		Text:         m.Text,
		LanguageCode: m.From.LanguageCode,
		Timestamp:    m.Time(),
	}, true
}

// SetTyping sends the typing chat action. Telegram clears it by itself after
// a few seconds or when a message is sent, so turning it off is a no-op.
func (t *Telegram) SetTyping(ctx context.Context, roomID string, on bool, timeout time.Duration) error {
	if !on {
		return nil
	}
	chatID, err := parseChatID(roomID)
	if err != nil {
		return err
	}
	_, err = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

// Send posts a message to the chat
func (t *Telegram) Send(ctx context.Context, roomID, text string, html bool) error {
	chatID, err := parseChatID(roomID)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if html {
		msg.ParseMode = tgbotapi.ModeHTML
	}
	msg.DisableWebPagePreview = true

	_, err = t.bot.Send(msg)
	return err
}

// MaxMessageLength returns the Bot API text limit
func (t *Telegram) MaxMessageLength() int {
	return telegramMaxMessageLength
}

func parseChatID(roomID string) (int64, error) {
	id, err := strconv.ParseInt(roomID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", roomID, err)
	}
	return id, nil
}
