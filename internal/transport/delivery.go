package transport

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/trener-gymbot-go/internal/config"
	"github.com/trener-gymbot-go/pkg/formatter"
	"github.com/trener-gymbot-go/pkg/markdown"
	"golang.org/x/time/rate"
)

// Deliverer splits replies into transport-sized chunks and sends them in order
type Deliverer struct {
	transport Transport
	maxLength int
	interval  time.Duration
	logger    *logrus.Logger
}

// NewDeliverer creates a deliverer. The chunk size is the smaller of the
// configured length and the transport's own limit.
func NewDeliverer(t Transport, cfg config.DeliveryConfig, logger *logrus.Logger) *Deliverer {
	maxLength := t.MaxMessageLength()
	if cfg.MaxMessageLength > 0 && (maxLength <= 0 || cfg.MaxMessageLength < maxLength) {
		maxLength = cfg.MaxMessageLength
	}
	return &Deliverer{
		transport: t,
		maxLength: maxLength,
		interval:  cfg.ChunkInterval,
		logger:    logger,
	}
}

// Deliver sends text to the room. Each chunk is rendered to HTML and resent
// as plain text if the transport rejects the markup.
func (d *Deliverer) Deliver(ctx context.Context, roomID, text string) error {
	chunks := formatter.Chunk(text, d.maxLength)

	limit := rate.Inf
	if d.interval > 0 {
		limit = rate.Every(d.interval)
	}
	pacer := rate.NewLimiter(limit, 1)

	sent := 0
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		if err := pacer.Wait(ctx); err != nil {
			return fmt.Errorf("delivery interrupted after %d chunks: %w", sent, err)
		}
		if err := d.sendChunk(ctx, roomID, chunk); err != nil {
			return fmt.Errorf("failed to send chunk %d/%d: %w", i+1, len(chunks), err)
		}
		sent++
	}

	if len(chunks) > 1 {
		d.logger.WithFields(logrus.Fields{
			"room_id": roomID,
			"chunks":  sent,
		}).Debug("Reply delivered in chunks")
	}
	return nil
}

func (d *Deliverer) sendChunk(ctx context.Context, roomID, chunk string) error {
	html := markdown.ToTelegramHTML(chunk)
	if n := utf8.RuneCountInString(html); n > d.maxLength {
		// escaping and tags can push a full chunk over the limit
		d.logger.WithFields(logrus.Fields{
			"room_id": roomID,
			"length":  n,
			"limit":   d.maxLength,
		}).Debug("Rendered chunk too long, sending plain text")
		html = ""
	}
	if html != "" {
		err := d.transport.Send(ctx, roomID, html, true)
		if err == nil {
			return nil
		}
		d.logger.WithError(err).WithField("room_id", roomID).Warn("Failed to send HTML reply, trying plain text")
	}
	return d.transport.Send(ctx, roomID, markdown.StripMarkdown(chunk), false)
}
