package sinks

import (
	"context"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/events"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/metrics"
)

// botAPI is the slice of tgbotapi.BotAPI the sink needs; swappable in tests.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers listing events as HTML-formatted bot messages.
// Delivery is best-effort: failures are logged and counted, never
// returned to the reconciliation path.
type Telegram struct {
	bot    botAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegram creates the sink from a bot token and target chat.
func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{bot: bot, chatID: chatID, logger: logger}, nil
}

// NewTelegramWithBot wires an existing bot client (primarily for testing).
func NewTelegramWithBot(bot botAPI, chatID int64, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{bot: bot, chatID: chatID, logger: logger}
}

// Consume sends one message per event. A failed send is logged and
// skipped; the rest of the batch is still attempted.
func (s *Telegram) Consume(ctx context.Context, batch []events.Event) error {
	for _, evt := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(s.chatID, formatMessage(evt))
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = false
		if _, err := s.bot.Send(msg); err != nil {
			metrics.ObserveNotificationError()
			s.logger.Warn("telegram send failed",
				zap.String("url", evt.Listing.URL),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Close implements events.Sink.
func (s *Telegram) Close(context.Context) error { return nil }

func formatMessage(evt events.Event) string {
	l := evt.Listing
	var b strings.Builder
	switch evt.Type {
	case events.TypePriceChange:
		arrow := "📈"
		if evt.NewPrice < evt.OldPrice {
			arrow = "📉"
		}
		fmt.Fprintf(&b, "%s <b>Promena cene</b>\n", arrow)
		fmt.Fprintf(&b, "💰 %s → %s\n", formatPrice(evt.OldPrice), formatPrice(evt.NewPrice))
	default:
		if l.Type == listing.TypeSale {
			b.WriteString("🏡 <b>PRODAJA: Novi oglas</b>\n")
		} else {
			b.WriteString("🏠 <b>Novi oglas</b>\n")
		}
		fmt.Fprintf(&b, "💰 %s\n", formatPrice(l.Price))
	}
	if l.Title != "" {
		fmt.Fprintf(&b, "📋 %s\n", html.EscapeString(l.Title))
	}
	if l.Location != "" {
		fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(l.Location))
	}
	if l.Area > 0 {
		fmt.Fprintf(&b, "📐 %d m²\n", l.Area)
	}
	if l.Rooms != "" {
		fmt.Fprintf(&b, "🛏 %s\n", html.EscapeString(l.Rooms))
	}
	fmt.Fprintf(&b, `<a href="%s">Pogledaj oglas</a>`, l.URL)
	return b.String()
}

func formatPrice(price float64) string {
	if price <= 0 {
		return "Cena nije navedena"
	}
	return fmt.Sprintf("%.0f EUR", price)
}
