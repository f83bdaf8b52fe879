package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// sender es la parte de *tgbotapi.BotAPI que usamos.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram implementa ports.Telemetry enviando alertas a un chat.
// Emit solo formatea y encola; Run hace los envíos.
type Telegram struct {
	api     sender
	chatID  int64
	queue   chan string
	dropped atomic.Int64
}

// NewTelegram conecta con la API del bot (getMe) y crea el sink.
func NewTelegram(token string, chatID int64, buffer int) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify.NewTelegram: %w", err)
	}
	slog.Info("telegram: authorized", "bot", api.Self.UserName)
	return newTelegram(api, chatID, buffer), nil
}

func newTelegram(api sender, chatID int64, buffer int) *Telegram {
	if buffer <= 0 {
		buffer = 64
	}
	return &Telegram{api: api, chatID: chatID, queue: make(chan string, buffer)}
}

// Emit encola una alerta para los eventos que interesan a un humano.
func (t *Telegram) Emit(ev domain.Event) {
	text, ok := formatAlert(ev)
	if !ok {
		return
	}
	select {
	case t.queue <- text:
	default:
		if n := t.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("telegram: queue full, dropping alerts", "dropped", n)
		}
	}
}

// Observe no envía nada: los snapshots son demasiado frecuentes para un chat.
func (t *Telegram) Observe(domain.Snapshot) {}

// Run envía las alertas encoladas hasta que ctx se cancela.
func (t *Telegram) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-t.queue:
			msg := tgbotapi.NewMessage(t.chatID, text)
			msg.ParseMode = tgbotapi.ModeMarkdown
			if _, err := t.api.Send(msg); err != nil {
				slog.Warn("telegram: send failed", "err", err)
			}
		}
	}
}

// formatAlert devuelve el texto Markdown de un evento, o false si no se alerta.
func formatAlert(ev domain.Event) (string, bool) {
	f := ev.Fields
	contract := strings.ReplaceAll(ev.ContractID, "`", "")
	switch ev.Kind {
	case domain.EventIntentAdmitted:
		return fmt.Sprintf("🔨 *Intent* `%s`\n%s @ %.3f × %.1f\nEV %.4f · p̂ %.3f",
			contract, field(f, "side"), num(f, "limit"), num(f, "size"), num(f, "ev"), num(f, "p_hat")), true

	case domain.EventFillOutcome:
		status := field(f, "status")
		icon := "✅"
		if status != string(domain.FillFilled) && status != string(domain.FillPartial) {
			icon = "⚠️"
		}
		text := fmt.Sprintf("%s *%s* `%s`\nfilled %.1f @ %.3f · fee $%.4f",
			icon, status, contract, num(f, "filled"), num(f, "avg_price"), num(f, "fee"))
		if reason := field(f, "reason"); reason != "" {
			text += "\n" + escapeMarkdown(reason)
		}
		if dry, _ := f["dry_run"].(bool); dry {
			text += "\n_dry-run_"
		}
		return text, true

	case domain.EventSettlement:
		icon := "🟢"
		if field(f, "side") != field(f, "winner") {
			icon = "🔴"
		}
		return fmt.Sprintf("%s *Settled* `%s`\n%s (winner %s) · PnL $%.4f",
			icon, contract, field(f, "side"), field(f, "winner"), num(f, "pnl")), true

	case domain.EventFeedMode:
		text := fmt.Sprintf("📡 *Feed* %s (staleness %.1fs)", field(f, "mode"), num(f, "staleness_s"))
		if reduced, _ := f["reduced_confidence"].(bool); reduced {
			text += "\n_reduced confidence_"
		}
		return text, true

	case domain.EventContractInvalid:
		return fmt.Sprintf("❌ *Invalid contract* `%s`", contract), true
	}
	return "", false
}

func field(f map[string]any, key string) string {
	switch v := f[key].(type) {
	case string:
		return escapeMarkdown(v)
	case fmt.Stringer:
		return escapeMarkdown(v.String())
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func num(f map[string]any, key string) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
