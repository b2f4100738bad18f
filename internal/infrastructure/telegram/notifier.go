package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"proupgrade-backend/internal/domain"
)

const (
	MaxMessageLen = 4096

	// PlaceholderToken is the value shipped in sample env files.
	PlaceholderToken = "YOUR_BOT_TOKEN_HERE"

	defaultTimeout = 10 * time.Second
)

// Sender is the part of *bot.Bot the notifier needs.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

type Notifier struct {
	sender  Sender
	chatID  int64
	timeout time.Duration
	printer *message.Printer
	loc     *time.Location
	log     *slog.Logger
}

// NewNotifier returns a notifier posting to chatID. Missing or placeholder
// credentials give a disabled notifier whose Send is a logged no-op.
func NewNotifier(token string, chatID int64, timeout time.Duration) (*Notifier, error) {
	n := newNotifier(nil, chatID, timeout)
	token = strings.TrimSpace(token)
	if token == "" || token == PlaceholderToken || chatID == 0 {
		n.log.Warn("telegram bot token or chat id not configured, notifications disabled")
		return n, nil
	}
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	n.sender = b
	n.log.Info("telegram notifier ready", "chat_id", chatID)
	return n, nil
}

// NewNotifierWithSender wires an existing sender, typically a fake in tests.
func NewNotifierWithSender(sender Sender, chatID int64, timeout time.Duration) *Notifier {
	return newNotifier(sender, chatID, timeout)
}

func newNotifier(sender Sender, chatID int64, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		loc = time.FixedZone("ICT", 7*60*60)
	}
	return &Notifier{
		sender:  sender,
		chatID:  chatID,
		timeout: timeout,
		printer: message.NewPrinter(language.Vietnamese),
		loc:     loc,
		log:     slog.Default().With("component", "telegram"),
	}
}

func (n *Notifier) Enabled() bool {
	return n.sender != nil
}

// Send posts the order summary. When Telegram rejects the HTML it retries
// once with the tags stripped.
func (n *Notifier) Send(ctx context.Context, o *domain.Order) error {
	if !n.Enabled() {
		n.log.Warn("bot token not configured, skipping notification", "code", o.Code)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	text := truncate(n.Format(o))
	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err == nil {
		n.log.Info("notification sent", "code", o.Code)
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("send notification: %w", err)
	}

	n.log.Warn("html send failed, falling back to plain text", "code", o.Code, "error", err)
	plain, perr := PlainText(text)
	if perr != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	if _, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   plain,
	}); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	n.log.Info("notification sent", "code", o.Code, "format", "plain")
	return nil
}

// Format renders the HTML message for o.
func (n *Notifier) Format(o *domain.Order) string {
	title := "🎉 <b>New Google Pro Purchase!</b>"
	if o.Type == domain.OrderUpgradeRequest {
		title = "🚀 <b>New Upgrade Request!</b>"
	}

	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "💰 <b>Amount:</b> %s VND\n", n.FormatAmount(o.Amount))
	fmt.Fprintf(&sb, "📦 <b>Plan:</b> %s\n", html.EscapeString(o.PlanID))
	fmt.Fprintf(&sb, "🏷️ <b>Code:</b> %s\n", html.EscapeString(o.Code))
	if o.ContactInfo != "" {
		fmt.Fprintf(&sb, "☎️ <b>Contact:</b> %s\n", html.EscapeString(o.ContactInfo))
	}
	sb.WriteString("\n📧 <b>Emails:</b>\n")
	for _, e := range o.Emails {
		fmt.Fprintf(&sb, "- %s\n", html.EscapeString(e))
	}
	fmt.Fprintf(&sb, "\n⏰ <b>Time:</b> %s", o.CreatedAt.In(n.loc).Format("15:04:05 2/1/2006"))
	return sb.String()
}

// FormatAmount groups thousands the Vietnamese way: 35000 -> "35.000".
func (n *Notifier) FormatAmount(amount int64) string {
	return n.printer.Sprintf("%d", amount)
}

// PlainText strips HTML markup and unescapes entities.
func PlainText(htmlText string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return doc.Text(), nil
}

func truncate(text string) string {
	if r := []rune(text); len(r) > MaxMessageLen {
		return string(r[:MaxMessageLen-20]) + "\n\n... (truncated)"
	}
	return text
}
