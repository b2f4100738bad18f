package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proupgrade-backend/internal/domain"
)

type fakeSender struct {
	calls []*bot.SendMessageParams
	errs  []error
}

func (f *fakeSender) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.calls = append(f.calls, params)
	if i := len(f.calls) - 1; i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return &models.Message{ID: len(f.calls)}, nil
}

func purchase() *domain.Order {
	return &domain.Order{
		Code:      "PRO555111",
		Emails:    []string{"a@example.com", "b@example.com"},
		PlanID:    "pro-1y",
		Amount:    35000,
		Status:    domain.OrderPaid,
		Type:      domain.OrderPurchase,
		CreatedAt: time.Date(2025, 2, 3, 1, 4, 5, 0, time.UTC),
	}
}

func TestFormatAmount(t *testing.T) {
	n := NewNotifierWithSender(nil, 1, 0)
	assert.Equal(t, "35.000", n.FormatAmount(35000))
	assert.Equal(t, "1.250.000", n.FormatAmount(1250000))
	assert.Equal(t, "500", n.FormatAmount(500))
}

func TestFormat_Purchase(t *testing.T) {
	n := NewNotifierWithSender(nil, 1, 0)
	msg := n.Format(purchase())

	assert.True(t, strings.HasPrefix(msg, "🎉 <b>New Google Pro Purchase!</b>"))
	assert.Contains(t, msg, "35.000 VND")
	assert.Contains(t, msg, "PRO555111")
	assert.Contains(t, msg, "- a@example.com\n- b@example.com")
	assert.Contains(t, msg, "08:04:05 3/2/2025")
	assert.NotContains(t, msg, "Contact")
}

func TestFormat_UpgradeRequestEscapesInput(t *testing.T) {
	n := NewNotifierWithSender(nil, 1, 0)
	o := purchase()
	o.Type = domain.OrderUpgradeRequest
	o.ContactInfo = "<script>x</script>"
	o.Emails = []string{"a&b@example.com"}

	msg := n.Format(o)
	assert.True(t, strings.HasPrefix(msg, "🚀 <b>New Upgrade Request!</b>"))
	assert.Contains(t, msg, "&lt;script&gt;x&lt;/script&gt;")
	assert.Contains(t, msg, "a&amp;b@example.com")
}

func TestSend_HTML(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifierWithSender(s, 42, time.Second)

	require.NoError(t, n.Send(context.Background(), purchase()))
	require.Len(t, s.calls, 1)
	assert.Equal(t, int64(42), s.calls[0].ChatID)
	assert.Equal(t, models.ParseModeHTML, s.calls[0].ParseMode)
}

func TestSend_FallsBackToPlainText(t *testing.T) {
	s := &fakeSender{errs: []error{errors.New("Bad Request: can't parse entities")}}
	n := NewNotifierWithSender(s, 42, time.Second)

	require.NoError(t, n.Send(context.Background(), purchase()))
	require.Len(t, s.calls, 2)
	assert.Empty(t, s.calls[1].ParseMode)
	assert.NotContains(t, s.calls[1].Text, "<b>")
	assert.Contains(t, s.calls[1].Text, "New Google Pro Purchase!")
}

func TestSend_BothAttemptsFail(t *testing.T) {
	boom := errors.New("telegram down")
	s := &fakeSender{errs: []error{boom, boom}}
	n := NewNotifierWithSender(s, 42, time.Second)

	err := n.Send(context.Background(), purchase())
	assert.ErrorIs(t, err, boom)
}

func TestSend_DeadlineSkipsFallback(t *testing.T) {
	s := &fakeSender{errs: []error{context.DeadlineExceeded}}
	n := NewNotifierWithSender(s, 42, time.Second)

	err := n.Send(context.Background(), purchase())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, s.calls, 1)
}

func TestNewNotifier_Disabled(t *testing.T) {
	for _, tc := range []struct {
		token  string
		chatID int64
	}{
		{"", 1},
		{PlaceholderToken, 1},
		{"123:abc", 0},
	} {
		n, err := NewNotifier(tc.token, tc.chatID, 0)
		require.NoError(t, err)
		assert.False(t, n.Enabled())
		assert.NoError(t, n.Send(context.Background(), purchase()))
	}
}

func TestPlainText(t *testing.T) {
	got, err := PlainText("<b>Amount:</b> 1 &amp; 2")
	require.NoError(t, err)
	assert.Equal(t, "Amount: 1 & 2", got)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("ư", MaxMessageLen+10)
	got := truncate(long)
	assert.LessOrEqual(t, len([]rune(got)), MaxMessageLen)
	assert.True(t, strings.HasSuffix(got, "(truncated)"))
	assert.Equal(t, "short", truncate("short"))
}
