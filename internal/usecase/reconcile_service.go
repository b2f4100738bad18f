package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"proupgrade-backend/internal/domain"
)

const defaultLookupTimeout = 10 * time.Second

var purchaseCodePattern = regexp.MustCompile(`(?i)PRO\s*(\d{6})`)

// TransactionFinder looks up the most recent logged transaction whose content
// contains the given text. A nil transaction with a nil error means not found.
type TransactionFinder interface {
	FindTransaction(ctx context.Context, content string) (*domain.Transaction, error)
}

// ReconcileService matches inbound payments against pending orders. Webhook
// calls, transaction-log pushes and status polls all end in the same
// PENDING -> PAID transition, which the repo performs as a compare-and-swap,
// so every order is confirmed and announced at most once.
type ReconcileService struct {
	Orders        OrderRepo
	TxLog         TransactionFinder
	Notifier      Notifier
	LookupTimeout time.Duration
	Logger        *slog.Logger
}

func NewReconcileService(orders OrderRepo, txLog TransactionFinder, notifier Notifier, lookupTimeout time.Duration) *ReconcileService {
	return &ReconcileService{
		Orders:        orders,
		TxLog:         txLog,
		Notifier:      notifier,
		LookupTimeout: lookupTimeout,
		Logger:        slog.Default().With("component", "reconcile"),
	}
}

// ExtractCode finds a PRO code in free-form transfer content, tolerating case
// and whitespace between the marker and the digits.
func ExtractCode(content string) (string, bool) {
	m := purchaseCodePattern.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return domain.PurchasePrefix + m[1], true
}

// ProcessWebhook reports whether the payment confirmed an order. A structured
// PRO code is tried first; if that yields nothing actionable every pending
// order whose code appears in the content is tried in creation order.
// A repeat of a payment for an order that is already PAID reports true
// without notifying again.
func (s *ReconcileService) ProcessWebhook(ctx context.Context, content string, amount int64) bool {
	s.Logger.Info("processing payment", "content", content, "amount", amount)

	if code, ok := ExtractCode(content); ok {
		if o, ok := s.markPaid(code, amount); ok {
			s.Logger.Info("order paid", "code", code, "via", "code_match")
			s.notify(ctx, o)
			return true
		}
		if o, found := s.Orders.Get(code); found {
			switch {
			case o.Status == domain.OrderPaid && o.Covers(amount):
				s.Logger.Info("payment repeats a confirmed order", "code", code)
				return true
			case o.Status == domain.OrderPending && !o.Covers(amount):
				s.Logger.Warn("amount mismatch", "code", code, "expected", o.Amount, "got", amount)
			}
		}
	}

	upper := strings.ToUpper(content)
	for _, o := range s.Orders.Pending() {
		if !strings.Contains(upper, o.Code) {
			continue
		}
		if paid, ok := s.markPaid(o.Code, amount); ok {
			s.Logger.Info("order paid", "code", o.Code, "via", "content_match")
			s.notify(ctx, paid)
			return true
		}
	}

	s.Logger.Info("payment matched no order", "content", content, "amount", amount)
	return false
}

// HandleTransaction feeds one logged transaction through ProcessWebhook.
func (s *ReconcileService) HandleTransaction(ctx context.Context, tx domain.Transaction) bool {
	return s.ProcessWebhook(ctx, tx.Content, tx.PaidAmount())
}

// Run consumes a transaction-log subscription until it closes or ctx ends.
func (s *ReconcileService) Run(ctx context.Context, txs <-chan domain.Transaction) {
	for {
		select {
		case <-ctx.Done():
			return
		case tx, ok := <-txs:
			if !ok {
				s.Logger.Info("transaction subscription closed")
				return
			}
			s.Logger.Debug("transaction pushed", "id", tx.ID)
			s.HandleTransaction(ctx, tx)
		}
	}
}

// Reconcile resolves the current state of an order for a status poll. Pending
// orders are checked against the transaction log; purchase codes missing from
// memory are rebuilt from the log as PAID with placeholder details. Lookup
// failures degrade to whatever is known locally. Codes that were never issued
// and are not known give ErrOrderNotFound.
func (s *ReconcileService) Reconcile(ctx context.Context, code string) (*domain.Order, error) {
	code = normalizeCode(code)
	if !domain.IsOrderCode(code) {
		return nil, fmt.Errorf("%w: malformed code %q", domain.ErrOrderNotFound, code)
	}
	o, ok := s.Orders.Get(code)
	if ok && o.Status != domain.OrderPending {
		return o, nil
	}
	if !ok && !strings.HasPrefix(code, domain.PurchasePrefix) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, code)
	}

	tx, err := s.lookup(ctx, code)
	if err != nil {
		s.Logger.Error("transaction lookup failed", "code", code, "error", err)
	}
	if tx == nil {
		if ok {
			return o, nil
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, code)
	}

	if ok {
		paid, transitioned := s.markPaid(code, tx.PaidAmount())
		if !transitioned {
			// Insufficient amount, or another path confirmed it meanwhile.
			cur, _ := s.Orders.Get(code)
			return cur, nil
		}
		s.Logger.Info("order paid", "code", code, "via", "status_poll", "transaction_id", tx.ID)
		s.notify(ctx, paid)
		return paid, nil
	}

	recovered := recoveredOrder(code, tx)
	if !s.Orders.PutIfAbsent(recovered) {
		cur, _ := s.Orders.Get(code)
		return cur, nil
	}
	s.Logger.Info("order recovered from transaction log", "code", code, "transaction_id", tx.ID)
	s.notify(ctx, recovered)
	return recovered, nil
}

func (s *ReconcileService) markPaid(code string, amount int64) (*domain.Order, bool) {
	return s.Orders.Transition(code, domain.OrderPending, domain.OrderPaid, func(o *domain.Order) bool {
		return o.Covers(amount)
	})
}

func (s *ReconcileService) lookup(ctx context.Context, code string) (*domain.Transaction, error) {
	if s.TxLog == nil {
		return nil, nil
	}
	timeout := s.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.TxLog.FindTransaction(ctx, code)
}

func (s *ReconcileService) notify(ctx context.Context, o *domain.Order) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Send(ctx, o); err != nil {
		s.Logger.Error("payment notification failed", "code", o.Code, "error", err)
	}
}

func recoveredOrder(code string, tx *domain.Transaction) *domain.Order {
	created := tx.TransactionDate
	if created.IsZero() {
		created = time.Now().UTC()
	}
	paidAt := tx.CreatedAt
	if paidAt.IsZero() {
		paidAt = created
	}
	return &domain.Order{
		Code:      code,
		Emails:    []string{domain.UnknownEmail},
		PlanID:    domain.UnknownPlan,
		Amount:    tx.PaidAmount(),
		Status:    domain.OrderPaid,
		Type:      domain.OrderPurchase,
		CreatedAt: created,
		PaidAt:    &paidAt,
	}
}
