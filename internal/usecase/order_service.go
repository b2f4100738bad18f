package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"proupgrade-backend/internal/domain"
)

const defaultCodeAttempts = 8

type OrderRepo interface {
	Put(*domain.Order) error
	PutIfAbsent(*domain.Order) bool
	Get(code string) (*domain.Order, bool)
	Pending() []*domain.Order
	Transition(code string, from, to domain.OrderStatus, guard func(*domain.Order) bool) (*domain.Order, bool)
}

// Notifier delivers a human-readable message about an order. Callers log
// failures and carry on.
type Notifier interface {
	Send(ctx context.Context, o *domain.Order) error
}

type OrderService struct {
	Repo         OrderRepo
	Notifier     Notifier
	CodeAttempts int
	Log          *slog.Logger
}

func NewOrderService(repo OrderRepo, notifier Notifier, codeAttempts int) *OrderService {
	return &OrderService{
		Repo:         repo,
		Notifier:     notifier,
		CodeAttempts: codeAttempts,
		Log:          slog.Default().With("component", "orders"),
	}
}

func (s *OrderService) Create(ctx context.Context, emails []string, planID string, amount int64) (*domain.Order, error) {
	if err := validateOrder(emails, planID, amount); err != nil {
		return nil, err
	}
	o := &domain.Order{
		Emails:    cleanEmails(emails),
		PlanID:    strings.TrimSpace(planID),
		Amount:    amount,
		Status:    domain.OrderPending,
		Type:      domain.OrderPurchase,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store(o, domain.PurchasePrefix); err != nil {
		return nil, err
	}
	s.Log.Info("order created", "code", o.Code, "amount", o.Amount, "plan", o.PlanID)
	return o, nil
}

// CreateUpgradeRequest records a manual upgrade request. It is stored already
// REQUESTED, so payment matching never touches it, and is announced right away.
func (s *OrderService) CreateUpgradeRequest(ctx context.Context, emails []string, planID, contactInfo string, amount int64) (*domain.Order, error) {
	if err := validateOrder(emails, planID, amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(contactInfo) == "" {
		return nil, fmt.Errorf("%w: contact info required", domain.ErrInvalidOrder)
	}
	o := &domain.Order{
		Emails:      cleanEmails(emails),
		PlanID:      strings.TrimSpace(planID),
		Amount:      amount,
		Status:      domain.OrderRequested,
		Type:        domain.OrderUpgradeRequest,
		ContactInfo: strings.TrimSpace(contactInfo),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store(o, domain.RequestPrefix); err != nil {
		return nil, err
	}
	s.Log.Info("upgrade request created", "code", o.Code, "contact", o.ContactInfo)

	if s.Notifier != nil {
		if err := s.Notifier.Send(ctx, o); err != nil {
			s.Log.Error("upgrade request notification failed", "code", o.Code, "error", err)
		}
	}
	return o, nil
}

// store allocates a fresh code with the given prefix. Collisions are retried a
// bounded number of times; after that the last candidate overwrites.
func (s *OrderService) store(o *domain.Order, prefix string) error {
	attempts := s.CodeAttempts
	if attempts <= 0 {
		attempts = defaultCodeAttempts
	}
	for i := 0; i < attempts; i++ {
		code, err := NewCode(prefix)
		if err != nil {
			return err
		}
		o.Code = code
		if s.Repo.PutIfAbsent(o) {
			return nil
		}
		s.Log.Warn("order code collision", "code", code, "attempt", i+1)
	}
	return s.Repo.Put(o)
}

// NewCode returns prefix followed by six random digits in [100000, 999999].
func NewCode(prefix string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate order code: %w", err)
	}
	return fmt.Sprintf("%s%d", prefix, 100000+n.Int64()), nil
}

func validateOrder(emails []string, planID string, amount int64) error {
	if len(cleanEmails(emails)) == 0 {
		return fmt.Errorf("%w: at least one email required", domain.ErrInvalidOrder)
	}
	if strings.TrimSpace(planID) == "" {
		return fmt.Errorf("%w: planId required", domain.ErrInvalidOrder)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidOrder)
	}
	return nil
}

func cleanEmails(emails []string) []string {
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
