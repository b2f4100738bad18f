package usecase

import (
	"context"
	"errors"
	"sync"

	"proupgrade-backend/internal/domain"
	"proupgrade-backend/internal/infrastructure/repo"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []*domain.Order
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, o *domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, o.Clone())
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *recordingNotifier) codes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, o := range n.sent {
		out[i] = o.Code
	}
	return out
}

type fakeFinder struct {
	mu    sync.Mutex
	txs   map[string]*domain.Transaction
	err   error
	calls int
}

func (f *fakeFinder) FindTransaction(_ context.Context, content string) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	tx, ok := f.txs[content]
	if !ok {
		return nil, nil
	}
	cp := *tx
	return &cp, nil
}

var errLookup = errors.New("connection refused")

func pendingOrder(code string, amount int64) *domain.Order {
	return &domain.Order{
		Code:   code,
		Emails: []string{"buyer@example.com"},
		PlanID: "pro-1y",
		Amount: amount,
		Status: domain.OrderPending,
		Type:   domain.OrderPurchase,
	}
}

func newLedger(orders ...*domain.Order) *repo.MemoryOrderRepo {
	r := repo.NewMemoryOrderRepo()
	for _, o := range orders {
		_ = r.Put(o)
	}
	return r
}
