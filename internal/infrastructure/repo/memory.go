package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"proupgrade-backend/internal/domain"
)

// MemoryOrderRepo is the volatile order ledger. It stores copies, so callers
// can only change an order through Put or Transition.
type MemoryOrderRepo struct {
	mu  sync.RWMutex
	m   map[string]*entry
	seq uint64
}

type entry struct {
	order *domain.Order
	seq   uint64
}

func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{m: make(map[string]*entry)}
}

func (r *MemoryOrderRepo) Put(o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.m[o.Code] = &entry{order: o.Clone(), seq: r.seq}
	return nil
}

// PutIfAbsent stores o only when its code is unused and reports whether it did.
func (r *MemoryOrderRepo) PutIfAbsent(o *domain.Order) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[o.Code]; ok {
		return false
	}
	r.seq++
	r.m[o.Code] = &entry{order: o.Clone(), seq: r.seq}
	return true
}

func (r *MemoryOrderRepo) Get(code string) (*domain.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.m[code]
	if !ok {
		return nil, false
	}
	return e.order.Clone(), true
}

// Pending returns the PENDING orders oldest first.
func (r *MemoryOrderRepo) Pending() []*domain.Order {
	r.mu.RLock()
	all := make([]*entry, 0, len(r.m))
	for _, e := range r.m {
		if e.order.Status == domain.OrderPending {
			all = append(all, e)
		}
	}
	r.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	out := make([]*domain.Order, len(all))
	for i, e := range all {
		out[i] = e.order.Clone()
	}
	return out
}

// Transition moves the order from status from to status to when guard accepts
// it. The check and the write happen under one lock, so concurrent callers
// racing on the same order see exactly one success.
func (r *MemoryOrderRepo) Transition(code string, from, to domain.OrderStatus, guard func(*domain.Order) bool) (*domain.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[code]
	if !ok || e.order.Status != from {
		return nil, false
	}
	if guard != nil && !guard(e.order.Clone()) {
		return nil, false
	}
	e.order.Status = to
	if to == domain.OrderPaid {
		now := time.Now().UTC()
		e.order.PaidAt = &now
	}
	return e.order.Clone(), true
}

// MemoryTransactionLog stands in for the Postgres log when no database is
// configured. Inserts are fanned out to every live subscriber.
type MemoryTransactionLog struct {
	mu      sync.RWMutex
	txs     []domain.Transaction
	nextID  int64
	subs    map[int]*subscriber
	nextSub int
}

type subscriber struct {
	ch   chan domain.Transaction
	done <-chan struct{}
}

func NewMemoryTransactionLog() *MemoryTransactionLog {
	return &MemoryTransactionLog{subs: make(map[int]*subscriber)}
}

func (l *MemoryTransactionLog) Insert(ctx context.Context, tx *domain.Transaction) error {
	l.mu.Lock()
	l.nextID++
	tx.ID = l.nextID
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	if tx.TransactionDate.IsZero() {
		tx.TransactionDate = now
	}
	l.txs = append(l.txs, *tx)
	subs := make([]*subscriber, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- *tx:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// FindTransaction returns the most recent transaction whose content contains
// content, ignoring case, or nil when there is none.
func (l *MemoryTransactionLog) FindTransaction(ctx context.Context, content string) (*domain.Transaction, error) {
	needle := strings.ToLower(content)
	l.mu.RLock()
	defer l.mu.RUnlock()
	var best *domain.Transaction
	for i := range l.txs {
		tx := &l.txs[i]
		if !strings.Contains(strings.ToLower(tx.Content), needle) {
			continue
		}
		if best == nil || !tx.TransactionDate.Before(best.TransactionDate) {
			best = tx
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

// Subscribe delivers every transaction inserted after the call, in insert
// order, until ctx is done.
func (l *MemoryTransactionLog) Subscribe(ctx context.Context) (<-chan domain.Transaction, error) {
	ch := make(chan domain.Transaction, 64)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = &subscriber{ch: ch, done: ctx.Done()}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}()
	return ch, nil
}
