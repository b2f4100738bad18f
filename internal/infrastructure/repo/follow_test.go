package repo

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proupgrade-backend/internal/domain"
)

type fakeListener struct {
	mu        sync.Mutex
	events    *[]string
	listenErr error
	ch        chan *pq.Notification
	closed    bool
}

func (f *fakeListener) Listen(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.events = append(*f.events, "listen")
	return f.listenErr
}

func (f *fakeListener) Ping() error { return nil }

func (f *fakeListener) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeListener) NotificationChannel() <-chan *pq.Notification { return f.ch }

type fakeRows struct {
	mu       sync.Mutex
	events   *[]string
	last     int64
	rows     map[int64]domain.Transaction
	replayed []int64
}

func (f *fakeRows) lastID(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.events = append(*f.events, "lastID")
	return f.last, nil
}

func (f *fakeRows) get(_ context.Context, id int64) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.rows[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	return &tx, nil
}

func (f *fakeRows) listAfter(_ context.Context, id int64) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replayed = append(f.replayed, id)
	var out []domain.Transaction
	for i := id + 1; i <= id+1000; i++ {
		if tx, ok := f.rows[i]; ok {
			out = append(out, tx)
		}
	}
	return out, nil
}

func notify(id int64) *pq.Notification {
	return &pq.Notification{Channel: NotifyChannel, Extra: strconv.FormatInt(id, 10)}
}

func receive(t *testing.T, ch <-chan domain.Transaction) domain.Transaction {
	t.Helper()
	select {
	case tx := <-ch:
		return tx
	case <-time.After(2 * time.Second):
		t.Fatal("no transaction delivered")
		return domain.Transaction{}
	}
}

func TestFollow_ListensBeforeReadingLastID(t *testing.T) {
	var events []string
	ln := &fakeListener{events: &events, ch: make(chan *pq.Notification)}
	src := &fakeRows{events: &events, last: 10}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := follow(ctx, ln, src, time.Hour, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"listen", "lastID"}, events)
}

func TestFollow_ListenFailure(t *testing.T) {
	var events []string
	ln := &fakeListener{events: &events, listenErr: errors.New("refused"), ch: make(chan *pq.Notification)}
	src := &fakeRows{events: &events}

	_, err := follow(context.Background(), ln, src, time.Hour, slog.Default())
	assert.Error(t, err)
	assert.True(t, ln.closed)
	assert.Equal(t, []string{"listen"}, events)
}

func TestFollow_ReplaysLateLowerIDsAfterReconnect(t *testing.T) {
	var events []string
	ln := &fakeListener{events: &events, ch: make(chan *pq.Notification, 4)}
	src := &fakeRows{events: &events, last: 10, rows: map[int64]domain.Transaction{
		12: {ID: 12, Content: "PRO000012"},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := follow(ctx, ln, src, time.Hour, slog.Default())
	require.NoError(t, err)

	ln.ch <- notify(12)
	assert.Equal(t, int64(12), receive(t, out).ID)

	// Row 11 committed after 12 while the connection was down.
	src.mu.Lock()
	src.rows[11] = domain.Transaction{ID: 11, Content: "PRO000011"}
	src.mu.Unlock()
	ln.ch <- nil

	got := []int64{receive(t, out).ID, receive(t, out).ID}
	assert.Equal(t, []int64{11, 12}, got)
	src.mu.Lock()
	assert.Equal(t, []int64{0}, src.replayed)
	src.mu.Unlock()
}

func TestFollow_SkipsBadPayloads(t *testing.T) {
	var events []string
	ln := &fakeListener{events: &events, ch: make(chan *pq.Notification, 4)}
	src := &fakeRows{events: &events, rows: map[int64]domain.Transaction{5: {ID: 5}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := follow(ctx, ln, src, time.Hour, slog.Default())
	require.NoError(t, err)

	ln.ch <- &pq.Notification{Extra: "garbage"}
	ln.ch <- notify(99)
	ln.ch <- notify(5)
	assert.Equal(t, int64(5), receive(t, out).ID)
}

func TestFollow_ClosesOnCancel(t *testing.T) {
	var events []string
	ln := &fakeListener{events: &events, ch: make(chan *pq.Notification)}
	ctx, cancel := context.WithCancel(context.Background())

	out, err := follow(ctx, ln, &fakeRows{events: &events}, time.Hour, slog.Default())
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestReplayFrom(t *testing.T) {
	assert.Equal(t, int64(0), replayFrom(0))
	assert.Equal(t, int64(0), replayFrom(replayLookback))
	assert.Equal(t, int64(1), replayFrom(replayLookback+1))
}
