package repo

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"proupgrade-backend/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NotifyChannel is the LISTEN channel fed by the insert trigger.
const NotifyChannel = "sepay_transactions"

const (
	listenerPingInterval = 90 * time.Second
	subscriberBuffer     = 64
	replayLookback       = 256
)

const txColumns = `id, gateway, transaction_date, account_number, sub_account, amount_in, amount_out,
	accumulated, code, transaction_content, reference_number, body_msg, created_at`

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func RunMigrations(databaseURL string) error {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	slog.Info("migrations applied", "version", version, "dirty", dirty)
	return nil
}

// PostgresTransactionLog reads and writes sepay_transactions through pgx and
// follows new rows with a lib/pq listener.
type PostgresTransactionLog struct {
	pool         *pgxpool.Pool
	dsn          string
	minReconnect time.Duration
	maxReconnect time.Duration
	log          *slog.Logger
}

func NewPostgresTransactionLog(pool *pgxpool.Pool, dsn string, minReconnect, maxReconnect time.Duration) *PostgresTransactionLog {
	return &PostgresTransactionLog{
		pool:         pool,
		dsn:          dsn,
		minReconnect: minReconnect,
		maxReconnect: maxReconnect,
		log:          slog.Default().With("component", "txlog"),
	}
}

func (l *PostgresTransactionLog) Insert(ctx context.Context, tx *domain.Transaction) error {
	if tx.TransactionDate.IsZero() {
		tx.TransactionDate = time.Now().UTC()
	}
	gateway := tx.Gateway
	if gateway == "" {
		gateway = "SePay"
	}
	err := l.pool.QueryRow(ctx, `INSERT INTO sepay_transactions
		(gateway, transaction_date, account_number, sub_account, amount_in, amount_out, accumulated,
		 code, transaction_content, reference_number, body_msg)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id, created_at`,
		gateway, tx.TransactionDate, nullText(tx.AccountNumber), nullText(tx.SubAccount),
		tx.AmountIn, tx.AmountOut, tx.Accumulated, nullText(tx.Code), tx.Content,
		nullText(tx.ReferenceNumber), nullText(tx.BodyMsg),
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	tx.Gateway = gateway
	return nil
}

func (l *PostgresTransactionLog) FindTransaction(ctx context.Context, content string) (*domain.Transaction, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM sepay_transactions
		WHERE transaction_content ILIKE $1 ESCAPE '\'
		ORDER BY transaction_date DESC, id DESC
		LIMIT 1`, containsPattern(content))
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return tx, nil
}

func (l *PostgresTransactionLog) get(ctx context.Context, id int64) (*domain.Transaction, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM sepay_transactions WHERE id=$1`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return tx, nil
}

func (l *PostgresTransactionLog) listAfter(ctx context.Context, id int64) ([]domain.Transaction, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+txColumns+` FROM sepay_transactions WHERE id > $1 ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list transactions after %d: %w", id, err)
	}
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

func (l *PostgresTransactionLog) lastID(ctx context.Context) (int64, error) {
	var id int64
	if err := l.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM sepay_transactions`).Scan(&id); err != nil {
		return 0, fmt.Errorf("read last transaction id: %w", err)
	}
	return id, nil
}

// notifyListener is the part of *pq.Listener the subscription loop uses.
type notifyListener interface {
	Listen(channel string) error
	Ping() error
	Close() error
	NotificationChannel() <-chan *pq.Notification
}

// rowSource loads log rows by id.
type rowSource interface {
	lastID(ctx context.Context) (int64, error)
	get(ctx context.Context, id int64) (*domain.Transaction, error)
	listAfter(ctx context.Context, id int64) ([]domain.Transaction, error)
}

// Subscribe streams rows inserted after the call. Delivery is at-least-once:
// after the listener reconnects, rows from replayLookback ids below the
// highest delivered one are sent again, so ids that committed out of order
// while the connection was down are not lost.
func (l *PostgresTransactionLog) Subscribe(ctx context.Context) (<-chan domain.Transaction, error) {
	listener := pq.NewListener(l.dsn, l.minReconnect, l.maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			l.log.Warn("listener connection lost", "event", listenerEventName(ev), "error", err)
		case pq.ListenerEventReconnected:
			l.log.Info("listener reconnected")
		}
	})
	return follow(ctx, listener, l, listenerPingInterval, l.log)
}

// follow registers for notifications before reading the high-water mark, so
// every row committed after that read either notifies or is at most a replay
// away.
func follow(ctx context.Context, listener notifyListener, src rowSource, pingEvery time.Duration, log *slog.Logger) (<-chan domain.Transaction, error) {
	if err := listener.Listen(NotifyChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	last, err := src.lastID(ctx)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	log.Info("subscribed to transaction log", "channel", NotifyChannel, "after_id", last)

	out := make(chan domain.Transaction, subscriberBuffer)
	go func() {
		defer close(out)
		defer listener.Close()

		ping := time.NewTicker(pingEvery)
		defer ping.Stop()

		deliver := func(tx domain.Transaction) bool {
			select {
			case out <- tx:
				if tx.ID > last {
					last = tx.ID
				}
				return true
			case <-ctx.Done():
				return false
			}
		}

		notifications := listener.NotificationChannel()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-notifications:
				if n == nil {
					// Reconnected; notifications sent while we were away are lost.
					from := replayFrom(last)
					missed, err := src.listAfter(ctx, from)
					if err != nil {
						log.Error("replay after reconnect failed", "after_id", from, "error", err)
						continue
					}
					for _, tx := range missed {
						if !deliver(tx) {
							return
						}
					}
					continue
				}
				id, err := parseNotifyPayload(n.Extra)
				if err != nil {
					log.Warn("ignoring notification", "payload", n.Extra, "error", err)
					continue
				}
				tx, err := src.get(ctx, id)
				if err != nil {
					log.Error("load notified transaction failed", "id", id, "error", err)
					continue
				}
				if !deliver(*tx) {
					return
				}
			case <-ping.C:
				go func() {
					if err := listener.Ping(); err != nil {
						log.Warn("listener ping failed", "error", err)
					}
				}()
			}
		}
	}()
	return out, nil
}

// replayFrom is the id after which a reconnect replay starts. Matching is
// idempotent, so re-sending already delivered rows is harmless.
func replayFrom(last int64) int64 {
	if last <= replayLookback {
		return 0
	}
	return last - replayLookback
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tx                                      domain.Transaction
		account, subAccount, code, ref, bodyMsg pgtype.Text
	)
	err := row.Scan(&tx.ID, &tx.Gateway, &tx.TransactionDate, &account, &subAccount, &tx.AmountIn,
		&tx.AmountOut, &tx.Accumulated, &code, &tx.Content, &ref, &bodyMsg, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	tx.AccountNumber = account.String
	tx.SubAccount = subAccount.String
	tx.Code = code.String
	tx.ReferenceNumber = ref.String
	tx.BodyMsg = bodyMsg.String
	return &tx, nil
}

// containsPattern builds an ILIKE pattern matching s anywhere, with LIKE
// metacharacters in s taken literally.
func containsPattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func parseNotifyPayload(extra string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(extra), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse notification payload: %w", err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("parse notification payload: non-positive id %d", id)
	}
	return id, nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func listenerEventName(ev pq.ListenerEventType) string {
	switch ev {
	case pq.ListenerEventConnected:
		return "connected"
	case pq.ListenerEventDisconnected:
		return "disconnected"
	case pq.ListenerEventReconnected:
		return "reconnected"
	case pq.ListenerEventConnectionAttemptFailed:
		return "connection_attempt_failed"
	default:
		return "unknown"
	}
}
