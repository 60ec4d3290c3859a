package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"qa-pipeline/internal/domain"
)

const (
	DefaultVisibilityTimeout = 50 * time.Second
	DefaultMaxReceiveCount   = 3
)

// SQLiteQueue is a durable at-least-once queue stored in SQLite. A received
// message stays invisible for the visibility timeout; if it is not deleted in
// that window it is delivered again. A message that has already been
// delivered MaxReceiveCount times is moved to the dead_letters table on its
// next receive instead of being delivered.
type SQLiteQueue struct {
	db              *sql.DB
	visibility      time.Duration
	maxReceiveCount int
	now             func() time.Time
	newID           func() string
	logger          *slog.Logger
}

// SQLiteOption configures a SQLiteQueue.
type SQLiteOption func(*SQLiteQueue)

// WithVisibilityTimeout sets how long a received message stays hidden
// before it is redelivered. Non-positive values are ignored.
func WithVisibilityTimeout(d time.Duration) SQLiteOption {
	return func(q *SQLiteQueue) {
		if d > 0 {
			q.visibility = d
		}
	}
}

// WithMaxReceiveCount sets the number of deliveries after which a message
// is moved to the dead-letter table. Non-positive values are ignored.
func WithMaxReceiveCount(n int) SQLiteOption {
	return func(q *SQLiteQueue) {
		if n > 0 {
			q.maxReceiveCount = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SQLiteOption {
	return func(q *SQLiteQueue) { q.now = now }
}

// WithLogger sets the logger used for dead-letter events.
func WithLogger(l *slog.Logger) SQLiteOption {
	return func(q *SQLiteQueue) { q.logger = l }
}

// NewSQLiteQueue creates the queue and dead-letter tables on db if needed.
func NewSQLiteQueue(ctx context.Context, db *sql.DB, opts ...SQLiteOption) (*SQLiteQueue, error) {
	if db == nil {
		return nil, errors.New("queue: db must not be nil")
	}
	q := &SQLiteQueue{
		db:              db,
		visibility:      DefaultVisibilityTimeout,
		maxReceiveCount: DefaultMaxReceiveCount,
		now:             time.Now,
		newID:           uuid.NewString,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "queue")

	schema := `
		CREATE TABLE IF NOT EXISTS queue_messages (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			id             TEXT NOT NULL UNIQUE,
			body           TEXT NOT NULL,
			receive_count  INTEGER NOT NULL DEFAULT 0,
			visible_at     INTEGER NOT NULL,
			receipt_handle TEXT,
			last_error     TEXT NOT NULL DEFAULT '',
			enqueued_at    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_queue_visible ON queue_messages(visible_at);

		CREATE TABLE IF NOT EXISTS dead_letters (
			id               TEXT PRIMARY KEY,
			body             TEXT NOT NULL,
			receive_count    INTEGER NOT NULL,
			reason           TEXT NOT NULL,
			dead_lettered_at INTEGER NOT NULL
		);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("queue: create schema: %w", err)
	}
	return q, nil
}

// Enqueue stores body as a visible message and returns its id.
func (q *SQLiteQueue) Enqueue(ctx context.Context, body []byte) (string, error) {
	id := q.newID()
	now := q.now().UnixNano()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO queue_messages (id, body, visible_at, enqueued_at) VALUES (?, ?, ?, ?)`,
		id, string(body), now, now)
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return id, nil
}

// Receive claims up to max visible messages.
func (q *SQLiteQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	if max < 1 {
		max = 1
	}
	now := q.now()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: begin receive: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, body, receive_count, last_error FROM queue_messages
		WHERE visible_at <= ?
		ORDER BY seq
		LIMIT ?`, now.UnixNano(), max)
	if err != nil {
		return nil, fmt.Errorf("queue: select visible: %w", err)
	}
	type candidate struct {
		id, body, lastErr string
		count             int
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.body, &c.count, &c.lastErr); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("queue: scan message: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("queue: select visible: %w", err)
	}

	msgs := make([]Message, 0, len(candidates))
	for _, c := range candidates {
		if c.count >= q.maxReceiveCount {
			if err := q.deadLetter(ctx, tx, c.id, c.body, c.count, c.lastErr, now); err != nil {
				return nil, err
			}
			continue
		}
		receipt := q.newID()
		_, err := tx.ExecContext(ctx, `
			UPDATE queue_messages
			SET receive_count = receive_count + 1, visible_at = ?, receipt_handle = ?
			WHERE id = ?`, now.Add(q.visibility).UnixNano(), receipt, c.id)
		if err != nil {
			return nil, fmt.Errorf("queue: claim message: %w", err)
		}
		msgs = append(msgs, Message{ID: c.id, ReceiptHandle: receipt, Body: c.body, ReceiveCount: c.count + 1})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue: commit receive: %w", err)
	}
	return msgs, nil
}

func (q *SQLiteQueue) deadLetter(ctx context.Context, tx *sql.Tx, id, body string, count int, lastErr string, now time.Time) error {
	reason := fmt.Sprintf("max receive count %d exceeded", q.maxReceiveCount)
	if lastErr != "" {
		reason += ": " + lastErr
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO dead_letters (id, body, receive_count, reason, dead_lettered_at) VALUES (?, ?, ?, ?, ?)`,
		id, body, count, reason, now.UnixNano()); err != nil {
		return fmt.Errorf("queue: insert dead letter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("queue: remove dead letter: %w", err)
	}
	q.logger.WarnContext(ctx, "message dead-lettered", "message_id", id, "receive_count", count, "reason", reason)
	return nil
}

// Delete acknowledges the delivery identified by receiptHandle.
func (q *SQLiteQueue) Delete(ctx context.Context, receiptHandle string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM queue_messages WHERE receipt_handle = ?`, receiptHandle)
	if err != nil {
		return fmt.Errorf("queue: delete: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrStaleReceipt
	}
	return nil
}

// Nack records the failure cause. The message stays invisible until its
// visibility timeout expires.
func (q *SQLiteQueue) Nack(ctx context.Context, receiptHandle string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := q.db.ExecContext(ctx,
		`UPDATE queue_messages SET last_error = ? WHERE receipt_handle = ?`, msg, receiptHandle)
	if err != nil {
		return fmt.Errorf("queue: nack: %w", err)
	}
	return nil
}

// DeadLetters lists up to max dead-lettered messages, newest first.
func (q *SQLiteQueue) DeadLetters(ctx context.Context, max int) ([]domain.DeadLetter, error) {
	if max < 1 {
		max = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, body, receive_count, reason, dead_lettered_at FROM dead_letters
		ORDER BY dead_lettered_at DESC, id
		LIMIT ?`, max)
	if err != nil {
		return nil, fmt.Errorf("queue: list dead letters: %w", err)
	}
	defer rows.Close()

	letters := []domain.DeadLetter{}
	for rows.Next() {
		var (
			d  domain.DeadLetter
			at int64
		)
		if err := rows.Scan(&d.MessageID, &d.Body, &d.ReceiveCount, &d.Reason, &at); err != nil {
			return nil, fmt.Errorf("queue: scan dead letter: %w", err)
		}
		d.DeadLetteredAt = time.Unix(0, at).UTC().Format(time.RFC3339)
		letters = append(letters, d)
	}
	return letters, rows.Err()
}

// Stats counts visible, in-flight and dead-lettered messages.
func (q *SQLiteQueue) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	now := q.now().UnixNano()
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN visible_at <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN visible_at > ? THEN 1 ELSE 0 END), 0)
		FROM queue_messages`, now, now).Scan(&s.Visible, &s.InFlight)
	if err != nil {
		return Stats{}, fmt.Errorf("queue: stats: %w", err)
	}
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&s.DeadLetters); err != nil {
		return Stats{}, fmt.Errorf("queue: stats: %w", err)
	}
	return s, nil
}
