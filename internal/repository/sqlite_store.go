package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"qa-pipeline/internal/domain"
)

// SQLiteStore stores answer records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the answers table on db if needed.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	schema := `
		CREATE TABLE IF NOT EXISTS answers (
			request_id  TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			question    TEXT NOT NULL,
			topic       TEXT NOT NULL,
			answer      TEXT NOT NULL DEFAULT '',
			timestamp   TEXT NOT NULL DEFAULT '',
			answered_at TEXT NOT NULL DEFAULT '',
			attempt     INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_answers_user ON answers(user_id);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("repository: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec domain.AnswerRecord) error {
	if rec.RequestID == "" {
		return errors.New("repository: Put: request_id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO answers (request_id, user_id, question, topic, answer, timestamp, answered_at, attempt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			user_id = excluded.user_id,
			question = excluded.question,
			topic = excluded.topic,
			answer = excluded.answer,
			timestamp = excluded.timestamp,
			answered_at = excluded.answered_at,
			attempt = excluded.attempt`,
		rec.RequestID, rec.UserID, rec.Question, rec.Topic, rec.Answer, rec.Timestamp, rec.AnsweredAt, rec.Attempt)
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	return nil
}

const selectAnswers = `SELECT request_id, user_id, question, topic, answer, timestamp, answered_at, attempt FROM answers`

func (s *SQLiteStore) Get(ctx context.Context, requestID string) (domain.AnswerRecord, error) {
	row := s.db.QueryRowContext(ctx, selectAnswers+` WHERE request_id = ?`, requestID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AnswerRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.AnswerRecord{}, fmt.Errorf("repository: Get: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]domain.AnswerRecord, error) {
	return s.list(ctx, selectAnswers+` WHERE user_id = ? ORDER BY timestamp, request_id`, userID)
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]domain.AnswerRecord, error) {
	return s.list(ctx, selectAnswers+` ORDER BY timestamp, request_id`)
}

func (s *SQLiteStore) Delete(ctx context.Context, requestID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM answers WHERE request_id = ?`, requestID); err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]domain.AnswerRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: list: %w", err)
	}
	defer rows.Close()

	records := []domain.AnswerRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: list scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: list: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (domain.AnswerRecord, error) {
	var rec domain.AnswerRecord
	err := r.Scan(&rec.RequestID, &rec.UserID, &rec.Question, &rec.Topic, &rec.Answer, &rec.Timestamp, &rec.AnsweredAt, &rec.Attempt)
	return rec, err
}
