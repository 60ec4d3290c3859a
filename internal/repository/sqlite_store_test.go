package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"qa-pipeline/internal/domain"
	"qa-pipeline/internal/sqlitedb"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "answers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewSQLiteStore(context.Background(), db)
	require.NoError(t, err)
	return s
}

func TestSQLite_PutThenGet(t *testing.T) {
	s := newSQLiteStore(t)
	rec := sampleRecord("req-1", "student001", "2025-07-01T10:00:00Z")
	require.NoError(t, s.Put(context.Background(), rec))

	got, err := s.Get(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestSQLite_PutOverwrites(t *testing.T) {
	s := newSQLiteStore(t)
	rec := sampleRecord("req-1", "student001", "2025-07-01T10:00:00Z")
	require.NoError(t, s.Put(context.Background(), rec))
	rec.Answer = "second run"
	rec.Attempt = 3
	require.NoError(t, s.Put(context.Background(), rec))

	all, err := s.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, rec, all[0])
}

func TestSQLite_GetNotFound(t *testing.T) {
	_, err := newSQLiteStore(t).Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListByUser(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, sampleRecord("b", "u1", "2025-07-02T00:00:00Z")))
	require.NoError(t, s.Put(ctx, sampleRecord("a", "u1", "2025-07-01T00:00:00Z")))
	require.NoError(t, s.Put(ctx, sampleRecord("c", "u2", "2025-07-01T00:00:00Z")))

	got, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids(got))

	none, err := s.ListByUser(ctx, "ghost")
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestSQLite_Delete(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, sampleRecord("a", "u1", "t")))
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))
	_, err := s.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_PutRequiresID(t *testing.T) {
	require.Error(t, newSQLiteStore(t).Put(context.Background(), domain.AnswerRecord{}))
}

func TestNewSQLiteStore_NilDB(t *testing.T) {
	_, err := NewSQLiteStore(context.Background(), nil)
	require.Error(t, err)
}

func ids(recs []domain.AnswerRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.RequestID
	}
	return out
}
