package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// SessionTTL bounds how long a conversation keeps its generation session.
const SessionTTL = 24 * time.Hour

const (
	attrConversationID = "conversation_id"
	attrSessionID      = "session_id"
	attrExpiresAt      = "expires_at"
)

// Sessions maps conversation ids to backend session ids in a DynamoDB table
// keyed by conversation_id. expires_at holds epoch seconds so the table's
// TTL can reap idle conversations.
type Sessions struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewSessions returns a session store over tableName.
func NewSessions(api dynamodbAPI, tableName string) (*Sessions, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: session table name must not be empty")
	}
	return &Sessions{api: api, tableName: tableName, now: time.Now}, nil
}

// GetSession returns the session for conversationID, or "" when none is
// stored or it has expired.
func (s *Sessions) GetSession(ctx context.Context, conversationID string) (string, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			attrConversationID: &types.AttributeValueMemberS{Value: conversationID},
		},
	})
	if err != nil {
		return "", fmt.Errorf("repository: GetSession: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", nil
	}
	// TTL deletion lags, so expiry is checked on read too.
	if n, ok := out.Item[attrExpiresAt].(*types.AttributeValueMemberN); ok {
		exp, err := strconv.ParseInt(n.Value, 10, 64)
		if err == nil && exp <= s.now().Unix() {
			return "", nil
		}
	}
	sid, _ := out.Item[attrSessionID].(*types.AttributeValueMemberS)
	if sid == nil {
		return "", nil
	}
	return sid.Value, nil
}

// PutSession records sessionID for conversationID and extends its expiry.
func (s *Sessions) PutSession(ctx context.Context, conversationID, sessionID string) error {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			attrConversationID: &types.AttributeValueMemberS{Value: conversationID},
			attrSessionID:      &types.AttributeValueMemberS{Value: sessionID},
			attrExpiresAt:      &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(SessionTTL).Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: PutSession: %w", err)
	}
	return nil
}

// SQLiteSessions is the local counterpart of Sessions.
type SQLiteSessions struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteSessions creates the conversation_sessions table on db if needed.
func NewSQLiteSessions(ctx context.Context, db *sql.DB) (*SQLiteSessions, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	schema := `
		CREATE TABLE IF NOT EXISTS conversation_sessions (
			conversation_id TEXT PRIMARY KEY,
			session_id      TEXT NOT NULL,
			expires_at      INTEGER NOT NULL
		);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("repository: create session schema: %w", err)
	}
	return &SQLiteSessions{db: db, now: time.Now}, nil
}

func (s *SQLiteSessions) GetSession(ctx context.Context, conversationID string) (string, error) {
	var sid string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id FROM conversation_sessions WHERE conversation_id = ? AND expires_at > ?`,
		conversationID, s.now().Unix()).Scan(&sid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("repository: GetSession: %w", err)
	}
	return sid, nil
}

func (s *SQLiteSessions) PutSession(ctx context.Context, conversationID, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_sessions (conversation_id, session_id, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			session_id = excluded.session_id,
			expires_at = excluded.expires_at`,
		conversationID, sessionID, s.now().Add(SessionTTL).Unix())
	if err != nil {
		return fmt.Errorf("repository: PutSession: %w", err)
	}
	return nil
}
