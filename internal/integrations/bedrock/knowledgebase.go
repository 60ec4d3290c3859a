package bedrock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	sessionCacheSize = 1024
	sessionTTL       = time.Hour
)

// agentAPI is the subset of *bedrockagentruntime.Client used by KnowledgeBase.
type agentAPI interface {
	RetrieveAndGenerate(ctx context.Context, in *bedrockagentruntime.RetrieveAndGenerateInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error)
}

// SessionStore persists the Bedrock session issued for a conversation so
// that every worker continues the same session. GetSession returns "" when
// the conversation has no live session.
type SessionStore interface {
	GetSession(ctx context.Context, conversationID string) (string, error)
	PutSession(ctx context.Context, conversationID, sessionID string) error
}

// KnowledgeBase answers prompts with RetrieveAndGenerate. Bedrock issues its
// own session ids; conversation ids are mapped to them through a local cache
// in front of an optional SessionStore.
type KnowledgeBase struct {
	api      agentAPI
	modelARN string
	cache    *expirable.LRU[string, string]
	store    SessionStore
	logger   *slog.Logger
}

// KnowledgeBaseOption configures a KnowledgeBase.
type KnowledgeBaseOption func(*KnowledgeBase)

// WithSessionStore shares conversation sessions beyond this process.
func WithSessionStore(store SessionStore) KnowledgeBaseOption {
	return func(k *KnowledgeBase) { k.store = store }
}

// WithLogger sets the logger for session bookkeeping warnings.
func WithLogger(l *slog.Logger) KnowledgeBaseOption {
	return func(k *KnowledgeBase) {
		if l != nil {
			k.logger = l
		}
	}
}

// NewKnowledgeBase answers with modelID in region. An empty modelID uses
// DefaultModelID.
func NewKnowledgeBase(api agentAPI, region, modelID string, opts ...KnowledgeBaseOption) (*KnowledgeBase, error) {
	if api == nil {
		return nil, errors.New("bedrock: agent api must not be nil")
	}
	arn, err := ModelARN(region, modelID)
	if err != nil {
		return nil, err
	}
	k := &KnowledgeBase{
		api:      api,
		modelARN: arn,
		cache:    expirable.NewLRU[string, string](sessionCacheSize, nil, sessionTTL),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.logger = k.logger.With("component", "bedrock_kb")
	return k, nil
}

// ModelARN returns the foundation model ARN for modelID in region. ARNs are
// returned unchanged.
func ModelARN(region, modelID string) (string, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		modelID = DefaultModelID
	}
	if strings.HasPrefix(modelID, "arn:") {
		return modelID, nil
	}
	region = strings.TrimSpace(region)
	if region == "" {
		return "", errors.New("bedrock: region must not be empty")
	}
	return fmt.Sprintf("arn:aws:bedrock:%s::foundation-model/%s", region, modelID), nil
}

// RetrieveAndGenerate answers input from knowledgeBaseID. A non-empty
// conversationID continues that conversation's session. A stored session
// that Bedrock rejects is dropped and the call is made once more without it.
func (k *KnowledgeBase) RetrieveAndGenerate(ctx context.Context, knowledgeBaseID, input, conversationID string) (string, error) {
	if strings.TrimSpace(knowledgeBaseID) == "" {
		return "", errors.New("bedrock: knowledge base id must not be empty")
	}
	in := &bedrockagentruntime.RetrieveAndGenerateInput{
		Input: &types.RetrieveAndGenerateInput{Text: aws.String(input)},
		RetrieveAndGenerateConfiguration: &types.RetrieveAndGenerateConfiguration{
			Type: types.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &types.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId: aws.String(knowledgeBaseID),
				ModelArn:        aws.String(k.modelARN),
			},
		},
	}
	if conversationID != "" {
		if sid := k.session(ctx, conversationID); sid != "" {
			in.SessionId = aws.String(sid)
		}
	}

	out, err := k.api.RetrieveAndGenerate(ctx, in)
	if err != nil && in.SessionId != nil && isValidation(err) {
		k.logger.WarnContext(ctx, "stored session rejected, starting a new one",
			"conversation_id", conversationID, "session_id", aws.ToString(in.SessionId), "error", err)
		k.cache.Remove(conversationID)
		fresh := *in
		fresh.SessionId = nil
		out, err = k.api.RetrieveAndGenerate(ctx, &fresh)
	}
	if err != nil {
		return "", wrapError("retrieve and generate", err)
	}
	if out == nil || out.Output == nil {
		return "", nil
	}
	if conversationID != "" && out.SessionId != nil {
		k.remember(ctx, conversationID, aws.ToString(out.SessionId))
	}
	return aws.ToString(out.Output.Text), nil
}

func (k *KnowledgeBase) session(ctx context.Context, conversationID string) string {
	if sid, ok := k.cache.Get(conversationID); ok {
		return sid
	}
	if k.store == nil {
		return ""
	}
	sid, err := k.store.GetSession(ctx, conversationID)
	if err != nil {
		k.logger.WarnContext(ctx, "session lookup failed", "conversation_id", conversationID, "error", err)
		return ""
	}
	if sid != "" {
		k.cache.Add(conversationID, sid)
	}
	return sid
}

// remember stores the session and refreshes its expiry. A failed write only
// costs continuity for the next turn, so it is logged rather than returned.
func (k *KnowledgeBase) remember(ctx context.Context, conversationID, sessionID string) {
	k.cache.Add(conversationID, sessionID)
	if k.store == nil {
		return
	}
	if err := k.store.PutSession(ctx, conversationID, sessionID); err != nil {
		k.logger.WarnContext(ctx, "session store write failed", "conversation_id", conversationID, "error", err)
	}
}
