package strategy

import (
	"errors"
	"fmt"
	"log/slog"

	"qa-pipeline/internal/retry"
)

// Topics served by the default registry.
const (
	TopicAssignment      = "assignment"
	TopicOWASP           = "owasp"
	TopicAssignmentOWASP = "assignment+owasp"
	TopicCloudOps        = "cloudops"
	TopicQuiz            = "sc-labquiz-gen"
	TopicCodeReview      = "codereview"
)

// DefaultTopics lists the topics registered by NewDefaultRegistry.
func DefaultTopics() []string {
	return []string{
		TopicAssignment,
		TopicAssignmentOWASP,
		TopicOWASP,
		TopicCloudOps,
		TopicQuiz,
		TopicCodeReview,
	}
}

// Backends are the generation dependencies of the default registry.
type Backends struct {
	Text TextGenerator
	// KnowledgeBase may be nil, in which case knowledge-base topics are
	// answered by Text without retrieval.
	KnowledgeBase             KnowledgeBase
	AssignmentKnowledgeBaseID string
	CloudOpsKnowledgeBaseID   string
	Retry                     retry.Policy
	Logger                    *slog.Logger
}

// NewDefaultRegistry wires every built-in topic.
func NewDefaultRegistry(b Backends) (*Registry, error) {
	if b.Text == nil {
		return nil, errors.New("strategy: text generator must not be nil")
	}
	kb := b.KnowledgeBase
	assignmentKB, cloudOpsKB := b.AssignmentKnowledgeBaseID, b.CloudOpsKnowledgeBaseID
	if kb == nil {
		kb = textKnowledgeBase{gen: b.Text, opts: GenerateOptions{MaxTokens: 1000, Temperature: 0.5}}
		if assignmentKB == "" {
			assignmentKB = "local"
		}
	}
	if cloudOpsKB == "" {
		cloudOpsKB = assignmentKB
	}

	owasp, err := NewDirectPrompt(b.Text, DirectPromptConfig{
		Name:        TopicOWASP,
		Prompt:      owaspPrompt,
		Options:     GenerateOptions{MaxTokens: 1500, Temperature: 0.4},
		ExpandVague: true,
		Retry:       b.Retry,
		Logger:      b.Logger,
	})
	if err != nil {
		return nil, err
	}
	codeReview, err := NewDirectPrompt(b.Text, DirectPromptConfig{
		Name:    TopicCodeReview,
		Prompt:  codeReviewPrompt,
		Options: GenerateOptions{MaxTokens: 2048, Temperature: 0.3},
		Retry:   b.Retry,
		Logger:  b.Logger,
	})
	if err != nil {
		return nil, err
	}
	assignmentKBStrategy, err := NewKnowledgeBase(kb, KnowledgeBaseConfig{
		Name:            TopicAssignment,
		KnowledgeBaseID: assignmentKB,
		Preamble:        assignmentPreamble(),
		Retry:           b.Retry,
		Logger:          b.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("strategy: assignment: %w", err)
	}
	cloudOps, err := NewKnowledgeBase(kb, KnowledgeBaseConfig{
		Name:            TopicCloudOps,
		KnowledgeBaseID: cloudOpsKB,
		Preamble:        cloudOpsPreamble(),
		Retry:           b.Retry,
		Logger:          b.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("strategy: cloudops: %w", err)
	}
	assignment, err := NewKeywordRouter(SecurityKeywords, owasp, assignmentKBStrategy, b.Logger)
	if err != nil {
		return nil, err
	}
	quiz, err := NewQuiz(b.Text, QuizConfig{Retry: b.Retry, Logger: b.Logger})
	if err != nil {
		return nil, err
	}

	reg := NewRegistry()
	for topic, s := range map[string]Strategy{
		TopicAssignment:      assignment,
		TopicAssignmentOWASP: assignment,
		TopicOWASP:           owasp,
		TopicCloudOps:        cloudOps,
		TopicQuiz:            quiz,
		TopicCodeReview:      codeReview,
	} {
		if err := reg.Register(topic, s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
