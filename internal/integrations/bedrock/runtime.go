// Package bedrock adapts Amazon Bedrock model invocation and knowledge-base
// retrieval to the answer strategy interfaces.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"qa-pipeline/internal/domain"
	"qa-pipeline/internal/strategy"
)

const (
	DefaultModelID   = "anthropic.claude-3-5-sonnet-20240620"
	anthropicVersion = "bedrock-2023-05-31"
	defaultMaxTokens = 1000
)

// runtimeAPI is the subset of *bedrockruntime.Client used by Runtime.
type runtimeAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type messagesRequest struct {
	AnthropicVersion string               `json:"anthropic_version"`
	Messages         []domain.ChatMessage `json:"messages"`
	MaxTokens        int                  `json:"max_tokens"`
	Temperature      *float64             `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Runtime generates text with an Anthropic model through InvokeModel.
type Runtime struct {
	api     runtimeAPI
	modelID string
}

func NewRuntime(api runtimeAPI, modelID string) (*Runtime, error) {
	if api == nil {
		return nil, errors.New("bedrock: runtime api must not be nil")
	}
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		modelID = DefaultModelID
	}
	return &Runtime{api: api, modelID: modelID}, nil
}

func (r *Runtime) GenerateText(ctx context.Context, prompt string, opts strategy.GenerateOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	req := messagesRequest{
		AnthropicVersion: anthropicVersion,
		Messages:         []domain.ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens:        maxTokens,
	}
	if opts.Temperature > 0 {
		req.Temperature = aws.Float64(opts.Temperature)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := r.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(r.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return "", wrapError("invoke model", err)
	}
	if out == nil {
		return "", errors.New("bedrock: empty invoke model output")
	}

	var resp messagesResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("%w: bedrock: decode response: %v", strategy.ErrMalformedOutput, err)
	}
	var sb strings.Builder
	for _, c := range resp.Content {
		if c.Type == "" || c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return sb.String(), nil
}
