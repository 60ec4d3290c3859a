// Package app wires configuration into the components used by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"qa-pipeline/internal/config"
	"qa-pipeline/internal/integrations/bedrock"
	"qa-pipeline/internal/integrations/gemini"
	"qa-pipeline/internal/integrations/openai"
	"qa-pipeline/internal/integrations/paramstore"
	"qa-pipeline/internal/repository"
	"qa-pipeline/internal/retry"
	"qa-pipeline/internal/strategy"
	"qa-pipeline/internal/usecase"
)

const paramCacheTTL = 5 * time.Minute

// LoadAWSConfig loads the default AWS configuration for cfg.AWSRegion.
func LoadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewParamStore returns an SSM parameter client with a short value cache.
func NewParamStore(awsCfg aws.Config) (*paramstore.Client, error) {
	return paramstore.New(awsssm.NewFromConfig(awsCfg), paramstore.WithCacheTTL(paramCacheTTL))
}

// RetryPolicy is the in-handler retry policy for transient generation errors.
func RetryPolicy(cfg *config.Config) retry.Policy {
	p := strategy.DefaultRetryPolicy()
	if cfg.HandlerMaxRetries > 0 {
		p.MaxAttempts = cfg.HandlerMaxRetries
	}
	if cfg.HandlerBaseDelay > 0 {
		p.BaseDelay = cfg.HandlerBaseDelay
	}
	if cfg.HandlerMaxDelay > 0 {
		p.MaxDelay = cfg.HandlerMaxDelay
	}
	return p
}

// NewTextGenerator builds the backend selected by GENERATION_BACKEND.
// params may be nil when every secret is configured directly.
func NewTextGenerator(ctx context.Context, cfg *config.Config, awsCfg aws.Config, params paramstore.Getter) (strategy.TextGenerator, error) {
	switch cfg.GenerationBackend {
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.OpenAIModel)}
		if cfg.OpenAIAPIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.OpenAIAPIKey))
		}
		c, err := openai.NewClient(params, cfg.ParamPrefix, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "gemini":
		key := cfg.GeminiAPIKey
		if key == "" {
			if params == nil || cfg.ParamPrefix == "" {
				return nil, fmt.Errorf("app: gemini backend needs GEMINI_API_KEY or PARAM_PREFIX")
			}
			v, err := params.GetParameter(ctx, cfg.ParamPrefix+"/gemini-api-key")
			if err != nil {
				return nil, fmt.Errorf("app: load gemini api key: %w", err)
			}
			key = strings.TrimSpace(v)
		}
		c, err := gemini.New(ctx, key, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		r, err := bedrock.NewRuntime(bedrockruntime.NewFromConfig(awsCfg), cfg.ModelID)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// NewKnowledgeBase returns the Bedrock knowledge base client, or nil when no
// knowledge base is configured. sessions may be nil, in which case
// conversations only continue within this process.
func NewKnowledgeBase(cfg *config.Config, awsCfg aws.Config, sessions bedrock.SessionStore, logger *slog.Logger) (strategy.KnowledgeBase, error) {
	if cfg.KnowledgeBaseID == "" {
		return nil, nil
	}
	opts := []bedrock.KnowledgeBaseOption{bedrock.WithLogger(logger)}
	if sessions != nil {
		opts = append(opts, bedrock.WithSessionStore(sessions))
	}
	kb, err := bedrock.NewKnowledgeBase(bedrockagentruntime.NewFromConfig(awsCfg), awsCfg.Region, cfg.ModelID, opts...)
	if err != nil {
		return nil, err
	}
	return kb, nil
}

// NewSessionStore returns the DynamoDB conversation session store, or nil
// when SESSION_TABLE_NAME is unset.
func NewSessionStore(cfg *config.Config, awsCfg aws.Config) (bedrock.SessionStore, error) {
	if cfg.SessionTableName == "" {
		return nil, nil
	}
	s, err := repository.NewSessions(dynamodb.NewFromConfig(awsCfg), cfg.SessionTableName)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewRegistry builds the default topic registry over the given backends.
func NewRegistry(cfg *config.Config, text strategy.TextGenerator, kb strategy.KnowledgeBase, logger *slog.Logger) (*strategy.Registry, error) {
	return strategy.NewDefaultRegistry(strategy.Backends{
		Text:                      text,
		KnowledgeBase:             kb,
		AssignmentKnowledgeBaseID: cfg.KnowledgeBaseID,
		CloudOpsKnowledgeBaseID:   cfg.CloudOpsKnowledgeBaseID,
		Retry:                     RetryPolicy(cfg),
		Logger:                    logger,
	})
}

// AdminAuth reads the passcode from ADMIN_PASSCODE, falling back to
// "<PARAM_PREFIX>/admin-passcode".
func AdminAuth(cfg *config.Config, params paramstore.Getter) *usecase.AdminAuth {
	name := ""
	if cfg.ParamPrefix != "" {
		name = cfg.ParamPrefix + "/admin-passcode"
	}
	if params == nil {
		return usecase.NewAdminAuth(cfg.AdminPasscode, nil, "")
	}
	return usecase.NewAdminAuth(cfg.AdminPasscode, params, name)
}
