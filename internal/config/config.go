// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"qa-pipeline/internal/logctx"
)

// Config is the full set of settings shared by every binary. Each main reads
// only the fields it needs and calls Require for the ones it cannot run
// without.
type Config struct {
	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json text"`

	QueueURL         string `mapstructure:"queue_url" validate:"omitempty,url"`
	DLQURL           string `mapstructure:"dlq_url" validate:"omitempty,url"`
	TableName        string `mapstructure:"table_name"`
	UserIndexName    string `mapstructure:"user_index_name"`
	SessionTableName string `mapstructure:"session_table_name"`
	AWSRegion        string `mapstructure:"aws_region"`

	GenerationBackend       string `mapstructure:"generation_backend" validate:"oneof=bedrock openai gemini"`
	ModelID                 string `mapstructure:"model_id"`
	KnowledgeBaseID         string `mapstructure:"kb_id"`
	CloudOpsKnowledgeBaseID string `mapstructure:"cloudops_kb_id"`
	OpenAIModel             string `mapstructure:"openai_model"`
	OpenAIAPIKey            string `mapstructure:"openai_api_key"`
	GeminiModel             string `mapstructure:"gemini_model"`
	GeminiAPIKey            string `mapstructure:"gemini_api_key"`

	AdminPasscode string `mapstructure:"admin_passcode"`
	ParamPrefix   string `mapstructure:"param_prefix"`

	MaxQuestionLength int           `mapstructure:"max_question_length" validate:"gte=1"`
	HandlerMaxRetries int           `mapstructure:"handler_max_retries" validate:"gte=1,lte=10"`
	HandlerBaseDelay  time.Duration `mapstructure:"handler_base_delay" validate:"gte=0"`
	HandlerMaxDelay   time.Duration `mapstructure:"handler_max_delay" validate:"gtefield=HandlerBaseDelay"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"gt=0"`
	MaxReceiveCount   int           `mapstructure:"max_receive_count" validate:"gte=1"`

	HTTPAddr     string        `mapstructure:"http_addr" validate:"required"`
	SQLitePath   string        `mapstructure:"sqlite_path" validate:"required"`
	WorkerCount  int           `mapstructure:"worker_count" validate:"gte=1"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

var defaults = map[string]any{
	"log_level":           "info",
	"log_format":          "json",
	"queue_url":           "",
	"dlq_url":             "",
	"table_name":          "",
	"user_index_name":     "",
	"session_table_name":  "",
	"aws_region":          "us-east-1",
	"generation_backend":  "bedrock",
	"model_id":            "anthropic.claude-3-5-sonnet-20240620",
	"kb_id":               "",
	"cloudops_kb_id":      "",
	"openai_model":        "gpt-4o-mini",
	"openai_api_key":      "",
	"gemini_model":        "gemini-2.0-flash",
	"gemini_api_key":      "",
	"admin_passcode":      "",
	"param_prefix":        "",
	"max_question_length": 10000,
	"handler_max_retries": 3,
	"handler_base_delay":  "1s",
	"handler_max_delay":   "30s",
	"visibility_timeout":  "50s",
	"max_receive_count":   3,
	"http_addr":           ":8080",
	"sqlite_path":         "data/qa.db",
	"worker_count":        2,
	"poll_interval":       "1s",
}

var validate = validator.New()

// Load reads every key from the environment, falling back to the optional
// file named by CONFIG_FILE and then to defaults.
func Load() (*Config, error) {
	return load(os.Getenv("CONFIG_FILE"))
}

func load(file string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.GenerationBackend = strings.ToLower(strings.TrimSpace(cfg.GenerationBackend))
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Require returns an error naming every listed environment key whose value
// is empty.
func (c *Config) Require(keys ...string) error {
	values := map[string]string{
		"QUEUE_URL":      c.QueueURL,
		"DLQ_URL":        c.DLQURL,
		"TABLE_NAME":     c.TableName,
		"KB_ID":          c.KnowledgeBaseID,
		"MODEL_ID":       c.ModelID,
		"AWS_REGION":     c.AWSRegion,
		"PARAM_PREFIX":   c.ParamPrefix,
		"ADMIN_PASSCODE": c.AdminPasscode,
		"SQLITE_PATH":    c.SQLitePath,
	}
	var missing []string
	for _, k := range keys {
		val, ok := values[k]
		if !ok {
			return fmt.Errorf("config: unknown key %s", k)
		}
		if strings.TrimSpace(val) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return errors.New("config: required environment variables not set: " + strings.Join(missing, ", "))
	}
	return nil
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(logctx.NewHandler(h))
}

// SetupLogger installs the configured logger as the slog default.
func SetupLogger(cfg *Config) *slog.Logger {
	logger := NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return logger
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
