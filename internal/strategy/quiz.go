package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"qa-pipeline/internal/retry"
)

const maxLoggedOutput = 2048

// QuizQuestion is one multiple-choice question.
type QuizQuestion struct {
	Question    string   `json:"question"`
	Choices     []string `json:"choices"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation"`
}

// Quiz is the canonical structured output of the quiz variant.
type Quiz struct {
	Questions []QuizQuestion `json:"questions"`
}

// QuizConfig configures a QuizStrategy.
type QuizConfig struct {
	QuestionCount int
	Options       GenerateOptions
	Retry         retry.Policy
	Logger        *slog.Logger
}

// QuizStrategy turns lab notes into a JSON quiz.
type QuizStrategy struct {
	gen    TextGenerator
	cfg    QuizConfig
	logger *slog.Logger
}

func NewQuiz(gen TextGenerator, cfg QuizConfig) (*QuizStrategy, error) {
	if gen == nil {
		return nil, errors.New("strategy: text generator must not be nil")
	}
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = 10
	}
	if cfg.Options.MaxTokens == 0 {
		cfg.Options = GenerateOptions{MaxTokens: 2048, Temperature: 0.3}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &QuizStrategy{
		gen:    gen,
		cfg:    cfg,
		logger: logger.With("component", "strategy", "strategy", "quiz"),
	}, nil
}

// Generate returns the quiz encoded as `{"questions":[...]}`. Unparseable
// output is not retried here; it fails with ErrMalformedOutput.
func (s *QuizStrategy) Generate(ctx context.Context, q Query) (string, error) {
	prompt := quizPrompt(s.cfg.QuestionCount, q.Question)

	p := s.cfg.Retry
	p.OnRetry = logRetry(ctx, s.logger)
	raw, err := withRetry(ctx, p, func(ctx context.Context) (string, error) {
		out, err := s.gen.GenerateText(ctx, prompt, s.cfg.Options)
		if err != nil {
			return "", classify("strategy: generate quiz", err)
		}
		return out, nil
	})
	if err != nil {
		return "", err
	}

	quiz, err := ParseQuiz(raw)
	if err != nil {
		s.logger.ErrorContext(ctx, "model returned malformed quiz",
			"err", err,
			"raw", truncate(raw, maxLoggedOutput))
		return "", err
	}
	buf, err := json.Marshal(quiz)
	if err != nil {
		return "", fmt.Errorf("strategy: encode quiz: %w", err)
	}
	return string(buf), nil
}

// ParseQuiz extracts and decodes a quiz from raw model output, repairing
// near-JSON when strict decoding fails.
func ParseQuiz(raw string) (Quiz, error) {
	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return Quiz{}, err
	}

	var quiz Quiz
	if strictErr := json.Unmarshal([]byte(obj), &quiz); strictErr != nil {
		quiz = Quiz{}
		if repairErr := json.Unmarshal([]byte(RepairJSON(obj)), &quiz); repairErr != nil {
			return Quiz{}, fmt.Errorf("%w: %v", ErrMalformedOutput, strictErr)
		}
	}
	if len(quiz.Questions) == 0 {
		return Quiz{}, fmt.Errorf("%w: no questions", ErrMalformedOutput)
	}
	return quiz, nil
}

var (
	fenceOpen  = regexp.MustCompile("^```[a-zA-Z]*\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")

	smartQuotes = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
)

// ExtractJSONObject returns the span from the first '{' to the last '}' of
// text after stripping code fences and normalizing typographic quotes.
func ExtractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = fenceOpen.ReplaceAllString(text, "")
		text = fenceClose.ReplaceAllString(text, "")
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
	}
	return smartQuotes.Replace(text[start : end+1]), nil
}

// RepairJSON rewrites common near-JSON mistakes: single-quoted strings,
// Python literals (True, False, None) and trailing commas.
func RepairJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '"' || c == '\'':
			i = copyString(&b, s, i)
		case c == ',':
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				i++
				continue
			}
			b.WriteByte(c)
			i++
		case isIdentStart(c):
			j := i
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			switch word := s[i:j]; word {
			case "True":
				b.WriteString("true")
			case "False":
				b.WriteString("false")
			case "None":
				b.WriteString("null")
			default:
				b.WriteString(word)
			}
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// copyString writes the quoted string starting at s[i] as a JSON
// double-quoted string and returns the index after its closing quote.
func copyString(b *strings.Builder, s string, i int) int {
	quote := s[i]
	b.WriteByte('"')
	i++
	for i < len(s) && s[i] != quote {
		ch := s[i]
		switch {
		case ch == '\\' && i+1 < len(s):
			if s[i+1] == '\'' {
				b.WriteByte('\'')
			} else {
				b.WriteByte('\\')
				b.WriteByte(s[i+1])
			}
			i += 2
			continue
		case ch == '"':
			b.WriteString(`\"`)
		case ch == '\n':
			b.WriteString(`\n`)
		case ch == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(ch)
		}
		i++
	}
	b.WriteByte('"')
	return i + 1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
