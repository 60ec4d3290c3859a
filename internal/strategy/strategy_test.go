package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qa-pipeline/internal/retry"
)

type fakeGenerator struct {
	mu      sync.Mutex
	outputs []string
	errs    []error
	prompts []string
	opts    []GenerateOptions
}

func (f *fakeGenerator) GenerateText(_ context.Context, prompt string, opts GenerateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(f.outputs) {
		return f.outputs[i], nil
	}
	if len(f.outputs) > 0 {
		return f.outputs[len(f.outputs)-1], nil
	}
	return "", nil
}

type fakeKB struct {
	text      string
	err       error
	calls     int
	lastID    string
	lastInput string
	lastSess  string
}

func (f *fakeKB) RetrieveAndGenerate(_ context.Context, kbID, input, sessionID string) (string, error) {
	f.calls++
	f.lastID, f.lastInput, f.lastSess = kbID, input, sessionID
	return f.text, f.err
}

type transientErr struct{}

func (transientErr) Error() string   { return "throttled" }
func (transientErr) Transient() bool { return true }

type permanentErr struct{ error }

func (permanentErr) Transient() bool  { return false }
func (e permanentErr) Unwrap() error { return e.error }

type statusErr struct{ code int }

func (e statusErr) Error() string       { return "http status" }
func (e statusErr) HTTPStatusCode() int { return e.code }

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistry_LookupIsCaseInsensitiveAndTrimmed(t *testing.T) {
	reg := NewRegistry()
	s := Func(func(context.Context, Query) (string, error) { return "ok", nil })
	require.NoError(t, reg.Register("OWASP", s))

	got, err := reg.Lookup("  Owasp ")
	require.NoError(t, err)
	out, err := got.Generate(context.Background(), Query{})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.True(t, reg.Has("owasp"))
}

func TestRegistry_UnknownTopic(t *testing.T) {
	_, err := NewRegistry().Lookup("astrology")
	require.ErrorIs(t, err, ErrUnknownTopic)
}

func TestRegistry_RejectsDuplicatesAndEmpty(t *testing.T) {
	reg := NewRegistry()
	s := Func(func(context.Context, Query) (string, error) { return "", nil })
	require.NoError(t, reg.Register("a", s))
	require.Error(t, reg.Register(" A ", s))
	require.Error(t, reg.Register("  ", s))
	require.Error(t, reg.Register("b", nil))
}

func TestRegistry_TopicsSorted(t *testing.T) {
	reg := NewRegistry()
	s := Func(func(context.Context, Query) (string, error) { return "", nil })
	require.NoError(t, reg.Register("owasp", s))
	require.NoError(t, reg.Register("assignment", s))
	require.Equal(t, []string{"assignment", "owasp"}, reg.Topics())
}

// ---------------------------------------------------------------------------
// Vague expansion and classification
// ---------------------------------------------------------------------------

func TestExpandIfVague(t *testing.T) {
	require.Equal(t,
		"can you tell me more about : 'sql injection'. Can you clarify what the student might be referring to?",
		ExpandIfVague("sql injection"))
	require.Equal(t, "What is XSS?", ExpandIfVague("What is XSS?"))
	require.Equal(t, "explain it.", ExpandIfVague("explain it."))
	long := "please explain how cookies are protected"
	require.Equal(t, long, ExpandIfVague(long))
}

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(transientErr{}))
	require.True(t, IsTransient(statusErr{code: 429}))
	require.True(t, IsTransient(statusErr{code: 503}))
	require.False(t, IsTransient(statusErr{code: 400}))
	require.True(t, IsTransient(context.DeadlineExceeded))
	require.False(t, IsTransient(errors.New("boom")))
	require.False(t, IsTransient(nil))
}

func TestIsTransient_FallsThroughNonTransientWrapper(t *testing.T) {
	timeout := &net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded}
	require.True(t, IsTransient(permanentErr{timeout}))
	require.True(t, IsTransient(permanentErr{statusErr{code: 503}}))
	require.False(t, IsTransient(permanentErr{errors.New("bad request")}))
}

// ---------------------------------------------------------------------------
// Knowledge base
// ---------------------------------------------------------------------------

func TestKnowledgeBase_PassesPreambleAndSession(t *testing.T) {
	kb := &fakeKB{text: "answer"}
	s, err := NewKnowledgeBase(kb, KnowledgeBaseConfig{KnowledgeBaseID: "kb-1", Preamble: "Be helpful.", Retry: fastRetry(1)})
	require.NoError(t, err)

	out, err := s.Generate(context.Background(), Query{Question: "How do I deploy the lab stack?", SessionID: "conv-9"})
	require.NoError(t, err)
	require.Equal(t, "answer", out)
	require.Equal(t, "kb-1", kb.lastID)
	require.Equal(t, "conv-9", kb.lastSess)
	require.Equal(t, "Be helpful.\n\nQuestion: How do I deploy the lab stack?", kb.lastInput)
}

func TestKnowledgeBase_ExpandsVagueQuestion(t *testing.T) {
	kb := &fakeKB{text: "answer"}
	s, err := NewKnowledgeBase(kb, KnowledgeBaseConfig{KnowledgeBaseID: "kb-1", Retry: fastRetry(1)})
	require.NoError(t, err)

	_, err = s.Generate(context.Background(), Query{Question: "lambda"})
	require.NoError(t, err)
	require.Contains(t, kb.lastInput, "can you tell me more about : 'lambda'")
}

func TestKnowledgeBase_EmptyAnswerUsesFallback(t *testing.T) {
	s, err := NewKnowledgeBase(&fakeKB{text: "  "}, KnowledgeBaseConfig{KnowledgeBaseID: "kb-1", Retry: fastRetry(1)})
	require.NoError(t, err)
	out, err := s.Generate(context.Background(), Query{Question: "What is IAM?"})
	require.NoError(t, err)
	require.Equal(t, defaultFallbackAnswer, out)
}

func TestKnowledgeBase_TransientRetriedThenEscalated(t *testing.T) {
	kb := &fakeKB{err: transientErr{}}
	s, err := NewKnowledgeBase(kb, KnowledgeBaseConfig{KnowledgeBaseID: "kb-1", Retry: fastRetry(3)})
	require.NoError(t, err)

	_, err = s.Generate(context.Background(), Query{Question: "What is IAM?"})
	require.ErrorIs(t, err, ErrTransient)
	require.ErrorIs(t, err, retry.ErrExhausted)
	require.Equal(t, 3, kb.calls)
}

func TestKnowledgeBase_PermanentErrorNotRetried(t *testing.T) {
	kb := &fakeKB{err: errors.New("access denied")}
	s, err := NewKnowledgeBase(kb, KnowledgeBaseConfig{KnowledgeBaseID: "kb-1", Retry: fastRetry(3)})
	require.NoError(t, err)

	_, err = s.Generate(context.Background(), Query{Question: "What is IAM?"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTransient)
	require.Equal(t, 1, kb.calls)
}

func TestNewKnowledgeBase_Validation(t *testing.T) {
	_, err := NewKnowledgeBase(nil, KnowledgeBaseConfig{KnowledgeBaseID: "x"})
	require.Error(t, err)
	_, err = NewKnowledgeBase(&fakeKB{}, KnowledgeBaseConfig{})
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Direct prompt and router
// ---------------------------------------------------------------------------

func TestDirectPrompt_RendersPromptWithOptions(t *testing.T) {
	gen := &fakeGenerator{outputs: []string{"  reviewed  "}}
	s, err := NewDirectPrompt(gen, DirectPromptConfig{
		Prompt:  codeReviewPrompt,
		Options: GenerateOptions{MaxTokens: 2048},
		Retry:   fastRetry(1),
	})
	require.NoError(t, err)

	out, err := s.Generate(context.Background(), Query{Question: "eval(req.body)"})
	require.NoError(t, err)
	require.Equal(t, "reviewed", out)
	require.Contains(t, gen.prompts[0], "Student Code:\neval(req.body)")
	require.Equal(t, 2048, gen.opts[0].MaxTokens)
}

func TestDirectPrompt_RecoversFromTransientFailure(t *testing.T) {
	gen := &fakeGenerator{errs: []error{statusErr{code: 503}, nil}, outputs: []string{"", "done"}}
	s, err := NewDirectPrompt(gen, DirectPromptConfig{Prompt: func(q string) string { return q }, Retry: fastRetry(3)})
	require.NoError(t, err)

	out, err := s.Generate(context.Background(), Query{Question: "q"})
	require.NoError(t, err)
	require.Equal(t, "done", out)
	require.Len(t, gen.prompts, 2)
}

func TestDirectPrompt_EmptyCompletionIsMalformed(t *testing.T) {
	gen := &fakeGenerator{outputs: []string{" "}}
	s, err := NewDirectPrompt(gen, DirectPromptConfig{Prompt: func(q string) string { return q }, Retry: fastRetry(3)})
	require.NoError(t, err)

	_, err = s.Generate(context.Background(), Query{Question: "q"})
	require.ErrorIs(t, err, ErrMalformedOutput)
	require.Len(t, gen.prompts, 1)
}

func TestKeywordRouter(t *testing.T) {
	var hit string
	match := Func(func(context.Context, Query) (string, error) { hit = "owasp"; return "o", nil })
	fallback := Func(func(context.Context, Query) (string, error) { hit = "kb"; return "k", nil })
	r, err := NewKeywordRouter(SecurityKeywords, match, fallback, nil)
	require.NoError(t, err)

	tests := []struct {
		question string
		want     string
	}{
		{"How do I stop SQL Injection in my form?", "owasp"},
		{"What does Cross-Site request forgery mean?", "owasp"},
		{"Is my input validation enough?", "owasp"},
		{"When is assignment 2 due?", "kb"},
	}
	for _, tc := range tests {
		_, err := r.Generate(context.Background(), Query{Question: tc.question})
		require.NoError(t, err)
		require.Equal(t, tc.want, hit, tc.question)
	}
}

func TestRandomDifficulty_Weighted(t *testing.T) {
	orig := difficultyRand
	t.Cleanup(func() { difficultyRand = orig })

	cases := map[float64]int{0.0: 1, 0.29: 1, 0.30: 2, 0.56: 3, 0.80: 4, 0.95: 5, 0.9999: 5}
	for r, want := range cases {
		difficultyRand = func() float64 { return r }
		require.Equal(t, want, randomDifficulty(), r)
	}
	require.Contains(t, owaspPromptWithDifficulty("q", 4), "Difficulty level: 4")
}

// ---------------------------------------------------------------------------
// Quiz
// ---------------------------------------------------------------------------

const validQuiz = `{"questions":[{"question":"Q1?","choices":["a","b"],"answer":"a","explanation":"because"}]}`

func TestExtractJSONObject_StripsFencesAndProse(t *testing.T) {
	got, err := ExtractJSONObject("```json\n" + validQuiz + "\n```")
	require.NoError(t, err)
	require.Equal(t, validQuiz, got)

	got, err = ExtractJSONObject("Here you go: " + validQuiz + " Enjoy!")
	require.NoError(t, err)
	require.Equal(t, validQuiz, got)
}

func TestExtractJSONObject_NoObject(t *testing.T) {
	_, err := ExtractJSONObject("I cannot help with that.")
	require.ErrorIs(t, err, ErrMalformedOutput)
}

func TestParseQuiz_SmartQuotes(t *testing.T) {
	q, err := ParseQuiz(`{“questions”:[{“question”:“Q?”,“choices”:[“x”],“answer”:“x”,“explanation”:“e”}]}`)
	require.NoError(t, err)
	require.Equal(t, "Q?", q.Questions[0].Question)
}

func TestParseQuiz_RepairsPythonLiteral(t *testing.T) {
	raw := `{'questions': [{'question': 'Is "eval" safe?', 'choices': ['Yes', 'No',], 'answer': 'No', 'explanation': None, 'multi': False}]}`
	q, err := ParseQuiz(raw)
	require.NoError(t, err)
	require.Len(t, q.Questions, 1)
	require.Equal(t, `Is "eval" safe?`, q.Questions[0].Question)
	require.Equal(t, []string{"Yes", "No"}, q.Questions[0].Choices)
}

func TestParseQuiz_Unrepairable(t *testing.T) {
	_, err := ParseQuiz(`{"questions": [ {"question": }`)
	require.ErrorIs(t, err, ErrMalformedOutput)
}

func TestParseQuiz_NoQuestions(t *testing.T) {
	_, err := ParseQuiz(`{"questions": []}`)
	require.ErrorIs(t, err, ErrMalformedOutput)
}

func TestRepairJSON(t *testing.T) {
	require.Equal(t, `{"a": true, "b": [null]}`, RepairJSON(`{'a': True, 'b': [None,],}`))
	require.Equal(t, `{"it's": "x"}`, RepairJSON(`{'it\'s': "x"}`))
}

func TestQuiz_GenerateReturnsCanonicalJSON(t *testing.T) {
	gen := &fakeGenerator{outputs: []string{"Sure!\n```json\n" + validQuiz + "\n```"}}
	s, err := NewQuiz(gen, QuizConfig{QuestionCount: 5, Retry: fastRetry(1)})
	require.NoError(t, err)

	out, err := s.Generate(context.Background(), Query{Question: "Lab 1: secure logging"})
	require.NoError(t, err)

	var q Quiz
	require.NoError(t, json.Unmarshal([]byte(out), &q))
	require.Equal(t, "Q1?", q.Questions[0].Question)
	require.Contains(t, gen.prompts[0], "Generate exactly 5 multiple-choice questions")
	require.True(t, strings.Contains(gen.prompts[0], "Lab 1: secure logging"))
}

func TestQuiz_MalformedIsNotRetried(t *testing.T) {
	gen := &fakeGenerator{outputs: []string{"no json here"}}
	s, err := NewQuiz(gen, QuizConfig{Retry: fastRetry(3)})
	require.NoError(t, err)

	_, err = s.Generate(context.Background(), Query{Question: "notes"})
	require.ErrorIs(t, err, ErrMalformedOutput)
	require.Len(t, gen.prompts, 1)
}

// ---------------------------------------------------------------------------
// Default registry
// ---------------------------------------------------------------------------

func TestNewDefaultRegistry_Topics(t *testing.T) {
	reg, err := NewDefaultRegistry(Backends{Text: &fakeGenerator{outputs: []string{"x"}}, Retry: fastRetry(1)})
	require.NoError(t, err)
	require.Equal(t, []string{
		TopicAssignment, TopicAssignmentOWASP, TopicCloudOps, TopicCodeReview, TopicOWASP, TopicQuiz,
	}, reg.Topics())
	require.ElementsMatch(t, DefaultTopics(), reg.Topics())
}

func TestNewDefaultRegistry_AssignmentRoutesSecurityQuestionsToOWASP(t *testing.T) {
	gen := &fakeGenerator{outputs: []string{"owasp answer"}}
	kb := &fakeKB{text: "kb answer"}
	reg, err := NewDefaultRegistry(Backends{
		Text:                      gen,
		KnowledgeBase:             kb,
		AssignmentKnowledgeBaseID: "kb-a",
		Retry:                     fastRetry(1),
	})
	require.NoError(t, err)

	s, err := reg.Lookup("assignment+owasp")
	require.NoError(t, err)
	out, err := s.Generate(context.Background(), Query{Question: "What is an XSS attack?"})
	require.NoError(t, err)
	require.Equal(t, "owasp answer", out)
	require.Equal(t, 0, kb.calls)

	out, err = s.Generate(context.Background(), Query{Question: "What are the marking criteria?"})
	require.NoError(t, err)
	require.Equal(t, "kb answer", out)
	require.Equal(t, "kb-a", kb.lastID)
}

func TestNewDefaultRegistry_RequiresText(t *testing.T) {
	_, err := NewDefaultRegistry(Backends{})
	require.Error(t, err)
}
