package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"qa-pipeline/internal/strategy"
)

type fakeModels struct {
	resp      *genai.GenerateContentResponse
	err       error
	lastModel string
	lastCfg   *genai.GenerateContentConfig
	lastText  string
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.lastModel = model
	f.lastCfg = cfg
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.lastText = contents[0].Parts[0].Text
	}
	return f.resp, f.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func TestGenerateText_HappyPath(t *testing.T) {
	m := &fakeModels{resp: textResponse("Use prepared statements.")}
	c, err := newWithModels(m, "")
	require.NoError(t, err)

	out, err := c.GenerateText(context.Background(), "How to stop SQLi?", strategy.GenerateOptions{MaxTokens: 1000, Temperature: 0.5})
	require.NoError(t, err)
	require.Equal(t, "Use prepared statements.", out)
	require.Equal(t, DefaultModel, m.lastModel)
	require.Equal(t, "How to stop SQLi?", m.lastText)
	require.Equal(t, int32(1000), m.lastCfg.MaxOutputTokens)
	require.InDelta(t, 0.5, *m.lastCfg.Temperature, 1e-6)
}

func TestGenerateText_APIErrorStatus(t *testing.T) {
	m := &fakeModels{err: genai.APIError{Code: 429, Message: "quota"}}
	c, err := newWithModels(m, "gemini-test")
	require.NoError(t, err)

	_, err = c.GenerateText(context.Background(), "q", strategy.GenerateOptions{})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, 429, se.HTTPStatusCode())
	require.True(t, strategy.IsTransient(err))
}

func TestGenerateText_OtherError(t *testing.T) {
	c, err := newWithModels(&fakeModels{err: errors.New("boom")}, "")
	require.NoError(t, err)
	_, err = c.GenerateText(context.Background(), "q", strategy.GenerateOptions{})
	require.ErrorContains(t, err, "boom")
	require.False(t, strategy.IsTransient(err))
}

func TestGenerateText_NilResponse(t *testing.T) {
	c, err := newWithModels(&fakeModels{}, "")
	require.NoError(t, err)
	_, err = c.GenerateText(context.Background(), "q", strategy.GenerateOptions{})
	require.ErrorIs(t, err, strategy.ErrMalformedOutput)
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(context.Background(), " ", "")
	require.Error(t, err)
	_, err = newWithModels(nil, "")
	require.Error(t, err)
}
