package parser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubGenerator struct {
	healthy bool
	reply   string
	err     error
	calls   int
	prompt  string
}

func (s *stubGenerator) Healthy(ctx context.Context) bool {
	return s.healthy
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	s.calls++
	s.prompt = prompt
	return s.reply, s.err
}

func TestGenerativeParseFullReply(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: `{
		"title": "Science Fair",
		"start_date": "2024-05-10",
		"start_time": "14:30",
		"end_date": "2024-05-10",
		"end_time": "16:00",
		"location": "School Gym",
		"prep_items": ["poster", "glue"]
	}`}
	p := NewGenerativeParser(gen, "", zap.NewNop())

	candidate, err := p.Parse(context.Background(), "Science Fair", "details...")
	require.NoError(t, err)
	require.NotNil(t, candidate)

	assert.Equal(t, "Science Fair", candidate.Title)
	assert.Equal(t, time.Date(2024, 5, 10, 14, 30, 0, 0, time.UTC), candidate.StartTS)
	assert.Equal(t, time.Date(2024, 5, 10, 16, 0, 0, 0, time.UTC), candidate.EndTS)
	require.NotNil(t, candidate.Location)
	assert.Equal(t, "School Gym", *candidate.Location)
	assert.Equal(t, []string{"poster", "glue"}, candidate.PrepItems)
	assert.Equal(t, LLMConfidence, candidate.Confidence)
}

func TestGenerativeParseDefaultsMissingTimes(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: `{"title": "Picnic", "start_date": "2024-07-04",
		"start_time": null, "end_date": null, "end_time": null,
		"location": null, "prep_items": null}`}
	p := NewGenerativeParser(gen, "", zap.NewNop())

	candidate, err := p.Parse(context.Background(), "Picnic", "body")
	require.NoError(t, err)
	require.NotNil(t, candidate)

	// Missing start_time defaults to midnight; end mirrors start.
	assert.Equal(t, time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC), candidate.StartTS)
	assert.Equal(t, candidate.StartTS, candidate.EndTS)
	assert.Nil(t, candidate.Location)
}

func TestGenerativeParseEndTimeInheritsStartTime(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: `{"title": "Recital", "start_date": "2024-09-01",
		"start_time": "18:00", "end_date": "2024-09-02"}`}
	p := NewGenerativeParser(gen, "", zap.NewNop())

	candidate, err := p.Parse(context.Background(), "Recital", "body")
	require.NoError(t, err)
	require.NotNil(t, candidate)

	assert.Equal(t, time.Date(2024, 9, 1, 18, 0, 0, 0, time.UTC), candidate.StartTS)
	assert.Equal(t, time.Date(2024, 9, 2, 18, 0, 0, 0, time.UTC), candidate.EndTS)
}

func TestGenerativeParseRepairsFencedJSON(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "```json\n{\"title\": \"Open House\", \"start_date\": \"2024-10-12\",}\n```"}
	p := NewGenerativeParser(gen, "", zap.NewNop())

	candidate, err := p.Parse(context.Background(), "Open House", "body")
	require.NoError(t, err)
	require.NotNil(t, candidate)
	assert.Equal(t, "Open House", candidate.Title)
}

func TestGenerativeParseInvalidJSONIsNotAnError(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "I could not find any event information in that email."}
	p := NewGenerativeParser(gen, "", zap.NewNop())

	candidate, err := p.Parse(context.Background(), "Hm", "body")
	assert.NoError(t, err)
	assert.Nil(t, candidate)
}

func TestGenerativeParseMissingStartDateIsUnparseable(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: `{"title": "Mystery", "start_date": null}`}
	p := NewGenerativeParser(gen, "", zap.NewNop())

	candidate, err := p.Parse(context.Background(), "Mystery", "body")
	assert.NoError(t, err)
	assert.Nil(t, candidate)
}

func TestGenerativeParsePromptFileKeepsPercentLiterals(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("Be 100% precise.\n{email_content}\n"), 0o644))

	gen := &stubGenerator{reply: `{"title": "Picnic", "start_date": "2024-07-04"}`}
	p := NewGenerativeParser(gen, path, zap.NewNop())

	_, err := p.Parse(context.Background(), "Picnic", "bring chairs")
	require.NoError(t, err)

	assert.Contains(t, gen.prompt, "Be 100% precise.")
	assert.Contains(t, gen.prompt, "Subject: Picnic")
	assert.Contains(t, gen.prompt, "bring chairs")
	assert.NotContains(t, gen.prompt, "{email_content}")
	assert.NotContains(t, gen.prompt, "%!")
}

func TestGenerativeParsePromptFileWithoutPlaceholderGetsContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("Extract the event."), 0o644))

	gen := &stubGenerator{reply: `{"title": "Picnic", "start_date": "2024-07-04"}`}
	p := NewGenerativeParser(gen, path, zap.NewNop())

	_, err := p.Parse(context.Background(), "Picnic", "at the park")
	require.NoError(t, err)

	assert.Contains(t, gen.prompt, "Extract the event.")
	assert.Contains(t, gen.prompt, "at the park")
}

func TestGenerativeParseTransportErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	gen := &stubGenerator{err: boom}
	p := NewGenerativeParser(gen, "", zap.NewNop())

	candidate, err := p.Parse(context.Background(), "Subject", "body")
	assert.Nil(t, candidate)
	assert.ErrorIs(t, err, boom)
}

func TestGenerativeParseUntitledFallback(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: `{"start_date": "2024-11-11"}`}
	p := NewGenerativeParser(gen, "", zap.NewNop())

	candidate, err := p.Parse(context.Background(), "x", "y")
	require.NoError(t, err)
	require.NotNil(t, candidate)
	assert.Equal(t, "Untitled Event", candidate.Title)
}
