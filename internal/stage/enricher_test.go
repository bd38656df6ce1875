package stage

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/engine"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/resilience"
	"github.com/sells-group/leadscout/pkg/anthropic"
)

type fakeAnthropic struct {
	text    string
	err     error
	lastReq anthropic.MessageRequest
}

func (f *fakeAnthropic) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.text}},
	}, nil
}

func enricherItem(ext model.Extraction) *model.WorkItem {
	return &model.WorkItem{
		ID:        "w1",
		MissionID: "m1",
		Stage:     model.StageEnricher,
		Payload:   model.Payload{Extraction: &ext},
	}
}

func plainExtraction() model.Extraction {
	return model.Extraction{
		Target: model.Target{
			Candidate: model.Candidate{Name: "Harmony Music School", Region: "Berlin"},
			URL:       "https://harmony.example.com",
			Domain:    "harmony.example.com",
		},
		Title:   "Harmony Music School",
		Content: "Piano and violin lessons in Berlin.",
	}
}

const goodAnswer = `{"summary": "A private music school in Berlin.", "industry": "education", "size_band": "small", "signals": ["hiring teachers"], "score": 30}`

func TestEnricher_HappyPath(t *testing.T) {
	client := &fakeAnthropic{text: goodAnswer}
	e := NewEnricher(client, config.EnricherConfig{Model: "claude-sonnet-4-5", SchemaRetries: 2})

	res := e.Execute(context.Background(), enricherItem(plainExtraction()))
	require.Equal(t, engine.DispositionSuccess, res.Disposition)
	require.NotNil(t, res.Enrichment)
	assert.Equal(t, "education", res.Enrichment.Industry)
	assert.Equal(t, "small", res.Enrichment.SizeBand)
	assert.Equal(t, []string{"hiring teachers"}, res.Enrichment.Signals)
	assert.Equal(t, 30, res.Enrichment.Score)
}

func TestEnricher_PromptCarriesExtraction(t *testing.T) {
	client := &fakeAnthropic{text: goodAnswer}
	e := NewEnricher(client, config.EnricherConfig{})

	ext := plainExtraction()
	ext.Emails = []string{"info@harmony.example.com"}
	ext.TechStack = map[string]bool{"wordpress": true}
	_ = e.Execute(context.Background(), enricherItem(ext))

	require.Len(t, client.lastReq.Messages, 1)
	prompt := client.lastReq.Messages[0].Content
	assert.Contains(t, prompt, "Harmony Music School")
	assert.Contains(t, prompt, "info@harmony.example.com")
	assert.Contains(t, prompt, "wordpress")
	assert.Contains(t, prompt, "Piano and violin lessons")
}

func TestEnricher_FencedJSONAccepted(t *testing.T) {
	client := &fakeAnthropic{text: "```json\n" + goodAnswer + "\n```"}
	e := NewEnricher(client, config.EnricherConfig{})

	res := e.Execute(context.Background(), enricherItem(plainExtraction()))
	assert.Equal(t, engine.DispositionSuccess, res.Disposition)
}

func TestEnricher_SchemaInvalidRetriesThenFails(t *testing.T) {
	client := &fakeAnthropic{text: "I could not find enough information."}
	e := NewEnricher(client, config.EnricherConfig{SchemaRetries: 2})

	item := enricherItem(plainExtraction())
	res := e.Execute(context.Background(), item)
	assert.Equal(t, engine.DispositionRetryable, res.Disposition)

	item.BumpAttempt(model.StageEnricher)
	res = e.Execute(context.Background(), item)
	assert.Equal(t, engine.DispositionRetryable, res.Disposition)

	item.BumpAttempt(model.StageEnricher)
	res = e.Execute(context.Background(), item)
	assert.Equal(t, engine.DispositionFatal, res.Disposition, "schema retries exhausted")
}

func TestEnricher_ServiceErrorRetryable(t *testing.T) {
	client := &fakeAnthropic{err: eris.New("api: overloaded")}
	e := NewEnricher(client, config.EnricherConfig{})

	res := e.Execute(context.Background(), enricherItem(plainExtraction()))
	assert.Equal(t, engine.DispositionRetryable, res.Disposition)
}

func TestEnricher_OpenCircuitDefersWork(t *testing.T) {
	client := &fakeAnthropic{err: eris.New("api: overloaded")}
	e := NewEnricher(client, config.EnricherConfig{})

	item := enricherItem(plainExtraction())
	for i := 0; i < resilience.DefaultCircuitBreakerConfig().FailureThreshold; i++ {
		_ = e.Execute(context.Background(), item)
	}

	res := e.Execute(context.Background(), item)
	assert.Equal(t, engine.DispositionRetryable, res.Disposition)
	assert.Equal(t, serviceRetryDelay, res.RetryAfter)
}

func TestEnricher_MissingExtractionFatal(t *testing.T) {
	e := NewEnricher(&fakeAnthropic{}, config.EnricherConfig{})

	res := e.Execute(context.Background(), &model.WorkItem{ID: "w1", Stage: model.StageEnricher})
	assert.Equal(t, engine.DispositionFatal, res.Disposition)
}

func TestParseEnrichment_Validation(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"prose", "The school looks promising."},
		{"missing summary", `{"industry": "education", "score": 10}`},
		{"missing industry", `{"summary": "x", "score": 10}`},
		{"bad size band", `{"summary": "x", "industry": "y", "size_band": "huge", "score": 10}`},
		{"score too high", `{"summary": "x", "industry": "y", "score": 51}`},
		{"score negative", `{"summary": "x", "industry": "y", "score": -1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseEnrichment(tc.text)
			assert.Error(t, err)
		})
	}
}

func TestBoostScore_Layers(t *testing.T) {
	ext := plainExtraction()
	assert.Equal(t, 30, boostScore(30, &ext))

	ext.TechStack = map[string]bool{"moodle": true, "canvas": true}
	assert.Equal(t, 70, boostScore(30, &ext), "one LMS boost even with two platforms")

	ext.Emails = []string{"info@harmony.example.com"}
	ext.Phones = []string{"+49 30 1234 5678"}
	assert.Equal(t, 100, boostScore(30, &ext), "capped at 100")

	ext.TechStack = nil
	assert.Equal(t, 70, boostScore(30, &ext))
}
