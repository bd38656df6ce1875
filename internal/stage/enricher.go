package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/engine"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/resilience"
	"github.com/sells-group/leadscout/pkg/anthropic"
)

const enricherSystemPrompt = `You are a B2B lead analyst. Given the extracted contents of a company website, respond with ONLY a JSON object matching this schema, no prose and no markdown fences:
{
  "summary": "two-sentence description of what the organization does",
  "industry": "short industry label",
  "size_band": "one of: micro, small, medium, large, unknown",
  "signals": ["notable buying signals, empty array if none"],
  "score": 0
}
score is your 0-50 judgement of lead quality from the content alone.`

// Enricher asks the model for a structured assessment of the extraction
// and validates the answer against the output schema.
type Enricher struct {
	client  anthropic.Client
	cfg     config.EnricherConfig
	breaker *resilience.CircuitBreaker
}

// NewEnricher creates the enrichment stage executor.
func NewEnricher(client anthropic.Client, cfg config.EnricherConfig) *Enricher {
	return &Enricher{
		client:  client,
		cfg:     cfg,
		breaker: newServiceBreaker("anthropic"),
	}
}

func (e *Enricher) Stage() model.Stage { return model.StageEnricher }

// Execute enriches the extraction into the final lead assessment. A
// schema-invalid response is retried up to SchemaRetries times, then
// failed; malformed model output is never worth infinite attempts.
func (e *Enricher) Execute(ctx context.Context, item *model.WorkItem) engine.StageResult {
	ext := item.Payload.Extraction
	if ext == nil {
		return fatal(eris.New("enricher: work item has no extraction payload"))
	}

	maxTokens := int64(e.cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.cfg.Model,
			MaxTokens: maxTokens,
			System: []anthropic.SystemBlock{{
				Text:         enricherSystemPrompt,
				CacheControl: &anthropic.CacheControl{TTL: "5m"},
			}},
			Messages: []anthropic.Message{{
				Role:    "user",
				Content: buildEnrichmentPrompt(ext),
			}},
		})
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return waitForService(err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return retryable(err)
		}
		return retryable(eris.Wrap(err, "enricher: create message failed"))
	}
	resp.Usage.LogCost(e.cfg.Model, "enrich")

	enrichment, err := parseEnrichment(resp.FirstText())
	if err != nil {
		zap.L().Warn("enricher: schema-invalid response",
			zap.String("mission_id", item.MissionID),
			zap.String("work_item_id", item.ID),
			zap.Error(err),
		)
		// Attempt counting is zero-based at this point: the engine bumps
		// after classification.
		if item.Attempt(model.StageEnricher) >= e.cfg.SchemaRetries {
			return fatal(eris.Wrap(err, "enricher: response schema invalid after retries"))
		}
		return retryable(eris.Wrap(err, "enricher: response schema invalid"))
	}

	enrichment.Score = boostScore(enrichment.Score, ext)

	return engine.StageResult{
		Disposition: engine.DispositionSuccess,
		Enrichment:  enrichment,
	}
}

// buildEnrichmentPrompt packs the extraction into the user message,
// bounded so one hostile page cannot blow the token budget.
func buildEnrichmentPrompt(ext *model.Extraction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Organization: %s\n", ext.Target.Candidate.Name)
	fmt.Fprintf(&b, "Website: %s\n", ext.Target.URL)
	if ext.Title != "" {
		fmt.Fprintf(&b, "Page title: %s\n", ext.Title)
	}
	if len(ext.Emails) > 0 {
		fmt.Fprintf(&b, "Emails: %s\n", strings.Join(ext.Emails, ", "))
	}
	if len(ext.TechStack) > 0 {
		techs := make([]string, 0, len(ext.TechStack))
		for name := range ext.TechStack {
			techs = append(techs, name)
		}
		fmt.Fprintf(&b, "Detected platforms: %s\n", strings.Join(techs, ", "))
	}

	content := ext.Content
	const maxContent = 6000
	if len(content) > maxContent {
		content = content[:maxContent]
	}
	fmt.Fprintf(&b, "\nPage content:\n%s\n", content)
	return b.String()
}

var validSizeBands = map[string]bool{
	"micro": true, "small": true, "medium": true, "large": true, "unknown": true,
}

// parseEnrichment decodes and validates the model's JSON answer. Fences
// are stripped first; models wrap JSON in them despite instructions.
func parseEnrichment(text string) (*model.Enrichment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, eris.New("empty response")
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}

	var enr model.Enrichment
	if err := json.Unmarshal([]byte(text), &enr); err != nil {
		return nil, eris.Wrap(err, "decode")
	}

	if strings.TrimSpace(enr.Summary) == "" {
		return nil, eris.New("missing summary")
	}
	if strings.TrimSpace(enr.Industry) == "" {
		return nil, eris.New("missing industry")
	}
	if enr.SizeBand != "" && !validSizeBands[enr.SizeBand] {
		return nil, eris.Errorf("invalid size_band %q", enr.SizeBand)
	}
	if enr.Score < 0 || enr.Score > 50 {
		return nil, eris.Errorf("score %d out of range", enr.Score)
	}
	return &enr, nil
}

// boostScore layers the deterministic signal boosts over the model's
// judgement: a learning platform is the strongest buy signal, then a
// reachable email, then a phone. Capped at 100.
func boostScore(base int, ext *model.Extraction) int {
	score := base
	for _, lms := range []string{"moodle", "canvas", "blackboard", "google_classroom"} {
		if ext.TechStack[lms] {
			score += 40
			break
		}
	}
	if len(ext.Emails) > 0 {
		score += 25
	}
	if len(ext.Phones) > 0 {
		score += 15
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
