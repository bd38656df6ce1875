package stage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/dedup"
	"github.com/sells-group/leadscout/internal/engine"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/pkg/serp"
)

// badURLExtensions mark search results that point at documents or media
// rather than a site.
var badURLExtensions = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg", ".zip",
}

// Resolver turns discovered candidates into live canonical URLs, via web
// search when discovery found no website tag.
type Resolver struct {
	client serp.Client
	cfg    config.ResolverConfig
	probe  *http.Client
}

// NewResolver creates the URL resolution stage executor.
func NewResolver(client serp.Client, cfg config.ResolverConfig) *Resolver {
	timeout := time.Duration(cfg.ProbeTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 7 * time.Second
	}
	return &Resolver{
		client: client,
		cfg:    cfg,
		probe:  &http.Client{Timeout: timeout},
	}
}

// WithProbeClient swaps the liveness probe client (for testing).
func (r *Resolver) WithProbeClient(hc *http.Client) *Resolver {
	r.probe = hc
	return r
}

func (r *Resolver) Stage() model.Stage { return model.StageResolver }

// Execute resolves the candidate to exactly one live URL. A candidate
// with no resolvable URL is fatal for the item; the mission carries on.
func (r *Resolver) Execute(ctx context.Context, item *model.WorkItem) engine.StageResult {
	cand := item.Payload.Candidate
	if cand == nil {
		return fatal(eris.New("resolver: work item has no candidate payload"))
	}

	// A website tag from discovery wins over search, but still has to
	// answer a liveness probe.
	if cand.Website != "" {
		if target, ok := r.tryURL(ctx, *cand, cand.Website); ok {
			return success(model.Payload{Target: &target})
		}
	}

	query := fmt.Sprintf("%q %s official site", cand.Name, cand.Region)
	resp, err := r.client.Search(ctx, query, serp.WithMaxResults(r.cfg.MaxResults))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return retryable(err)
		}
		return retryable(eris.Wrap(err, "resolver: search failed"))
	}

	for _, result := range resp.Data {
		if !r.plausible(result.URL) {
			continue
		}
		if target, ok := r.tryURL(ctx, *cand, result.URL); ok {
			return success(model.Payload{Target: &target})
		}
	}

	zap.L().Debug("resolver: no live URL for candidate",
		zap.String("mission_id", item.MissionID),
		zap.String("name", cand.Name),
		zap.Int("results", len(resp.Data)),
	)
	return fatal(eris.Errorf("resolver: no resolvable URL for %q", cand.Name))
}

// plausible applies the cheap static filters before any network probe:
// length cap, blacklist, and document/media extensions.
func (r *Resolver) plausible(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	maxLen := r.cfg.MaxURLLength
	if maxLen <= 0 {
		maxLen = 125
	}
	if len(rawURL) > maxLen {
		return false
	}

	lower := strings.ToLower(rawURL)
	for _, ext := range badURLExtensions {
		if strings.HasSuffix(lower, ext) || strings.Contains(lower, ext+"?") {
			return false
		}
	}
	for _, blocked := range r.cfg.DomainBlacklist {
		if strings.Contains(lower, strings.ToLower(blocked)) {
			return false
		}
	}
	return true
}

// tryURL probes the URL and builds the Target on a live answer.
func (r *Resolver) tryURL(ctx context.Context, cand model.Candidate, rawURL string) (model.Target, bool) {
	normalized := rawURL
	if !strings.Contains(normalized, "://") {
		normalized = "https://" + normalized
	}

	u, err := url.Parse(normalized)
	if err != nil || u.Host == "" {
		return model.Target{}, false
	}

	final, ok := r.alive(ctx, normalized)
	if !ok {
		return model.Target{}, false
	}

	finalURL, err := url.Parse(final)
	if err != nil || finalURL.Host == "" {
		finalURL = u
	}

	host := finalURL.Hostname()
	return model.Target{
		Candidate: cand,
		URL:       final,
		Domain:    strings.TrimPrefix(strings.ToLower(host), "www."),
	}, true
}

// alive probes with HEAD first and falls back to GET for servers that
// reject HEAD. Any 2xx or 3xx answer counts as live; the final URL after
// redirects is returned.
func (r *Resolver) alive(ctx context.Context, rawURL string) (string, bool) {
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return "", false
		}
		resp, err := r.probe.Do(req)
		if err != nil {
			return "", false
		}
		final := resp.Request.URL.String()
		code := resp.StatusCode
		_ = resp.Body.Close()

		if code >= 200 && code < 400 {
			return final, true
		}
		if method == http.MethodHead && (code == http.StatusMethodNotAllowed || code == http.StatusForbidden) {
			continue
		}
		return "", false
	}
	return "", false
}

// TargetFingerprint is the identity the engine dedups resolved items on.
func TargetFingerprint(t model.Target) string {
	return dedup.URL(t.URL)
}
