package stage

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/engine"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/resilience"
	"github.com/sells-group/leadscout/pkg/browser"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?[\d][\d\s().\-]{7,14}\d`)
	titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// junkEmailPrefixes are mailbox names that never identify a real contact.
var junkEmailPrefixes = []string{
	"noreply", "no-reply", "donotreply", "example", "email", "your",
	"user", "name", "test", "webmaster", "postmaster",
}

// imageEmailSuffixes catch asset filenames the email regex mistakes for
// addresses, like logo@2x.png.
var imageEmailSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg"}

// techSignatures fingerprint the platforms a page is built on.
var techSignatures = map[string]*regexp.Regexp{
	"moodle":           regexp.MustCompile(`(?i)moodle`),
	"canvas":           regexp.MustCompile(`(?i)instructure|canvas-lms`),
	"blackboard":       regexp.MustCompile(`(?i)blackboard`),
	"google_classroom": regexp.MustCompile(`(?i)classroom\.google\.com`),
	"wordpress":        regexp.MustCompile(`(?i)wp-content|wp-includes`),
	"shopify":          regexp.MustCompile(`(?i)cdn\.shopify\.com`),
	"wix":              regexp.MustCompile(`(?i)wix\.com|wixstatic`),
	"squarespace":      regexp.MustCompile(`(?i)squarespace`),
	"google_analytics": regexp.MustCompile(`(?i)google-analytics\.com|gtag\(`),
	"facebook_pixel":   regexp.MustCompile(`(?i)connect\.facebook\.net|fbq\(`),
}

// socialHosts maps a network name to the host fragment its profile links
// carry.
var socialHosts = map[string]string{
	"facebook":  "facebook.com/",
	"instagram": "instagram.com/",
	"linkedin":  "linkedin.com/",
	"youtube":   "youtube.com/",
	"tiktok":    "tiktok.com/@",
}

var hrefRe = regexp.MustCompile(`(?i)href=["']([^"']+)["']`)

// blockMarkers are page fragments that signal an anti-bot interstitial
// rather than real content.
var blockMarkers = []string{
	"access denied",
	"cloudflare",
	"captcha",
	"are you a robot",
	"unusual traffic",
	"request blocked",
}

// Extractor fetches resolved targets through the stealth browser service
// and mines the page for contacts, platform signals, and text content.
type Extractor struct {
	client  browser.Client
	cfg     config.ExtractorConfig
	breaker *resilience.CircuitBreaker
}

// NewExtractor creates the extraction stage executor. The circuit breaker
// guards the browser service itself, not individual targets.
func NewExtractor(client browser.Client, cfg config.ExtractorConfig) *Extractor {
	return &Extractor{
		client:  client,
		cfg:     cfg,
		breaker: newServiceBreaker("browser"),
	}
}

func (e *Extractor) Stage() model.Stage { return model.StageExtractor }

// Execute fetches the target page and emits the structured extraction.
// A detected block is retryable and carries the domain so the engine can
// shrink that domain's rate budget. A partial page still yields a
// degraded extraction rather than a failure.
func (e *Extractor) Execute(ctx context.Context, item *model.WorkItem) engine.StageResult {
	target := item.Payload.Target
	if target == nil {
		return fatal(eris.New("extractor: work item has no target payload"))
	}

	profile := browser.RandomProfile()
	if e.cfg.TimeoutSecs > 0 {
		profile.TimeoutMillis = e.cfg.TimeoutSecs * 1000
	}

	page, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*browser.FetchResult, error) {
		return e.client.Fetch(ctx, target.URL, profile)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return waitForService(err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return retryable(err)
		}
		var apiErr *browser.APIError
		if errors.As(err, &apiErr) && !resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return fatal(err)
		}
		return retryable(eris.Wrap(err, "extractor: fetch failed"))
	}

	if blocked(page) {
		zap.L().Warn("extractor: target blocked the fetch",
			zap.String("mission_id", item.MissionID),
			zap.String("domain", target.Domain),
			zap.Int("status", page.StatusCode),
		)
		// A ban page means this target will keep blocking us; the item
		// fails and the domain's rate budget shrinks.
		return engine.StageResult{
			Disposition:   engine.DispositionFatal,
			Err:           resilience.NewBlockedError(target.Domain, eris.Errorf("extractor: blocked with status %d", page.StatusCode)),
			BlockedDomain: target.Domain,
		}
	}

	switch {
	case page.StatusCode == 404 || page.StatusCode == 410:
		return fatal(eris.Errorf("extractor: target gone (status %d)", page.StatusCode))
	case page.StatusCode >= 500:
		return retryable(eris.Errorf("extractor: target errored (status %d)", page.StatusCode))
	}

	html := page.HTML
	if e.cfg.MaxContentSize > 0 && len(html) > e.cfg.MaxContentSize {
		html = html[:e.cfg.MaxContentSize]
	}

	ext := e.mine(*target, page, html)
	return success(model.Payload{Extraction: &ext})
}

// mine pulls every structured signal out of the page.
func (e *Extractor) mine(target model.Target, page *browser.FetchResult, html string) model.Extraction {
	text := textContent(html)

	ext := model.Extraction{
		Target:      target,
		Title:       pageTitle(page, html),
		Emails:      cleanEmails(emailRe.FindAllString(html, -1)),
		Phones:      cleanPhones(phoneRe.FindAllString(text, -1)),
		SocialLinks: socialLinks(html),
		TechStack:   techStack(html),
		Content:     text,
	}

	// A near-empty page that still answered 200 is kept as best effort.
	if len(text) < 200 {
		ext.Degraded = true
	}
	return ext
}

func blocked(page *browser.FetchResult) bool {
	if page.Blocked {
		return true
	}
	if page.StatusCode == 403 || page.StatusCode == 429 {
		return true
	}
	if len(page.HTML) < 4096 {
		lower := strings.ToLower(page.HTML)
		for _, marker := range blockMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

func pageTitle(page *browser.FetchResult, html string) string {
	if page.Title != "" {
		return strings.TrimSpace(page.Title)
	}
	if m := titleRe.FindStringSubmatch(html); m != nil {
		return strings.TrimSpace(spaceRe.ReplaceAllString(m[1], " "))
	}
	return ""
}

// textContent strips scripts, styles, and tags down to readable text.
func textContent(html string) string {
	out := scriptRe.ReplaceAllString(html, " ")
	out = tagRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(out, " "))
}

// cleanEmails lowercases, dedups, and drops junk mailboxes and asset
// filenames that only look like addresses.
func cleanEmails(raw []string) []string {
	seen := make(map[string]struct{})
	var out []string
outer:
	for _, email := range raw {
		email = strings.ToLower(strings.Trim(email, ".,;: "))
		for _, suffix := range imageEmailSuffixes {
			if strings.HasSuffix(email, suffix) {
				continue outer
			}
		}
		local := email[:strings.IndexByte(email, '@')]
		for _, junk := range junkEmailPrefixes {
			if local == junk {
				continue outer
			}
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out
}

func cleanPhones(raw []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, phone := range raw {
		phone = strings.TrimSpace(phone)
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, phone)
		// Year ranges and prices match the loose regex; real numbers
		// carry at least 8 digits.
		if len(digits) < 8 || len(digits) > 15 {
			continue
		}
		if _, dup := seen[digits]; dup {
			continue
		}
		seen[digits] = struct{}{}
		out = append(out, phone)
	}
	return out
}

func socialLinks(html string) map[string]string {
	links := make(map[string]string)
	for _, m := range hrefRe.FindAllStringSubmatch(html, -1) {
		href := m[1]
		lower := strings.ToLower(href)
		for network, host := range socialHosts {
			if _, done := links[network]; done {
				continue
			}
			if strings.Contains(lower, host) {
				links[network] = href
			}
		}
	}
	if len(links) == 0 {
		return nil
	}
	return links
}

func techStack(html string) map[string]bool {
	stack := make(map[string]bool)
	for name, re := range techSignatures {
		if re.MatchString(html) {
			stack[name] = true
		}
	}
	if len(stack) == 0 {
		return nil
	}
	return stack
}
