// Package throttle provides per-domain token-bucket rate budgets shared
// by every pipeline stage that touches a target site.
package throttle

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// minRefill is the floor a penalized bucket's refill rate can reach.
const minRefill = rate.Limit(0.01)

// Config controls bucket shape for all domains.
type Config struct {
	// Capacity is the bucket burst size. Tokens never exceed it and
	// never go negative.
	Capacity int
	// RefillPerSec is the steady-state token refill rate.
	RefillPerSec float64
	// PenaltyFactor scales the refill rate down on Penalize. 0.25 quarters
	// the budget after a block signal.
	PenaltyFactor float64
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 2
	}
	if c.RefillPerSec <= 0 {
		c.RefillPerSec = 0.5
	}
	if c.PenaltyFactor <= 0 || c.PenaltyFactor >= 1 {
		c.PenaltyFactor = 0.25
	}
	return c
}

// DomainThrottle hands out tokens per normalized domain. Refill is lazy:
// budgets are computed at acquire time from elapsed wall time, so they
// stay correct across idle periods with no background timer.
type DomainThrottle struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

// New creates a DomainThrottle with the given config.
func New(cfg Config) *DomainThrottle {
	return &DomainThrottle{
		cfg:     cfg.withDefaults(),
		buckets: make(map[string]*rate.Limiter),
		now:     time.Now,
	}
}

// Acquire takes one token for the domain if available. It never blocks:
// when the bucket is empty it reports ok=false with the delay after which
// a token is expected, and the caller re-queues the work item instead of
// holding a worker slot.
func (t *DomainThrottle) Acquire(domain string) (ok bool, retryAfter time.Duration) {
	if domain == "" {
		return true, 0
	}

	lim := t.bucket(Normalize(domain))
	now := t.now()

	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		// Not yet affordable: give the token back and report when to retry.
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Penalize tightens the domain's refill rate after an explicit block or
// ban signal. Repeated penalties compound down to a floor.
func (t *DomainThrottle) Penalize(domain string) {
	lim := t.bucket(Normalize(domain))

	next := rate.Limit(float64(lim.Limit()) * t.cfg.PenaltyFactor)
	if next < minRefill {
		next = minRefill
	}
	lim.SetLimit(next)
}

// Rate returns the current refill rate for a domain, for observability.
func (t *DomainThrottle) Rate(domain string) float64 {
	return float64(t.bucket(Normalize(domain)).Limit())
}

func (t *DomainThrottle) bucket(domain string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	lim, ok := t.buckets[domain]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(t.cfg.RefillPerSec), t.cfg.Capacity)
		t.buckets[domain] = lim
	}
	return lim
}

// Normalize reduces a URL or host to its throttling key: lowercased host
// without scheme, port, or leading www. All stages hitting the same site
// share one bucket, so cross-stage bursts drain the same budget.
func Normalize(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = u.Host
		}
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "www.")
	return s
}
