// Package gate holds the policy hooks consulted before expensive or
// sensitive operations: quotas, rate limits, feature flags and audit
// events. Defaults allow everything; deployments tighten what they
// need.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Policy errors
var (
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrRateLimited   = errors.New("rate limited")
	ErrFeatureOff    = errors.New("feature disabled")
)

// Operation names the guarded operations
type Operation string

const (
	OpScan          Operation = "scan"
	OpReplay        Operation = "replay"
	OpDecode        Operation = "decode"
	OpDecoderUpload Operation = "decoder_upload"
	OpKeyChange     Operation = "key_change"
)

// QuotaChecker approves an operation for an actor before it runs
type QuotaChecker interface {
	CheckQuota(ctx context.Context, actor string, op Operation) error
}

// RateLimiter throttles an actor's operations over time
type RateLimiter interface {
	Allow(actor string, op Operation) error
}

// AllowAll is the default policy: no quotas, no limits
type AllowAll struct{}

func (AllowAll) CheckQuota(context.Context, string, Operation) error { return nil }
func (AllowAll) Allow(string, Operation) error                       { return nil }

// Flags holds runtime feature switches
type Flags struct {
	mu         sync.RWMutex
	publicMode bool
	disabled   map[Operation]bool
}

// NewFlags creates a flag set. Public mode disables decoder uploads
// and key changes for anonymous-facing deployments.
func NewFlags(publicMode bool) *Flags {
	f := &Flags{disabled: make(map[Operation]bool)}
	f.SetPublicMode(publicMode)
	return f
}

// PublicMode reports whether the deployment is anonymous-facing
func (f *Flags) PublicMode() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.publicMode
}

// SetPublicMode toggles public mode and its dependent switches
func (f *Flags) SetPublicMode(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publicMode = on
	f.disabled[OpDecoderUpload] = on
	f.disabled[OpKeyChange] = on
}

// Check returns ErrFeatureOff when op is switched off
func (f *Flags) Check(op Operation) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.disabled[op] {
		return ErrFeatureOff
	}
	return nil
}

// TokenBucket is a per-actor, per-operation rate limiter
type TokenBucket struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket allows rate ops per second with the given burst
func NewTokenBucket(rate float64, burst int) *TokenBucket {
	return &TokenBucket{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow implements RateLimiter
func (t *TokenBucket) Allow(actor string, op Operation) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := actor + "/" + string(op)
	b, ok := t.buckets[key]
	now := t.now()
	if !ok {
		b = &bucket{tokens: t.burst, last: now}
		t.buckets[key] = b
	}

	b.tokens += now.Sub(b.last).Seconds() * t.rate
	if b.tokens > t.burst {
		b.tokens = t.burst
	}
	b.last = now

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}
