// Package sampling provides admission control for the logging pipeline:
// per-level probabilistic sampling, per-component token-bucket rate limiting,
// and a burst allowance that guarantees the first occurrences of a new error
// class are never silently dropped.
package sampling

import (
	"math/rand"
	"sync"
	"time"

	"github.com/fieldserve/pulselog/core"
)

// Default per-level sampling rates. Warnings and above are always kept.
var defaultLevelRates = map[core.Level]float64{
	core.TraceLevel: 0.1,
	core.DebugLevel: 0.25,
	core.InfoLevel:  0.5,
	core.WarnLevel:  1.0,
	core.ErrorLevel: 1.0,
	core.FatalLevel: 1.0,
}

// burstWindow is the rolling window over which the error burst allowance
// is tracked per (component, action) key.
const burstWindow = 60 * time.Second

// Options configures a Sampler. Zero values select the defaults.
type Options struct {
	// LevelRates overrides the per-level sampling probabilities.
	LevelRates map[core.Level]float64

	// RatePerSecond is the token-bucket refill rate per component key.
	// Bucket capacity is 2x this rate. Defaults to 100.
	RatePerSecond float64

	// BurstAllowance is how many errors per (component, action) key may
	// bypass rate limiting and sampling within the burst window.
	// Defaults to 5.
	BurstAllowance int

	// Now overrides the clock, for tests.
	Now func() time.Time

	// Rand overrides the uniform random source, for tests. Must return
	// values in [0, 1).
	Rand func() float64
}

// Stats is a read-only snapshot of sampling decisions.
type Stats struct {
	Received           uint64
	Sampled            uint64
	DroppedBySampling  uint64
	DroppedByRateLimit uint64

	// EffectiveRates are the current per-level probabilities, which the
	// adaptive controller may have moved away from the configured base.
	EffectiveRates map[core.Level]float64
}

// DropRate returns the fraction of received entries that were dropped.
func (s Stats) DropRate() float64 {
	if s.Received == 0 {
		return 0
	}
	return float64(s.Received-s.Sampled) / float64(s.Received)
}

// tokenBucket rate-limits one component key, refilling continuously.
type tokenBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func (b *tokenBucket) take(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// burstState tracks the error burst allowance for one (component, action) key.
type burstState struct {
	count   int
	resetAt time.Time
}

// Sampler decides whether individual entries are kept or dropped.
// It is safe for concurrent use.
type Sampler struct {
	mu sync.Mutex

	baseRates map[core.Level]float64
	rates     map[core.Level]float64

	ratePerSecond  float64
	burstAllowance int

	buckets map[string]*tokenBucket
	bursts  map[string]*burstState

	received           uint64
	sampled            uint64
	droppedBySampling  uint64
	droppedByRateLimit uint64

	now  func() time.Time
	rand func() float64
}

// NewSampler creates a sampler with the given options.
func NewSampler(opts Options) *Sampler {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 100
	}
	if opts.BurstAllowance <= 0 {
		opts.BurstAllowance = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}

	base := make(map[core.Level]float64, len(defaultLevelRates))
	for lvl, rate := range defaultLevelRates {
		base[lvl] = rate
	}
	for lvl, rate := range opts.LevelRates {
		base[lvl] = clamp01(rate)
	}
	current := make(map[core.Level]float64, len(base))
	for lvl, rate := range base {
		current[lvl] = rate
	}

	return &Sampler{
		baseRates:      base,
		rates:          current,
		ratePerSecond:  opts.RatePerSecond,
		burstAllowance: opts.BurstAllowance,
		buckets:        make(map[string]*tokenBucket),
		bursts:         make(map[string]*burstState),
		now:            opts.Now,
		rand:           opts.Rand,
	}
}

// ShouldSample decides whether entry is admitted to the pipeline.
//
// Decision order: fatal entries always pass; error entries consume the burst
// allowance for their (component, action) key before falling through; then
// the component's token bucket; then the per-level probability.
//
// The burst key is deliberately (component, action) without error identity:
// two error classes sharing a component and action share one allowance. See
// DESIGN.md for the rationale.
func (s *Sampler) ShouldSample(entry *core.LogEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received++

	if entry.Level == core.FatalLevel {
		s.sampled++
		return true
	}

	now := s.now()
	component, action := entryKeys(entry)

	if entry.Level == core.ErrorLevel {
		key := component + "|" + action
		bs := s.bursts[key]
		if bs == nil || now.After(bs.resetAt) {
			bs = &burstState{resetAt: now.Add(burstWindow)}
			s.bursts[key] = bs
		}
		if bs.count < s.burstAllowance {
			bs.count++
			s.sampled++
			return true
		}
	}

	bucket := s.buckets[component]
	if bucket == nil {
		bucket = &tokenBucket{
			tokens:     2 * s.ratePerSecond,
			capacity:   2 * s.ratePerSecond,
			refillRate: s.ratePerSecond,
			lastRefill: now,
		}
		s.buckets[component] = bucket
	}
	if !bucket.take(now) {
		s.droppedByRateLimit++
		return false
	}

	rate := s.rates[entry.Level]
	if s.rand() > rate {
		s.droppedBySampling++
		return false
	}

	s.sampled++
	return true
}

// Stats returns a snapshot of the sampler's counters and effective rates.
func (s *Sampler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	rates := make(map[core.Level]float64, len(s.rates))
	for lvl, rate := range s.rates {
		rates[lvl] = rate
	}
	return Stats{
		Received:           s.received,
		Sampled:            s.sampled,
		DroppedBySampling:  s.droppedBySampling,
		DroppedByRateLimit: s.droppedByRateLimit,
		EffectiveRates:     rates,
	}
}

// Reset clears all counters, buckets, and burst state. Intended for tests.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets = make(map[string]*tokenBucket)
	s.bursts = make(map[string]*burstState)
	s.received = 0
	s.sampled = 0
	s.droppedBySampling = 0
	s.droppedByRateLimit = 0
	for lvl, rate := range s.baseRates {
		s.rates[lvl] = rate
	}
}

// SetRate overrides the effective sampling rate for one level.
func (s *Sampler) SetRate(level core.Level, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[level] = clamp01(rate)
}

func entryKeys(entry *core.LogEntry) (component, action string) {
	if entry.Context != nil {
		return entry.Context.Component, entry.Context.Action
	}
	return "", ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
