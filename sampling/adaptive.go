package sampling

import (
	"sync"
	"time"

	"github.com/fieldserve/pulselog/core"
	"github.com/fieldserve/pulselog/selflog"
)

// adaptiveLevels are the levels the controller is allowed to move. Warnings
// and above always stay at their configured rates.
var adaptiveLevels = []core.Level{core.TraceLevel, core.DebugLevel, core.InfoLevel}

const (
	// adaptiveInterval is how often the controller inspects the drop rate.
	adaptiveInterval = 10 * time.Second

	// tightenFactor shrinks rates when too much is being dropped.
	tightenFactor = 0.8

	// relaxFactor grows rates back toward base when load subsides.
	relaxFactor = 1.1

	// highDropRate is the drop rate above which rates are tightened.
	highDropRate = 0.5

	// lowDropRate is the drop rate below which rates are relaxed.
	lowDropRate = 0.1

	// minRateFraction floors each adjusted rate at this fraction of its base.
	minRateFraction = 0.1
)

// AdaptiveController periodically adjusts the sampler's trace/debug/info
// rates to hold the drop rate in a moderate band: above 50 percent dropped
// it tightens, below 10 percent (when already below base) it relaxes.
type AdaptiveController struct {
	sampler  *Sampler
	interval time.Duration

	mu       sync.Mutex
	last     Stats
	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewAdaptiveController creates a controller for sampler. It does not start
// adjusting until Start is called.
func NewAdaptiveController(sampler *Sampler) *AdaptiveController {
	return &AdaptiveController{
		sampler:  sampler,
		interval: adaptiveInterval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background adjustment loop. Calling Start twice is a
// no-op.
func (a *AdaptiveController) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true
	a.last = a.sampler.Stats()

	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stopCh:
				return
			case <-ticker.C:
				a.Adjust()
			}
		}
	}()
}

// Stop halts the adjustment loop.
func (a *AdaptiveController) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Adjust performs one adjustment step based on the drop rate observed since
// the previous step. It is exported so tests can drive the control loop
// without waiting on the ticker.
func (a *AdaptiveController) Adjust() {
	a.mu.Lock()
	defer a.mu.Unlock()

	current := a.sampler.Stats()
	received := current.Received - a.last.Received
	sampled := current.Sampled - a.last.Sampled
	a.last = current

	if received == 0 {
		return
	}
	dropRate := float64(received-sampled) / float64(received)

	a.sampler.mu.Lock()
	defer a.sampler.mu.Unlock()

	switch {
	case dropRate > highDropRate:
		for _, lvl := range adaptiveLevels {
			floor := a.sampler.baseRates[lvl] * minRateFraction
			rate := a.sampler.rates[lvl] * tightenFactor
			if rate < floor {
				rate = floor
			}
			a.sampler.rates[lvl] = rate
		}
		if selflog.IsEnabled() {
			selflog.Printf("[sampling] drop rate %.2f, tightening rates", dropRate)
		}

	case dropRate < lowDropRate:
		for _, lvl := range adaptiveLevels {
			if a.sampler.rates[lvl] >= a.sampler.baseRates[lvl] {
				continue
			}
			a.sampler.rates[lvl] = clamp01(a.sampler.rates[lvl] * relaxFactor)
		}
	}
}
