// Package sampling decides whether a session's events are captured.
//
// The decision is drawn once per session start and cached; events are either
// fully captured or fully dropped for that session.
package sampling

import (
	"math/rand/v2"
	"sync"

	"github.com/telhawk-systems/telhawk-beacon/internal/remoteconfig"
)

// AlwaysSample is the rate at or above which every session is sampled.
const AlwaysSample = 100

// RNG draws uniform integers in [0, n).
type RNG interface {
	IntN(n int) int
}

type globalRNG struct{}

func (globalRNG) IntN(n int) int { return rand.IntN(n) }

// Decision holds the cached sampling state for the current session.
type Decision struct {
	enabled bool
	rng     RNG

	mu      sync.RWMutex
	decided bool
	sampled bool
}

// New creates a Decision. When enabled is false every session is sampled
// and the rate computation is skipped. A nil rng uses math/rand/v2.
func New(enabled bool, rng RNG) *Decision {
	if rng == nil {
		rng = globalRNG{}
	}
	return &Decision{enabled: enabled, rng: rng}
}

// Enabled reports whether rate-based sampling is switched on.
func (d *Decision) Enabled() bool { return d.enabled }

// Rate returns the effective sample rate for siteID. The top-level rate
// applies when siteID is empty or equals the configured site; otherwise the
// linked-site override is used, falling back to AlwaysSample.
func Rate(s remoteconfig.Snapshot, siteID string) int {
	if siteID == "" || siteID == s.SiteID {
		return s.SampleRate
	}
	if rate, ok := s.LinkedSiteRate(siteID); ok {
		return rate
	}
	return AlwaysSample
}

// ShouldSample draws a fresh decision without caching it.
func (d *Decision) ShouldSample(s remoteconfig.Snapshot, siteID string) bool {
	if !d.enabled {
		return true
	}
	rate := Rate(s, siteID)
	if rate >= AlwaysSample {
		return true
	}
	if rate <= 0 {
		return false
	}
	return d.rng.IntN(AlwaysSample) < rate
}

// Decide draws and caches the decision for a new session.
func (d *Decision) Decide(s remoteconfig.Snapshot, siteID string) bool {
	sampled := d.ShouldSample(s, siteID)

	d.mu.Lock()
	d.decided = true
	d.sampled = sampled
	d.mu.Unlock()

	return sampled
}

// Sampled returns the cached decision. Before Decide is called it reports
// true so that pre-session deliveries are not suppressed.
func (d *Decision) Sampled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.decided {
		return true
	}
	return d.sampled
}

// Reset forgets the cached decision.
func (d *Decision) Reset() {
	d.mu.Lock()
	d.decided = false
	d.sampled = false
	d.mu.Unlock()
}
