// Package session keeps per-provider running statistics derived from
// completed interactions.
package session

import (
	"math"
	"sync"
	"time"

	"github.com/uichat/uichat/log"
)

// minElapsed guards the velocity division: below this threshold the
// measured elapsed time is noise and tokens/sec is reported as zero.
const minElapsed = 50 * time.Millisecond

// Stats is the read-only snapshot of one provider's counters. Averages are
// arithmetic means over all recorded turns, rounded half-away-from-zero to
// integer milliseconds at snapshot time.
type Stats struct {
	Turns            int     `json:"turns"`
	SentTokens       int     `json:"sentTokens"`
	ResponseTokens   int     `json:"responseTokens"`
	LastResponseMs   int64   `json:"lastResponseMs"`
	LastTokensPerSec float64 `json:"lastTokensPerSec"`
	AvgResponseMs    int64   `json:"avgResponseMs"`
	AvgTokensPerSec  float64 `json:"avgTokensPerSec"`
	Estimator        string  `json:"estimator,omitempty"`
}

// running holds the float accumulators behind a provider's Stats.
type running struct {
	turns          int
	sentTokens     int
	responseTokens int
	lastResponseMs int64
	lastTPS        float64
	totalMs        float64
	totalTPS       float64
}

// Accountant derives and stores per-provider statistics. Only completed,
// successful interactions reach Record; failures never mutate counters.
type Accountant struct {
	estimator *Estimator
	logger    *log.Logger

	mu    sync.Mutex
	stats map[string]*running
}

// NewAccountant returns an empty Accountant.
func NewAccountant(logger *log.Logger) *Accountant {
	return &Accountant{
		estimator: NewEstimator(),
		logger:    logger,
		stats:     make(map[string]*running),
	}
}

// Record accounts one completed interaction: token estimates for both
// directions, response latency over the wait+extract stages, and velocity.
// It returns the token estimates so callers can feed their own instruments.
func (a *Accountant) Record(provider, prompt, response string, elapsed time.Duration) (sentTokens, responseTokens int) {
	sent := a.estimator.Count(prompt)
	recv := a.estimator.Count(response)
	ms := elapsed.Milliseconds()

	tps := 0.0
	if elapsed >= minElapsed {
		tps = float64(recv) / elapsed.Seconds()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.stats[provider]
	if !ok {
		r = &running{}
		a.stats[provider] = r
	}
	r.turns++
	r.sentTokens += sent
	r.responseTokens += recv
	r.lastResponseMs = ms
	r.lastTPS = tps
	r.totalMs += float64(ms)
	r.totalTPS += tps

	a.logger.Debugf("Accountant:Record",
		"provider:%s turn:%d sent:%d recv:%d elapsed:%dms tps:%.2f",
		provider, r.turns, sent, recv, ms, tps)

	return sent, recv
}

// Reset zeroes all counters for the provider. Other providers are untouched.
func (a *Accountant) Reset(provider string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.stats, provider)
	a.logger.Debugf("Accountant:Reset", "provider:%s", provider)
}

// Snapshot returns the provider's current Stats.
func (a *Accountant) Snapshot(provider string) Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{Estimator: a.estimator.Mode()}
	r, ok := a.stats[provider]
	if !ok || r.turns == 0 {
		return s
	}
	s.Turns = r.turns
	s.SentTokens = r.sentTokens
	s.ResponseTokens = r.responseTokens
	s.LastResponseMs = r.lastResponseMs
	s.LastTokensPerSec = r.lastTPS
	s.AvgResponseMs = int64(math.Round(r.totalMs / float64(r.turns)))
	s.AvgTokensPerSec = r.totalTPS / float64(r.turns)
	return s
}
