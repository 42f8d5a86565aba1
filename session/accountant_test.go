package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uichat/uichat/log"
)

func TestRecordAveragesLatency(t *testing.T) {
	t.Parallel()

	a := NewAccountant(log.NewNullLogger())
	a.Record("chatgpt", "first prompt", "first response body", 100*time.Millisecond)
	a.Record("chatgpt", "second prompt", "second response body", 200*time.Millisecond)
	a.Record("chatgpt", "third prompt", "third response body", 250*time.Millisecond)

	s := a.Snapshot("chatgpt")
	assert.Equal(t, 3, s.Turns)
	assert.Equal(t, int64(250), s.LastResponseMs)
	// round((100 + 200 + 250) / 3)
	assert.Equal(t, int64(183), s.AvgResponseMs)
	assert.Positive(t, s.SentTokens)
	assert.Positive(t, s.ResponseTokens)
	assert.Positive(t, s.LastTokensPerSec)
	assert.Positive(t, s.AvgTokensPerSec)
	assert.NotEmpty(t, s.Estimator)
}

func TestRecordShortElapsedHasZeroVelocity(t *testing.T) {
	t.Parallel()

	a := NewAccountant(log.NewNullLogger())
	a.Record("chatgpt", "hi", "a response that arrived suspiciously fast", 10*time.Millisecond)

	s := a.Snapshot("chatgpt")
	assert.Equal(t, 1, s.Turns)
	assert.Zero(t, s.LastTokensPerSec)
	assert.Zero(t, s.AvgTokensPerSec)
	// The latency itself is still recorded; only the velocity is suppressed.
	assert.Equal(t, int64(10), s.LastResponseMs)
}

func TestResetIsPerProvider(t *testing.T) {
	t.Parallel()

	a := NewAccountant(log.NewNullLogger())
	a.Record("chatgpt", "hi", "response one", 100*time.Millisecond)
	a.Record("claude", "hi", "response two", 100*time.Millisecond)

	a.Reset("chatgpt")

	assert.Zero(t, a.Snapshot("chatgpt").Turns)
	assert.Equal(t, 1, a.Snapshot("claude").Turns)
}

func TestSnapshotUnknownProvider(t *testing.T) {
	t.Parallel()

	a := NewAccountant(log.NewNullLogger())
	s := a.Snapshot("nosuch")
	assert.Zero(t, s.Turns)
	assert.Zero(t, s.SentTokens)
	assert.NotEmpty(t, s.Estimator, "the estimator mode is reported even with no turns")
}

func TestRecordAccumulatesTokens(t *testing.T) {
	t.Parallel()

	a := NewAccountant(log.NewNullLogger())
	s1, r1 := a.Record("chatgpt", "one prompt", "one response", 100*time.Millisecond)
	s2, r2 := a.Record("chatgpt", "another prompt", "another response", 100*time.Millisecond)

	snap := a.Snapshot("chatgpt")
	assert.Equal(t, s1+s2, snap.SentTokens)
	assert.Equal(t, r1+r2, snap.ResponseTokens)
}

func TestEstimatorDeterministic(t *testing.T) {
	t.Parallel()

	e := NewEstimator()
	assert.Zero(t, e.Count(""))

	const text = "the quick brown fox jumps over the lazy dog"
	n := e.Count(text)
	require.Positive(t, n)
	assert.Equal(t, n, e.Count(text), "same text must always count the same")
	assert.GreaterOrEqual(t, e.Count(text+" "+text), n)
	assert.Contains(t, []string{"cl100k_base", "rune-proxy"}, e.Mode())
}
