package session

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator produces deterministic token counts for prompt and response
// text. It prefers the cl100k_base BPE encoding; when that cannot be
// initialized (tiktoken fetches its vocabulary on first use, which can fail
// offline) it falls back to a rune-length proxy of one token per four runes,
// rounded up. Whichever path is chosen stays fixed for the process lifetime,
// so per-session statistics remain comparable. A UI-only surface exposes no
// provider-side counts, so an estimate is all there is.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	mode string
}

// NewEstimator returns a lazily initialized Estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) init() {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			e.mode = "rune-proxy"
			return
		}
		e.enc = enc
		e.mode = "cl100k_base"
	})
}

// Count estimates the token count of s.
func (e *Estimator) Count(s string) int {
	if s == "" {
		return 0
	}
	e.init()
	if e.enc != nil {
		return len(e.enc.Encode(s, nil, nil))
	}
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// Mode reports which estimator is in effect.
func (e *Estimator) Mode() string {
	e.init()
	return e.mode
}
