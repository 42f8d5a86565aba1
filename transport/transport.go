// Package transport implements the per-provider interaction state machine:
// ensure-ready, send, wait-for-stabilization, extract. One Transport handles
// exactly one interaction at a time; the pool's lease busy flag enforces
// that externally and the internal state is defense in depth.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/uichat/uichat/adapter"
	"github.com/uichat/uichat/api"
	"github.com/uichat/uichat/log"
)

// State of the interaction state machine.
type State int

const (
	Idle State = iota
	EnsureReady
	Sending
	Waiting
	Extracting
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case EnsureReady:
		return api.StageEnsureReady
	case Sending:
		return api.StageSend
	case Waiting:
		return api.StageWait
	case Extracting:
		return api.StageExtract
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// DefaultPollInterval is the fixed stabilization polling cadence. The UI
// exposes no completion signal, so bounded polling with a hard deadline is a
// deliberate approximation, not an oversight.
const DefaultPollInterval = 500 * time.Millisecond

// StageEntry is one timestamped stage-log record.
type StageEntry struct {
	Stage string    `json:"stage"`
	At    time.Time `json:"at"`
}

// Options configure one interaction.
type Options struct {
	Prompt          string
	WaitForResponse bool
	Timeout         time.Duration
	PollInterval    time.Duration
}

// Result is the outcome of one interaction. It is returned on failure too,
// so the stage log and page address always reach the caller.
type Result struct {
	Text     string
	HTML     string
	PageURL  string
	StageLog []StageEntry
	Warnings []string

	// Elapsed covers the Waiting and Extracting stages only; it feeds the
	// session accounting.
	Elapsed time.Duration
}

// Transport runs interactions for one provider against leased pages.
type Transport struct {
	provider string
	adapter  adapter.Adapter
	logger   *log.Logger

	mu    sync.Mutex
	state State
}

// New returns a Transport for the provider. An incomplete adapter fails
// construction immediately.
func New(provider string, a adapter.Adapter, logger *log.Logger) (*Transport, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &Transport{
		provider: provider,
		adapter:  a,
		logger:   logger,
		state:    Idle,
	}, nil
}

// Provider returns the provider name this transport serves.
func (t *Transport) Provider() string {
	return t.provider
}

// State returns the current state machine state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) setState(s State, res *Result) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	res.StageLog = append(res.StageLog, StageEntry{Stage: s.String(), At: time.Now()})
}

// setIdle returns the state machine to Idle without touching the stage log;
// Done and Failed are terminal stages of one interaction, not of the
// transport, and status snapshots between interactions report idle.
func (t *Transport) setIdle() {
	t.mu.Lock()
	t.state = Idle
	t.mu.Unlock()
}

// Run executes one send/wait/extract cycle against the leased page. The
// returned Result is never nil. Failure in any stage transitions directly to
// Failed with a stage-scoped error; the candidate lists are the only retry
// policy and there is no cross-stage fallback.
func (t *Transport) Run(ctx context.Context, page api.Page, opts Options) (*Result, error) {
	defer t.setIdle()

	res := &Result{PageURL: page.URL()}
	timeout := t.adapter.Timeout(opts.Timeout)
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	fail := func(err error) (*Result, error) {
		t.setState(Failed, res)
		return res, err
	}

	// EnsureReady: the first input candidate that resolves to an existing,
	// interactable element wins.
	t.setState(EnsureReady, res)
	inputSel, err := t.ensureReady(ctx, page)
	if err != nil {
		return fail(err)
	}
	t.logger.Debugf("Transport:Run", "provider:%s input resolved via %q", t.provider, inputSel)

	// The pre-send baseline is sampled before any page mutation so Sending
	// cannot race it.
	containerSel, baseline, err := t.containerBaseline(ctx, page)
	if err != nil {
		return fail(err)
	}

	// Sending: commit the prompt, then try the send controls in order,
	// falling back to a commit key-press on the input element.
	t.setState(Sending, res)
	if err := t.send(ctx, page, inputSel, opts.Prompt, res); err != nil {
		return fail(err)
	}

	if !opts.WaitForResponse {
		// The prompt is committed; the caller did not ask for a reply.
		t.setState(Done, res)
		return res, nil
	}

	// Waiting: fixed-interval polling against the stabilization condition
	// under a hard deadline.
	t.setState(Waiting, res)
	waitStart := time.Now()
	if err := t.waitStabilized(ctx, page, containerSel, baseline, timeout, interval, res); err != nil {
		return fail(err)
	}

	// Extracting: the first content candidate with a non-empty text wins;
	// the full container text is the fallback.
	t.setState(Extracting, res)
	if err := t.extract(ctx, page, containerSel, res); err != nil {
		return fail(err)
	}
	res.Elapsed = time.Since(waitStart)

	t.setState(Done, res)
	return res, nil
}

func (t *Transport) ensureReady(ctx context.Context, page api.Page) (string, error) {
	for _, sel := range t.adapter.Input {
		ok, err := t.evalBool(ctx, page, resolveInputScript(sel), api.StageEnsureReady)
		if err != nil {
			return "", err
		}
		if ok {
			return sel, nil
		}
	}
	return "", api.NewError(api.KindSelectorMissing, api.StageEnsureReady,
		"none of %d input candidates resolved for provider %q", len(t.adapter.Input), t.provider)
}

// containerBaseline picks the container candidate to poll and samples its
// pre-send count. The first candidate currently matching at least one
// element wins; on a fresh conversation none match and the first candidate
// is used with a baseline of zero.
func (t *Transport) containerBaseline(ctx context.Context, page api.Page) (string, int, error) {
	sel := t.adapter.ResponseContainer[0]
	baseline := 0
	for _, candidate := range t.adapter.ResponseContainer {
		n, err := t.evalInt(ctx, page, countScript(candidate), api.StageEnsureReady)
		if err != nil {
			return "", 0, err
		}
		if n > 0 {
			sel = candidate
			baseline = n
			break
		}
	}
	return sel, baseline, nil
}

func (t *Transport) send(ctx context.Context, page api.Page, inputSel, prompt string, res *Result) error {
	ok, err := t.evalBool(ctx, page, commitPromptScript(inputSel, prompt), api.StageSend)
	if err != nil {
		return err
	}
	if !ok {
		return api.NewError(api.KindSelectorMissing, api.StageSend,
			"input element %q disappeared before the prompt was committed", inputSel)
	}

	for _, sel := range t.adapter.Send {
		clicked, err := t.evalBool(ctx, page, clickScript(sel), api.StageSend)
		if err != nil {
			return err
		}
		if clicked {
			return nil
		}
	}

	// No send control resolved; commit with a key-press on the input.
	pressed, err := t.evalBool(ctx, page, pressEnterScript(inputSel), api.StageSend)
	if err != nil {
		return err
	}
	if !pressed {
		return api.NewError(api.KindSelectorMissing, api.StageSend,
			"no send control resolved and key-press fallback failed for provider %q", t.provider)
	}
	res.Warnings = append(res.Warnings, "no send control resolved; used key-press fallback")
	return nil
}

// waitStabilized polls until the response-container count has increased by
// one over the baseline and the busy indicator is absent, or until the hard
// deadline expires.
func (t *Transport) waitStabilized(
	ctx context.Context, page api.Page, containerSel string, baseline int,
	timeout, interval time.Duration, res *Result,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return api.NewError(api.KindResponseTimeout, api.StageWait,
				"wait aborted: %v", ctx.Err())
		case <-deadline.C:
			return api.NewError(api.KindResponseTimeout, api.StageWait,
				"no stabilized response within %s (baseline %d containers)", timeout, baseline)
		case <-ticker.C:
			count, err := t.evalInt(ctx, page, countScript(containerSel), api.StageWait)
			if err != nil {
				return err
			}
			if count < baseline+1 {
				continue
			}
			busy, err := t.evalBool(ctx, page, busyScript(t.adapter.Stop), api.StageWait)
			if err != nil {
				return err
			}
			if busy {
				continue
			}
			if count > baseline+1 {
				// Deliberately accepted: some UIs render one reply as
				// several container blocks, and waiting for a count of
				// exactly baseline+1 would then never complete. The
				// overshoot is surfaced as a warning instead.
				res.Warnings = append(res.Warnings,
					"response container count grew by more than one during the wait")
			}
			return nil
		}
	}
}

type extractPayload struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

func (t *Transport) extract(ctx context.Context, page api.Page, containerSel string, res *Result) error {
	for _, contentSel := range t.adapter.ResponseContent {
		payload, ok, err := t.evalExtract(ctx, page, extractScript(containerSel, contentSel))
		if err != nil {
			return err
		}
		if ok && payload.Text != "" {
			res.Text = payload.Text
			res.HTML = payload.HTML
			return nil
		}
	}

	payload, ok, err := t.evalExtract(ctx, page, containerTextScript(containerSel))
	if err != nil {
		return err
	}
	if !ok {
		// The container stabilized and then vanished; report what we know
		// rather than failing the whole interaction.
		res.Warnings = append(res.Warnings, "response container disappeared before extraction")
		return nil
	}
	res.Text = payload.Text
	res.HTML = payload.HTML
	res.Warnings = append(res.Warnings, "no content candidate resolved; extracted full container text")
	return nil
}

func (t *Transport) evalBool(ctx context.Context, page api.Page, expr, stage string) (bool, error) {
	raw, err := page.Evaluate(ctx, expr)
	if err != nil {
		return false, api.NewError(api.KindTransportUnreachable, stage,
			"page command failed: %v", err)
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, api.NewError(api.KindTransportUnreachable, stage,
			"unexpected evaluation result %q: %v", string(raw), err)
	}
	return v, nil
}

func (t *Transport) evalInt(ctx context.Context, page api.Page, expr, stage string) (int, error) {
	raw, err := page.Evaluate(ctx, expr)
	if err != nil {
		return 0, api.NewError(api.KindTransportUnreachable, stage,
			"page command failed: %v", err)
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, api.NewError(api.KindTransportUnreachable, stage,
			"unexpected evaluation result %q: %v", string(raw), err)
	}
	return v, nil
}

func (t *Transport) evalExtract(ctx context.Context, page api.Page, expr string) (extractPayload, bool, error) {
	var payload extractPayload
	raw, err := page.Evaluate(ctx, expr)
	if err != nil {
		return payload, false, api.NewError(api.KindTransportUnreachable, api.StageExtract,
			"page command failed: %v", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return payload, false, nil
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, false, api.NewError(api.KindTransportUnreachable, api.StageExtract,
			"unexpected evaluation result %q: %v", string(raw), err)
	}
	return payload, true, nil
}
