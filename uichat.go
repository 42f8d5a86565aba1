// Package uichat drives browser-hosted AI chat interfaces as a uniform
// request/response API. The Engine composes the browser process supervisor,
// the tab pool, the per-provider transports and the session accounting, and
// exposes the three operations the request surface consumes: Send, Status
// and StartNewSession.
package uichat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/uichat/uichat/adapter"
	"github.com/uichat/uichat/api"
	"github.com/uichat/uichat/chromium"
	"github.com/uichat/uichat/log"
	"github.com/uichat/uichat/metrics"
	"github.com/uichat/uichat/pool"
	"github.com/uichat/uichat/session"
	"github.com/uichat/uichat/status"
	"github.com/uichat/uichat/transport"
)

const snippetLimit = 200

// Config configures an Engine.
type Config struct {
	// BrowserPath is the browser binary launched by the supervisor.
	BrowserPath string

	// ProfileDir is the fixed user-data directory, reused across restarts
	// so provider-side authentication state survives.
	ProfileDir string

	// ControlPort is the remote debugging port.
	ControlPort int

	// Pidfile records the launched browser for recovery across restarts.
	Pidfile string

	// Adapters are the provider descriptors. Empty means the built-ins.
	Adapters []adapter.Adapter

	// Registerer receives the Prometheus instruments. Nil means the default
	// registerer.
	Registerer prometheus.Registerer

	// Dialer overrides how tab connections are opened. Nil means CDP over
	// websocket; tests inject mock pages here.
	Dialer pool.Dialer
}

// Metadata accompanies every interaction result, success or failure.
type Metadata struct {
	TransportType   string                 `json:"transportType"`
	ControlEndpoint string                 `json:"controlEndpoint"`
	PageURL         string                 `json:"pageUrl"`
	RequestID       string                 `json:"requestId"`
	ElapsedMs       int64                  `json:"elapsedMs"`
	StageLog        []transport.StageEntry `json:"stageLog"`
	Warnings        []string               `json:"warnings"`
	Error           *api.Error             `json:"error,omitempty"`
}

// StructuredContent is the best-effort formatted reply.
type StructuredContent struct {
	Text string `json:"text"`
	HTML string `json:"html,omitempty"`
}

// SendResult is the caller-facing outcome of one interaction.
type SendResult struct {
	Success           bool               `json:"success"`
	Snippet           string             `json:"snippet,omitempty"`
	StructuredContent *StructuredContent `json:"structuredContent,omitempty"`
	Metadata          Metadata           `json:"metadata"`
}

// Engine is the automation transport engine.
type Engine struct {
	cfg        Config
	logger     *log.Logger
	supervisor *chromium.Supervisor
	pool       *pool.Pool
	accountant *session.Accountant
	metrics    *metrics.Metrics
	registry   adapter.Registry
	transports map[string]*transport.Transport
	aggregator *status.Aggregator
	endpoint   string
}

// New builds an Engine. Adapter validation happens here: a partially
// populated descriptor fails construction instead of degrading at send time.
func New(cfg Config, logger *log.Logger) (*Engine, error) {
	adapters := cfg.Adapters
	if len(adapters) == 0 {
		adapters = adapter.Builtins()
	}
	registry, err := adapter.NewRegistry(adapters...)
	if err != nil {
		return nil, err
	}

	transports := make(map[string]*transport.Transport, len(registry))
	for name, a := range registry {
		tr, err := transport.New(name, a, logger)
		if err != nil {
			return nil, err
		}
		transports[name] = tr
	}

	endpoint := controlEndpoint(cfg.ControlPort)
	dial := cfg.Dialer
	if dial == nil {
		dial = cdpDialer(logger)
	}

	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	sup := chromium.NewSupervisor(cfg.BrowserPath, cfg.Pidfile, logger)
	p := pool.New(endpoint, registry.URLHints(), dial, logger)
	acct := session.NewAccountant(logger)

	return &Engine{
		cfg:        cfg,
		logger:     logger,
		supervisor: sup,
		pool:       p,
		accountant: acct,
		metrics:    metrics.New(reg),
		registry:   registry,
		transports: transports,
		aggregator: status.NewAggregator(sup, p, acct, transports),
		endpoint:   endpoint,
	}, nil
}

// Start ensures the browser is running and performs the initial tab
// discovery.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.supervisor.EnsureRunning(ctx, e.cfg.ProfileDir, e.cfg.ControlPort); err != nil {
		return err
	}
	return e.pool.DiscoverPages(ctx)
}

// Shutdown releases tab connections and stops the browser.
func (e *Engine) Shutdown(ctx context.Context, grace time.Duration) error {
	e.pool.Close()
	return e.supervisor.Stop(ctx, grace)
}

// DiscoverPages refreshes the provider/tab associations.
func (e *Engine) DiscoverPages(ctx context.Context) error {
	return e.pool.DiscoverPages(ctx)
}

// Send submits a prompt to the named provider and, when waitForResponse is
// set, waits for the stabilized reply and extracts it. A second Send for the
// same provider while one is in flight fails immediately with provider_busy;
// callers retry. Every exit path releases the lease.
func (e *Engine) Send(ctx context.Context, provider, prompt string, waitForResponse bool, timeout time.Duration) *SendResult {
	started := time.Now()
	md := Metadata{
		TransportType:   "cdp",
		ControlEndpoint: e.endpoint,
		RequestID:       uuid.NewString(),
		Warnings:        []string{},
		StageLog:        []transport.StageEntry{},
	}

	fail := func(err error) *SendResult {
		md.Error = api.AsError(err)
		md.ElapsedMs = time.Since(started).Milliseconds()
		e.metrics.ObserveInteraction(provider, string(md.Error.Kind), time.Since(started))
		e.logger.Warnf("Engine:Send", "provider:%s request:%s failed: %v", provider, md.RequestID, err)
		return &SendResult{Success: false, Metadata: md}
	}

	tr, ok := e.transports[provider]
	if !ok {
		return fail(api.NewError(api.KindTransportNotAttached, "",
			"no transport configured for provider %q", provider))
	}

	page, err := e.pool.Lease(provider)
	if err != nil {
		return fail(err)
	}
	defer e.pool.Release(provider)

	res, runErr := tr.Run(ctx, page, transport.Options{
		Prompt:          prompt,
		WaitForResponse: waitForResponse,
		Timeout:         timeout,
	})
	md.PageURL = res.PageURL
	md.StageLog = res.StageLog
	md.Warnings = append(md.Warnings, res.Warnings...)

	if runErr != nil {
		if api.KindOf(runErr) == api.KindTransportUnreachable {
			// Dropped control channel: drop the association too. The next
			// discovery may re-establish it; never silently retry now.
			e.pool.Invalidate(provider)
		}
		return fail(runErr)
	}

	if waitForResponse {
		sent, recv := e.accountant.Record(provider, prompt, res.Text, res.Elapsed)
		e.metrics.AddTokens(provider, sent, recv)
	}

	md.ElapsedMs = time.Since(started).Milliseconds()
	e.metrics.ObserveInteraction(provider, "ok", time.Since(started))
	e.logger.Infof("Engine:Send", "provider:%s request:%s ok in %dms", provider, md.RequestID, md.ElapsedMs)

	out := &SendResult{Success: true, Metadata: md}
	if res.Text != "" {
		out.Snippet = snippet(res.Text)
		out.StructuredContent = &StructuredContent{Text: res.Text, HTML: res.HTML}
	}
	return out
}

// Status returns the snapshot for one provider.
func (e *Engine) Status(provider string) (status.Snapshot, error) {
	return e.aggregator.Snapshot(provider)
}

// StatusAll returns snapshots for every configured provider.
func (e *Engine) StatusAll() []status.Snapshot {
	return e.aggregator.Snapshots()
}

// StartNewSession navigates the provider's tab to a fresh conversation and
// zeroes its session statistics. It fails with provider_unavailable or
// provider_busy under the same conditions as Send.
func (e *Engine) StartNewSession(ctx context.Context, provider string) error {
	a, ok := e.registry[provider]
	if !ok {
		return api.NewError(api.KindTransportNotAttached, "",
			"no transport configured for provider %q", provider)
	}

	page, err := e.pool.Lease(provider)
	if err != nil {
		return err
	}
	defer e.pool.Release(provider)

	if err := page.Navigate(ctx, a.URLHint); err != nil {
		e.pool.Invalidate(provider)
		return api.NewError(api.KindTransportUnreachable, api.StageNavigate,
			"navigating to fresh conversation: %v", err)
	}

	e.accountant.Reset(provider)
	e.logger.Infof("Engine:StartNewSession", "provider:%s reset", provider)
	return nil
}

// Providers lists the configured provider names.
func (e *Engine) Providers() []string {
	names := make([]string, 0, len(e.registry))
	for name := range e.registry {
		names = append(names, name)
	}
	return names
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLimit {
		return text
	}
	return string(runes[:snippetLimit]) + "…"
}
