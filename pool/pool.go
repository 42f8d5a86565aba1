// Package pool discovers browser tabs over the control endpoint and leases
// them to providers, one tab per provider.
package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/uichat/uichat/api"
	"github.com/uichat/uichat/log"
)

// Dialer opens a control-channel connection to one tab. Production wiring
// passes the cdp dialer; tests substitute mock pages.
type Dialer func(ctx context.Context, wsDebuggerURL, pageURL string) (api.Page, error)

// LeaseInfo is the observable state of one provider's tab claim.
type LeaseInfo struct {
	Provider   string
	TargetID   string
	PageURL    string
	Busy       bool
	Associated bool
}

type lease struct {
	targetID string
	pageURL  string
	wsURL    string
	busy     bool
	page     api.Page
}

// Pool maps providers to browser tabs. At most one outstanding lease may be
// busy per provider at a time; that flag is what serializes interactions.
type Pool struct {
	endpoint string
	hints    map[string]string // provider -> URL hint
	dial     Dialer
	logger   *log.Logger

	httpClient *http.Client

	mu     sync.Mutex
	leases map[string]*lease
}

// New returns a Pool discovering tabs on the given control endpoint
// (host:port). hints maps each provider name to the URL its tab is expected
// to be on.
func New(endpoint string, hints map[string]string, dial Dialer, logger *log.Logger) *Pool {
	return &Pool{
		endpoint:   endpoint,
		hints:      hints,
		dial:       dial,
		logger:     logger,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		leases:     make(map[string]*lease),
	}
}

// targetInfo is one entry of the control endpoint's /json/list reply.
type targetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// DiscoverPages queries the control endpoint for open tabs and refreshes the
// provider associations. Tabs matching no configured provider are ignored.
// Busy leases are left untouched so discovery never disturbs an in-flight
// interaction.
func (p *Pool) DiscoverPages(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s/json/list", p.endpoint), nil)
	if err != nil {
		return errors.Wrap(err, "building discovery request")
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "querying control endpoint %q", p.endpoint)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("control endpoint %q returned %s", p.endpoint, resp.Status)
	}

	var targets []targetInfo
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return errors.Wrap(err, "decoding target list")
	}

	seen := make(map[string]targetInfo, len(p.hints))
	for _, t := range targets {
		if t.Type != "" && t.Type != "page" {
			continue
		}
		provider := p.matchProvider(t.URL)
		if provider == "" {
			continue
		}
		// First matching tab wins for a provider.
		if _, ok := seen[provider]; !ok {
			seen[provider] = t
		}
	}

	// Reconcile the lease table under the lock, but collect the tabs that
	// need a fresh connection instead of dialing here: a slow websocket
	// handshake must not stall Lease/Release for every provider.
	type dialTask struct {
		provider string
		target   targetInfo
	}
	var tasks []dialTask

	p.mu.Lock()
	for provider, t := range seen {
		cur, ok := p.leases[provider]
		if ok && cur.busy {
			continue
		}
		if ok && cur.targetID == t.ID && cur.page != nil {
			cur.pageURL = t.URL
			continue
		}
		tasks = append(tasks, dialTask{provider: provider, target: t})
	}

	// Drop associations whose tab vanished, unless an interaction still
	// holds the lease.
	for provider, cur := range p.leases {
		if _, ok := seen[provider]; ok || cur.busy {
			continue
		}
		p.logger.Warnf("Pool:DiscoverPages", "provider:%s tab %s no longer present, dropping", provider, cur.targetID)
		if cur.page != nil {
			_ = cur.page.Close()
		}
		delete(p.leases, provider)
	}
	p.mu.Unlock()

	for _, task := range tasks {
		t := task.target
		page, err := p.dial(ctx, t.WebSocketDebuggerURL, t.URL)
		if err != nil {
			p.logger.Warnf("Pool:DiscoverPages", "provider:%s dialing tab %s: %v", task.provider, t.ID, err)
			continue
		}

		p.mu.Lock()
		cur, ok := p.leases[task.provider]
		if ok && cur.busy {
			// An interaction claimed the existing tab while we dialed; it
			// keeps its page until release.
			p.mu.Unlock()
			_ = page.Close()
			continue
		}
		if ok && cur.page != nil {
			_ = cur.page.Close()
		}
		p.leases[task.provider] = &lease{
			targetID: t.ID,
			pageURL:  t.URL,
			wsURL:    t.WebSocketDebuggerURL,
			page:     page,
		}
		p.mu.Unlock()
		p.logger.Infof("Pool:DiscoverPages", "provider:%s associated with tab %s url:%s", task.provider, t.ID, t.URL)
	}

	return nil
}

// matchProvider maps a tab URL to a configured provider via the adapter URL
// hints. hints is immutable after construction, so no lock is needed.
func (p *Pool) matchProvider(tabURL string) string {
	for provider, hint := range p.hints {
		if hint == "" {
			continue
		}
		hintHost := hint
		if u, err := url.Parse(hint); err == nil && u.Host != "" {
			hintHost = u.Host
		}
		if u, err := url.Parse(tabURL); err == nil && u.Host != "" {
			if strings.EqualFold(u.Host, hintHost) ||
				strings.HasSuffix(strings.ToLower(u.Host), "."+strings.ToLower(hintHost)) {
				return provider
			}
		}
	}
	return ""
}

// Lease claims the provider's tab for one interaction. A second claim while
// busy fails with provider_busy; a provider with no associated tab fails
// with provider_unavailable.
func (p *Pool) Lease(provider string) (api.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.leases[provider]
	if !ok || cur.page == nil {
		return nil, api.NewError(api.KindProviderUnavailable, api.StageLease,
			"no page associated with provider %q", provider)
	}
	if cur.busy {
		return nil, api.NewError(api.KindProviderBusy, api.StageLease,
			"an interaction is already in flight for provider %q", provider)
	}
	cur.busy = true
	return cur.page, nil
}

// Release clears the busy flag. It is called unconditionally on every
// interaction exit path and tolerates a missing lease.
func (p *Pool) Release(provider string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.leases[provider]; ok {
		cur.busy = false
	}
}

// Invalidate drops a provider's tab association after a control-channel
// fault. The next DiscoverPages may re-establish it; the pool never retries
// mid-interaction.
func (p *Pool) Invalidate(provider string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.leases[provider]
	if !ok {
		return
	}
	p.logger.Warnf("Pool:Invalidate", "provider:%s dropping tab %s", provider, cur.targetID)
	if cur.page != nil {
		_ = cur.page.Close()
	}
	delete(p.leases, provider)
}

// Snapshot reports the provider's lease state without touching it.
func (p *Pool) Snapshot(provider string) LeaseInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := LeaseInfo{Provider: provider}
	if cur, ok := p.leases[provider]; ok {
		info.Associated = cur.page != nil
		info.Busy = cur.busy
		info.TargetID = cur.targetID
		info.PageURL = cur.pageURL
	}
	return info
}

// Close releases all page connections. Leases still busy are closed too;
// this is only called on engine shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for provider, cur := range p.leases {
		if cur.page != nil {
			_ = cur.page.Close()
		}
		delete(p.leases, provider)
	}
}
