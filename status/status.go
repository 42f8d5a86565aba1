// Package status composes supervisor, pool, transport and session state into
// read-only per-provider snapshots.
package status

import (
	"github.com/uichat/uichat/api"
	"github.com/uichat/uichat/chromium"
	"github.com/uichat/uichat/pool"
	"github.com/uichat/uichat/session"
	"github.com/uichat/uichat/transport"
)

// BrowserStatus reflects the supervised browser process.
type BrowserStatus struct {
	State           string `json:"state"`
	PID             int    `json:"pid,omitempty"`
	ControlEndpoint string `json:"controlEndpoint,omitempty"`
}

// PageStatus reflects the provider's tab association.
type PageStatus struct {
	Associated bool   `json:"associated"`
	Busy       bool   `json:"busy"`
	TargetID   string `json:"targetId,omitempty"`
	URL        string `json:"url,omitempty"`
}

// TransportStatus reflects the provider's transport.
type TransportStatus struct {
	Attached bool   `json:"attached"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	State    string `json:"state,omitempty"`
}

// Snapshot is the immutable composite returned by the aggregator. It is
// assembled on demand and never persisted.
type Snapshot struct {
	Provider  string          `json:"provider"`
	Browser   BrowserStatus   `json:"browser"`
	Page      PageStatus      `json:"page"`
	Transport TransportStatus `json:"transport"`
	Session   session.Stats   `json:"session"`
}

// Aggregator reads from its sources without blocking on or interacting with
// in-flight interactions.
type Aggregator struct {
	supervisor *chromium.Supervisor
	pool       *pool.Pool
	accountant *session.Accountant
	transports map[string]*transport.Transport
}

// NewAggregator wires the snapshot sources together. transports is shared
// with the engine and never mutated after construction.
func NewAggregator(
	sup *chromium.Supervisor,
	p *pool.Pool,
	acct *session.Accountant,
	transports map[string]*transport.Transport,
) *Aggregator {
	return &Aggregator{
		supervisor: sup,
		pool:       p,
		accountant: acct,
		transports: transports,
	}
}

// Snapshot assembles the composite for one provider.
func (g *Aggregator) Snapshot(provider string) (Snapshot, error) {
	tr, ok := g.transports[provider]
	if !ok {
		return Snapshot{}, api.NewError(api.KindTransportNotAttached, "",
			"no transport configured for provider %q", provider)
	}

	snap := Snapshot{
		Provider: provider,
		Browser:  BrowserStatus{State: g.supervisor.State().String()},
		Transport: TransportStatus{
			Attached: true,
			Name:     provider,
			Kind:     "cdp",
			State:    tr.State().String(),
		},
		Session: g.accountant.Snapshot(provider),
	}
	if h := g.supervisor.Handle(); h != nil {
		snap.Browser.PID = h.PID
		snap.Browser.ControlEndpoint = h.ControlEndpoint
	}

	lease := g.pool.Snapshot(provider)
	snap.Page = PageStatus{
		Associated: lease.Associated,
		Busy:       lease.Busy,
		TargetID:   lease.TargetID,
		URL:        lease.PageURL,
	}
	return snap, nil
}

// Snapshots assembles composites for every configured provider.
func (g *Aggregator) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(g.transports))
	for provider := range g.transports {
		snap, err := g.Snapshot(provider)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out
}
