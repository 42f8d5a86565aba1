// Package adapter defines the immutable per-provider interaction
// descriptors. An Adapter carries locator candidates and defaults only; all
// control flow lives in the transport.
package adapter

import (
	"strings"
	"time"

	"github.com/uichat/uichat/api"
)

// Adapter describes how to interact with one provider's chat UI. The
// candidate lists are ordered: the transport tries each in turn and the
// order is the entire retry policy.
type Adapter struct {
	// Name is the provider name requests address.
	Name string

	// URLHint is the address the provider's tab is expected to be on. It is
	// used both for tab discovery and for navigating to a fresh
	// conversation.
	URLHint string

	// Input locates the prompt input field.
	Input []string

	// Send locates the submit control. When none resolve, the transport
	// falls back to a commit key-press on the input element.
	Send []string

	// Stop locates the busy/stop-generation indicator. The reply is
	// considered finished only once none of these resolve.
	Stop []string

	// ResponseContainer locates one conversation reply block.
	ResponseContainer []string

	// ResponseContent locates the text content inside the newest reply
	// block. When none resolve non-empty, the full container text is used.
	ResponseContent []string

	// DefaultTimeout bounds the wait for a stabilized reply when the
	// request does not carry its own timeout.
	DefaultTimeout time.Duration
}

// Validate checks that every locator role has at least one candidate.
// A transport is never constructed over a partially populated adapter;
// failing here beats degrading silently later.
func (a *Adapter) Validate() error {
	var missing []string
	if a.Name == "" {
		missing = append(missing, "name")
	}
	if a.URLHint == "" {
		missing = append(missing, "url_hint")
	}
	if len(a.Input) == 0 {
		missing = append(missing, "input")
	}
	if len(a.Send) == 0 {
		missing = append(missing, "send")
	}
	if len(a.Stop) == 0 {
		missing = append(missing, "stop")
	}
	if len(a.ResponseContainer) == 0 {
		missing = append(missing, "response_container")
	}
	if len(a.ResponseContent) == 0 {
		missing = append(missing, "response_content")
	}
	if len(missing) > 0 {
		return api.NewError(api.KindAdapterIncomplete, api.StageConfig,
			"adapter %q is missing: %s", a.Name, strings.Join(missing, ", "))
	}
	return nil
}

// Timeout returns the adapter default when requested is zero or negative.
func (a *Adapter) Timeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if a.DefaultTimeout > 0 {
		return a.DefaultTimeout
	}
	return 120 * time.Second
}

// Registry is the set of configured adapters keyed by provider name.
type Registry map[string]Adapter

// NewRegistry validates each adapter and indexes it by name. The first
// invalid adapter aborts construction.
func NewRegistry(adapters ...Adapter) (Registry, error) {
	reg := make(Registry, len(adapters))
	for _, a := range adapters {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		reg[a.Name] = a
	}
	return reg, nil
}

// URLHints returns the provider -> URL hint map the pool discovers with.
func (r Registry) URLHints() map[string]string {
	hints := make(map[string]string, len(r))
	for name, a := range r {
		hints[name] = a.URLHint
	}
	return hints
}
