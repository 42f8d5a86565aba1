// Package api holds the interfaces and shared types that connect the engine's
// packages without binding them to concrete implementations.
package api

import (
	"context"
	"encoding/json"
)

// Page is the control-channel view of one leased browser tab. The production
// implementation speaks CDP over a websocket; tests substitute mocks.
type Page interface {
	// Evaluate runs a JavaScript expression in the page and returns its
	// JSON-encoded value.
	Evaluate(ctx context.Context, expr string) (json.RawMessage, error)

	// Navigate loads the given URL in the tab and waits for the navigation
	// to be committed.
	Navigate(ctx context.Context, url string) error

	// URL returns the last known address of the tab.
	URL() string

	// Close releases the control-channel connection to the tab. It does not
	// close the tab itself.
	Close() error
}
