package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	"github.com/uichat/uichat/api"
	"github.com/uichat/uichat/log"
)

var _ api.Page = &Page{}

// Page drives one browser tab over its own CDP connection.
type Page struct {
	client *Client
	logger *log.Logger

	mu  sync.Mutex
	url string
}

// DialPage connects to a tab's debugger websocket and returns a Page for it.
// pageURL is the tab address reported by the discovery endpoint.
func DialPage(ctx context.Context, wsDebuggerURL, pageURL string, logger *log.Logger) (*Page, error) {
	client := NewClient(ctx, logger)
	if err := client.Connect(wsDebuggerURL); err != nil {
		return nil, err
	}
	return &Page{client: client, logger: logger, url: pageURL}, nil
}

// Evaluate runs a JavaScript expression in the tab and returns its value as
// raw JSON.
func (p *Page) Evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	if p.client.Closed() {
		return nil, ErrConnectionClosed
	}
	action := runtime.Evaluate(expr).WithReturnByValue(true)
	remote, exception, err := action.Do(cdp.WithExecutor(ctx, p.client))
	if err != nil {
		return nil, fmt.Errorf("evaluating expression: %w", err)
	}
	if exception != nil {
		return nil, fmt.Errorf("expression threw in page: %s", exception.Text)
	}
	if remote == nil {
		return nil, nil
	}
	return json.RawMessage(remote.Value), nil
}

// Navigate loads url in the tab.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.client.Closed() {
		return ErrConnectionClosed
	}
	action := cdppage.Navigate(url)
	_, _, errorText, err := action.Do(cdp.WithExecutor(ctx, p.client))
	if err != nil {
		return fmt.Errorf("navigating to %q: %w", url, err)
	}
	if errorText != "" {
		return fmt.Errorf("navigating to %q: %s", url, errorText)
	}

	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

// URL returns the last known address of the tab.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Close releases the control-channel connection. The tab stays open.
func (p *Page) Close() error {
	p.client.Close()
	return nil
}
