package uichat

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/uichat/uichat/api"
	"github.com/uichat/uichat/cdp"
	"github.com/uichat/uichat/log"
	"github.com/uichat/uichat/pool"
)

// cdpDialer is the production pool dialer: one CDP websocket per tab.
func cdpDialer(logger *log.Logger) pool.Dialer {
	return func(ctx context.Context, wsDebuggerURL, pageURL string) (api.Page, error) {
		page, err := cdp.DialPage(ctx, wsDebuggerURL, pageURL, logger)
		if err != nil {
			return nil, fmt.Errorf("dialing page %q: %w", pageURL, err)
		}
		return page, nil
	}
}

func controlEndpoint(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
