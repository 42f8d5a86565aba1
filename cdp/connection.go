// Package cdp implements the control channel to the browser: CDP message
// framing over a websocket, plus a per-tab Page wrapper.
package cdp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"

	"github.com/uichat/uichat/log"
)

const wsHandshakeTimeout = 10 * time.Second

// connection frames cdproto messages over a single websocket. Reads and
// writes are each driven by exactly one goroutine (the client's loops), so
// no locking is needed here.
type connection struct {
	ws     *websocket.Conn
	wsURL  string
	logger *log.Logger
}

func newConnection(ctx context.Context, wsURL string, logger *log.Logger) (*connection, error) {
	wd := &websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		ReadBufferSize:   1 << 20,
		WriteBufferSize:  1 << 20,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, _, err := wd.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dialing CDP websocket %q: %w", wsURL, err)
	}
	return &connection{ws: ws, wsURL: wsURL, logger: logger}, nil
}

func (c *connection) readMessage() (*cdproto.Message, error) {
	_, buf, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading CDP message: %w", err)
	}
	var msg cdproto.Message
	if err := easyjson.Unmarshal(buf, &msg); err != nil {
		return nil, fmt.Errorf("decoding CDP message: %w", err)
	}
	return &msg, nil
}

func (c *connection) writeMessage(msg *cdproto.Message) error {
	var encoder jwriter.Writer
	msg.MarshalEasyJSON(&encoder)
	if err := encoder.Error; err != nil {
		return fmt.Errorf("encoding CDP message: %w", err)
	}
	buf, err := encoder.BuildBytes()
	if err != nil {
		return fmt.Errorf("building CDP message bytes: %w", err)
	}

	w, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("opening websocket writer: %w", err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing CDP message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("flushing CDP message: %w", err)
	}
	return nil
}

func (c *connection) close() error {
	return c.ws.Close()
}
