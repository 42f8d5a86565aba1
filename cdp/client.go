package cdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/mailru/easyjson"

	"github.com/uichat/uichat/log"
)

// ErrConnectionClosed is returned by Execute once the websocket to the
// browser has dropped. Callers treat it as a transport fault, not a
// selector failure.
var ErrConnectionClosed = errors.New("CDP connection closed")

var _ cdp.Executor = &Client{}

// Client manages CDP communication over one websocket connection. Each
// leased page gets its own Client dialed against the tab's debugger URL,
// which keeps message routing free of session multiplexing.
type Client struct {
	ctx    context.Context
	logger *log.Logger

	conn  *connection
	wsURL string
	msgID int64

	sendCh  chan *cdproto.Message
	errorCh chan error
	done    chan struct{}

	subsMu sync.Mutex
	subs   map[int64]chan *cdproto.Message

	closeOnce sync.Once
}

// NewClient returns a Client that is unusable until Connect establishes the
// websocket.
func NewClient(ctx context.Context, logger *log.Logger) *Client {
	return &Client{
		ctx:     ctx,
		logger:  logger,
		sendCh:  make(chan *cdproto.Message, 32), // buffered to avoid blocking in Execute
		errorCh: make(chan error, 1),
		done:    make(chan struct{}),
		subs:    make(map[int64]chan *cdproto.Message),
	}
}

// Connect dials the CDP websocket at wsURL and starts the send/receive
// loops.
func (c *Client) Connect(wsURL string) (err error) {
	if c.wsURL != "" {
		return fmt.Errorf("CDP connection already established to %q", c.wsURL)
	}
	if c.conn, err = newConnection(c.ctx, wsURL, c.logger); err != nil {
		return err
	}
	c.logger.Debugf("cdp:Connect", "established CDP connection to %q", wsURL)
	c.wsURL = wsURL

	go c.recvLoop()
	go c.sendLoop()

	return nil
}

// Close tears down the websocket and unblocks all pending Execute calls.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.close()
		}
	})
}

// Closed reports whether the connection has been torn down.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Execute implements cdp.Executor: it sends one command and blocks for the
// response matching the message ID.
func (c *Client) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	c.logger.Tracef("cdp:Execute", "wsURL:%q method:%q", c.wsURL, method)
	id := atomic.AddInt64(&c.msgID, 1)

	var buf []byte
	if params != nil {
		var err error
		if buf, err = easyjson.Marshal(params); err != nil {
			return fmt.Errorf("marshaling %q params: %w", method, err)
		}
	}
	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: buf,
	}

	recvCh := make(chan *cdproto.Message, 1)
	c.subsMu.Lock()
	c.subs[id] = recvCh
	c.subsMu.Unlock()
	defer func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}()

	select {
	case c.sendCh <- msg:
	case err := <-c.errorCh:
		return err
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	select {
	case reply := <-recvCh:
		if reply.Error != nil {
			return reply.Error
		}
		if res != nil {
			return easyjson.Unmarshal(reply.Result, res)
		}
		return nil
	case err := <-c.errorCh:
		return err
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *Client) recvLoop() {
	for {
		msg, err := c.conn.readMessage()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !c.Closed() {
				c.logger.Debugf("cdp:recvLoop", "wsURL:%q read error: %v", c.wsURL, err)
			}
			c.Close()
			return
		}

		switch {
		case msg.ID > 0:
			c.subsMu.Lock()
			ch, ok := c.subs[msg.ID]
			c.subsMu.Unlock()
			if !ok {
				c.logger.Tracef("cdp:recvLoop", "wsURL:%q dropping reply for unknown id:%d", c.wsURL, msg.ID)
				continue
			}
			select {
			case ch <- msg:
			default:
			}
		case msg.Method != "":
			// The engine polls for stabilization rather than subscribing to
			// CDP events, so unsolicited events are dropped here.
			c.logger.Tracef("cdp:recvLoop", "wsURL:%q ignoring event %q", c.wsURL, msg.Method)
		default:
			c.logger.Warnf("cdp:recvLoop", "wsURL:%q malformed CDP message (no id or method)", c.wsURL)
		}
	}
}

func (c *Client) sendLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			if err := c.conn.writeMessage(msg); err != nil {
				select {
				case c.errorCh <- err:
				default:
				}
				c.Close()
				return
			}
		case <-c.done:
			return
		case <-c.ctx.Done():
			c.Close()
			return
		}
	}
}
