package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/ghostd/internal/protocol"
)

const dialTimeout = 10 * time.Second

// Client is one overlay instance's connection to the coordinator. It owns
// connection setup and teardown, answers selection-inspection requests, and
// feeds everything else to its Controller.
type Client struct {
	conn *websocket.Conn
	ctrl *Controller

	wmu       sync.Mutex
	selMu     sync.Mutex
	selection string

	onUpdate func(DisplayState)
	done     chan struct{}
	closed   sync.Once
}

// ClientOption configures optional Client behavior.
type ClientOption func(*Client)

// WithOnUpdate registers a callback invoked after every state change.
func WithOnUpdate(fn func(DisplayState)) ClientOption {
	return func(c *Client) { c.onUpdate = fn }
}

// Dial connects to the coordinator's websocket endpoint. baseURL is the
// coordinator's HTTP address; the scheme is rewritten for the socket.
func Dial(ctx context.Context, baseURL string, opts ...ClientOption) (*Client, error) {
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/ws"

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to coordinator at %s: %w", baseURL, err)
	}

	c := &Client{
		conn: conn,
		ctrl: NewController(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()
	return c, nil
}

// SetSelection records the local text selection a shortcut trigger would
// check.
func (c *Client) SetSelection(text string) {
	c.selMu.Lock()
	c.selection = text
	c.selMu.Unlock()
}

func (c *Client) currentSelection() string {
	c.selMu.Lock()
	defer c.selMu.Unlock()
	return c.selection
}

// Check asks the coordinator to fact-check the given text.
func (c *Client) Check(text string) error {
	return c.send(protocol.TriggerCheck(text))
}

// State returns the current display snapshot.
func (c *Client) State() DisplayState {
	return c.ctrl.Snapshot()
}

// Done is closed when the connection is gone, expectedly or not.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close dismisses the overlay: the connection is torn down and the read
// loop exits.
func (c *Client) Close() {
	c.closed.Do(func() {
		c.conn.Close()
	})
}

func (c *Client) send(msg protocol.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			// Disconnects after a finished stream (or while already
			// showing an error) are routine teardown, not failures.
			c.ctrl.ConnectionLost()
			c.notify()
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("dropping malformed coordinator message", "error", err)
			continue
		}
		if !msg.Recognized() {
			continue
		}

		// The selection-inspection request is answered, not displayed.
		// An empty selection means silence, not an error.
		if msg.Type == protocol.TypeTriggerCheckRequest {
			if sel := c.currentSelection(); strings.TrimSpace(sel) != "" {
				if err := c.Check(sel); err != nil {
					slog.Warn("trigger check failed", "error", err)
				}
			}
			continue
		}

		c.ctrl.Apply(msg)
		c.notify()
	}
}

func (c *Client) notify() {
	if c.onUpdate != nil {
		c.onUpdate(c.ctrl.Snapshot())
	}
}
