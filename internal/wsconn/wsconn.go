// Package wsconn provides a WebSocket client with reconnection and
// blocking message delivery for downstream backpressure.
package wsconn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// State represents the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Config holds WebSocket client configuration.
type Config struct {
	URL            string
	Headers        map[string]string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxReconnects bounds reconnection attempts after an abnormal closure.
	// 0 disables reconnection; a finite stream should end, not resume.
	MaxReconnects int
	PingInterval  time.Duration // 0 disables keepalive pings
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		MaxReconnects:  0,
		PingInterval:   30 * time.Second,
	}
}

// Client reads text messages from a WebSocket endpoint into a channel.
// Channel sends block, so a slow consumer pauses the read loop and the
// peer sees TCP backpressure instead of unbounded buffering here.
type Client struct {
	config Config

	conn   *websocket.Conn
	connMu sync.Mutex

	state   State
	stateMu sync.RWMutex

	messages chan []byte
	err      error
	errMu    sync.Mutex
	done     chan struct{}
	closeOne sync.Once

	reconnectHook func(ctx context.Context) error
}

// New creates a new WebSocket client.
func New(config Config) *Client {
	return &Client{
		config:   config,
		state:    StateDisconnected,
		messages: make(chan []byte, 1),
		done:     make(chan struct{}),
	}
}

// OnReconnect registers a hook run after every successful reconnect dial,
// before reads resume. A session that needs a subscribe frame uses it to
// re-establish the subscription; without one the resumed session would sit
// idle. Must be set before Connect. A hook error abandons the reconnect.
func (c *Client) OnReconnect(fn func(ctx context.Context) error) {
	c.reconnectHook = fn
}

// Connect dials the endpoint and starts the read loop. The returned error
// covers the initial dial only; later failures surface through Err after
// Messages is closed.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	if err := c.dial(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.setState(StateConnected)
	go c.readLoop(ctx)
	if c.config.PingInterval > 0 {
		go c.keepalive(ctx)
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	opts := &websocket.DialOptions{}
	if len(c.config.Headers) > 0 {
		opts.HTTPHeader = make(map[string][]string, len(c.config.Headers))
		for k, v := range c.config.Headers {
			opts.HTTPHeader.Set(k, v)
		}
	}

	conn, _, err := websocket.Dial(ctx, c.config.URL, opts)
	if err != nil {
		return err
	}
	// History payloads can be large; do not let the library cap them.
	conn.SetReadLimit(-1)

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// Send writes a text message.
func (c *Client) Send(ctx context.Context, msg []byte) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return errors.New("wsconn: not connected")
	}
	return conn.Write(ctx, websocket.MessageText, msg)
}

// Messages returns the receive channel. It is closed when the stream ends;
// check Err afterwards to distinguish normal closure from failure.
func (c *Client) Messages() <-chan []byte {
	return c.messages
}

// Err returns the terminal error, or nil after a normal closure.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// State returns the current connection state.
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOne.Do(func() {
		close(c.done)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close(websocket.StatusNormalClosure, "client closing")
		}
		c.connMu.Unlock()
		c.setState(StateClosed)
	})
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.messages)

	reconnects := 0
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				// Server finished the stream.
				return
			}
			if ctx.Err() != nil {
				c.fail(ctx.Err())
				return
			}
			if reconnects >= c.config.MaxReconnects {
				c.fail(err)
				return
			}
			reconnects++
			if !c.reconnect(ctx, reconnects) {
				c.fail(err)
				return
			}
			continue
		}

		select {
		case c.messages <- data:
		case <-ctx.Done():
			c.fail(ctx.Err())
			return
		case <-c.done:
			return
		}
	}
}

func (c *Client) reconnect(ctx context.Context, attempt int) bool {
	c.setState(StateReconnecting)

	backoff := c.config.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > c.config.MaxBackoff {
			backoff = c.config.MaxBackoff
			break
		}
	}

	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}

	if err := c.dial(ctx); err != nil {
		return false
	}
	if c.reconnectHook != nil {
		if err := c.reconnectHook(ctx); err != nil {
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close(websocket.StatusNormalClosure, "resubscribe failed")
			}
			c.connMu.Unlock()
			return false
		}
	}
	c.setState(StateConnected)
	return true
}

func (c *Client) keepalive(ctx context.Context) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn != nil {
				_ = conn.Ping(ctx)
			}
		}
	}
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
	c.setState(StateDisconnected)
}

func (c *Client) setState(state State) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
}
