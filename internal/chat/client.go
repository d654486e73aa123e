package chat

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// writeDeadliner is implemented by real websocket connections.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

type ClientState uint8

const (
	StateUnjoined ClientState = iota
	StateJoined
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	default:
		return "closed"
	}
}

var (
	errSendBufferFull = errors.New("send buffer full")
	errClientClosed   = errors.New("connection closed")
)

// Client is one live connection. Identity is the authenticated user the
// transport was opened for; User is bound by the join handshake.
type Client struct {
	Id       string
	Identity UserID
	Conn     ConnLike

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	// sendMu orders producers on send; held across join so the online
	// snapshot is the first routed frame.
	sendMu sync.Mutex

	mu    sync.Mutex
	state ClientState
	user  UserID

	writeTimeout time.Duration
	logger       *slog.Logger
}

type ClientOptions struct {
	SendBuffer   int
	WriteTimeout time.Duration
}

func NewClient(identity UserID, conn ConnLike, opts ClientOptions, logger *slog.Logger) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 16
	}
	id := uuid.NewString()
	return &Client{
		Id:           id,
		Identity:     identity,
		Conn:         conn,
		send:         make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		logger:       logger.With(slog.String("connID", id), slog.String("identity", identity.String())),
	}
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// User returns the identity bound at join time.
func (c *Client) User() (UserID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user, c.state == StateJoined
}

// bind moves Unjoined -> Joined. A repeated join for the same user reports
// rejoined=true and changes nothing.
func (c *Client) bind(user UserID) (rejoined bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateClosed:
		return false, Validation("join", "connection is closed")
	case StateJoined:
		if c.user != user {
			return false, Unauthenticated("join", "connection already joined as another user")
		}
		return true, nil
	}
	c.state, c.user = StateJoined, user
	return false, nil
}

// finish moves the client to Closed. first is false for every call after the
// first one; user and joined describe the state the client was in.
func (c *Client) finish() (user UserID, joined, first bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return c.user, false, false
	}
	joined = c.state == StateJoined
	c.state = StateClosed
	return c.user, joined, true
}

// Push queues an event for the write pump without blocking.
func (c *Client) Push(event string, data any) error {
	b, err := encodeEvent(event, data)
	if err != nil {
		return Delivery(event, err)
	}
	return c.enqueue(event, b)
}

func (c *Client) enqueue(event string, b []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.enqueueLocked(event, b)
}

// holdSends blocks every other producer until the returned func is called.
// Only pushLocked may be used meanwhile.
func (c *Client) holdSends() func() {
	c.sendMu.Lock()
	return c.sendMu.Unlock
}

func (c *Client) pushLocked(event string, data any) error {
	b, err := encodeEvent(event, data)
	if err != nil {
		return Delivery(event, err)
	}
	return c.enqueueLocked(event, b)
}

func (c *Client) enqueueLocked(event string, b []byte) error {
	select {
	case <-c.done:
		return Delivery(event, errClientClosed)
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return Delivery(event, errSendBufferFull)
	}
}

// ReadPump reads frames until the transport fails and hands each one to handle.
func (c *Client) ReadPump(handle func(c *Client, data []byte)) error {
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(c, data)
	}
}

func (c *Client) WritePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if d, ok := c.Conn.(writeDeadliner); ok && c.writeTimeout > 0 {
				_ = d.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("write failed, closing connection", slog.Any("error", err))
				c.Close()
				return
			}
		}
	}
}

// Close stops the write pump and closes the transport, which in turn ends
// the read pump. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.Conn.Close(); err != nil {
			c.logger.Debug("transport close", slog.Any("error", err))
		}
	})
}

func (c *Client) Done() <-chan struct{} { return c.done }
