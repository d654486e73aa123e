package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// Hub wires the presence and delivery components together and runs the
// per-connection event loop.
type Hub struct {
	Store     ConversationStore
	Registry  *Registry
	Presence  *Presence
	Typing    *Typing
	Router    *Router
	Lifecycle *Lifecycle

	clientOpts ClientOptions
	conns      sync.WaitGroup
	logger     *slog.Logger
}

type HubConfig struct {
	QuietPeriod  time.Duration
	SendBuffer   int
	WriteTimeout time.Duration
}

type HubDeps struct {
	Store     ConversationStore
	Directory UserDirectory
	Recorder  PresenceRecorder
	Metrics   Metrics
	Logger    *slog.Logger
}

func NewHub(cfg HubConfig, deps HubDeps) *Hub {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := NewRegistry()
	presence := NewPresence(registry, metrics, logger)
	typing := NewTyping(registry, cfg.QuietPeriod, metrics, logger)
	return &Hub{
		Store:     deps.Store,
		Registry:  registry,
		Presence:  presence,
		Typing:    typing,
		Router:    NewRouter(deps.Store, deps.Directory, registry, typing, metrics, logger),
		Lifecycle: NewLifecycle(registry, presence, typing, deps.Recorder, logger),
		clientOpts: ClientOptions{
			SendBuffer:   cfg.SendBuffer,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger.With(slog.String("component", "hub")),
	}
}

// Serve runs one live connection until its transport fails or ctx is
// cancelled, then tears down whatever the connection had registered.
func (h *Hub) Serve(ctx context.Context, identity UserID, conn ConnLike) {
	h.conns.Add(1)
	defer h.conns.Done()

	c := NewClient(identity, conn, h.clientOpts, h.logger)
	c.logger.Debug("connection opened")
	go c.WritePump()
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	err := c.ReadPump(func(c *Client, data []byte) { h.handleFrame(ctx, c, data) })
	c.logger.Debug("connection ended", slog.Any("reason", err))
	h.Lifecycle.OnDisconnect(ctx, c)
}

func (h *Hub) handleFrame(ctx context.Context, c *Client, data []byte) {
	event := gjson.GetBytes(data, "event")
	if !event.Exists() || event.Type != gjson.String {
		h.reject(c, Validation("decode frame", "frame must carry an event name"))
		return
	}
	payload := []byte(gjson.GetBytes(data, "data").Raw)

	switch event.String() {
	case EventJoin:
		h.handleJoin(ctx, c, payload)
	case EventTyping:
		h.handleTyping(c, payload)
	default:
		h.reject(c, Validation("decode frame", "unknown event "+event.String()))
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, payload []byte) {
	var p JoinPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			h.reject(c, Validation("join", "malformed join payload"))
			return
		}
	}
	user := c.Identity
	if p.UserID != "" {
		parsed, err := ParseUserID(p.UserID)
		if err != nil {
			h.reject(c, err)
			return
		}
		user = parsed
	}
	if user == "" {
		h.reject(c, Unauthenticated("join", "missing identity"))
		return
	}
	if err := h.Lifecycle.OnJoin(ctx, user, c); err != nil {
		h.reject(c, err)
	}
}

func (h *Hub) handleTyping(c *Client, payload []byte) {
	user, joined := c.User()
	if !joined {
		h.reject(c, Validation("typing", "join before sending typing events"))
		return
	}
	var p TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.reject(c, Validation("typing", "malformed typing payload"))
		return
	}
	peer, err := ParseUserID(p.ReceiverID)
	if err != nil {
		h.reject(c, err)
		return
	}
	if p.IsTyping {
		h.Typing.SignalTyping(user, peer)
	} else {
		h.Typing.SignalStopped(user, peer)
	}
}

// reject reports a failed client request back on the same connection.
func (h *Hub) reject(c *Client, err error) {
	c.logger.Debug("frame rejected", slog.Any("error", err))
	if perr := c.Push(EventError, ErrorPayload{Error: Public(err)}); perr != nil {
		c.logger.Warn("error event not delivered", slog.Any("error", perr))
	}
}

// Wait blocks until every Serve call has returned or ctx is done.
func (h *Hub) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListClients returns the users that are online right now.
func (h *Hub) ListClients() []UserID {
	return h.Registry.OnlineUserIDs()
}
