package chat

import "log/slog"

// Presence announces online/offline transitions to every other live
// connection. Delivery is best effort per target.
type Presence struct {
	registry *Registry
	metrics  Metrics
	logger   *slog.Logger
}

func NewPresence(registry *Registry, metrics Metrics, logger *slog.Logger) *Presence {
	return &Presence{
		registry: registry,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "presence")),
	}
}

// Online broadcasts user's online transition to everyone but joined.
func (p *Presence) Online(user UserID, joined *Client) {
	p.broadcast(StatusChange{UserID: user, IsOnline: true}, joined)
	p.metrics.OnlineUsers(p.registry.Len())
}

func (p *Presence) Offline(user UserID, left *Client) {
	p.broadcast(StatusChange{UserID: user, IsOnline: false}, left)
	p.metrics.OnlineUsers(p.registry.Len())
}

func (p *Presence) broadcast(change StatusChange, skip *Client) {
	b, err := encodeEvent(EventUserStatusChange, change)
	if err != nil {
		p.logger.Error("encode status change", slog.Any("error", err))
		return
	}
	for _, reg := range p.registry.snapshot() {
		if reg.client == skip || reg.user == change.UserID {
			continue
		}
		if err := reg.client.enqueue(EventUserStatusChange, b); err != nil {
			p.metrics.DeliveryFailed(EventUserStatusChange)
			p.logger.Warn("status change not delivered",
				slog.String("to", reg.user.String()),
				slog.String("userID", change.UserID.String()),
				slog.Bool("isOnline", change.IsOnline),
				slog.Any("error", err))
		}
	}
}
