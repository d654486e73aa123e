package chat

import (
	"context"
	"log/slog"
	"time"
)

const recordTimeout = 5 * time.Second

// PresenceRecorder persists a user's last known presence.
type PresenceRecorder interface {
	TouchPresence(ctx context.Context, user UserID, online bool, at time.Time) error
}

// Lifecycle binds identities to connections on join and tears the binding
// down on disconnect. Transitions of one user are serialized, so peers see
// them in registry order.
type Lifecycle struct {
	registry *Registry
	presence *Presence
	typing   *Typing
	recorder PresenceRecorder
	locks    keyedMutex
	logger   *slog.Logger
	now      func() time.Time

	// snapshotTaken runs between taking and queueing a join snapshot.
	snapshotTaken func(user UserID)
}

func NewLifecycle(registry *Registry, presence *Presence, typing *Typing, recorder PresenceRecorder, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		registry: registry,
		presence: presence,
		typing:   typing,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "lifecycle")),
		now:      time.Now,
	}
}

// OnJoin registers c as user's live connection, announces the user online
// and sends c the current online snapshot. The snapshot is queued before any
// other routed frame can reach c.
func (l *Lifecycle) OnJoin(ctx context.Context, user UserID, c *Client) error {
	if c.Identity != "" && c.Identity != user {
		return Unauthenticated("join", "join identity does not match the authenticated user")
	}

	unlock := l.locks.lock(user)
	rejoined, err := c.bind(user)
	if err != nil {
		unlock()
		return err
	}
	if rejoined {
		if cur, ok := l.registry.Lookup(user); ok && cur == c {
			release := c.holdSends()
			l.pushSnapshot(c, l.registry.OnlineUserIDs())
			release()
			unlock()
			return nil
		}
		// 旧连接被覆盖后再次 join：重新注册，路由回到这个连接
	}

	at := l.now().UTC()
	release := c.holdSends()
	prev := l.registry.Register(user, c)
	snapshot := l.registry.OnlineUserIDs()
	if l.snapshotTaken != nil {
		l.snapshotTaken(user)
	}
	l.pushSnapshot(c, snapshot)
	release()

	if prev == nil {
		l.presence.Online(user, c)
	} else {
		// 同一用户的新连接覆盖旧连接，在线状态没有变化
		l.logger.Info("connection superseded",
			slog.String("userID", user.String()),
			slog.String("previousConnID", prev.Id),
			slog.String("connID", c.Id))
	}
	unlock()

	l.record(ctx, user, true, at)
	l.logger.Info("user joined", slog.String("userID", user.String()), slog.String("connID", c.Id), slog.Int("online", len(snapshot)))
	return nil
}

// OnDisconnect tolerates connections that never joined and duplicate
// notifications for the same connection.
func (l *Lifecycle) OnDisconnect(ctx context.Context, c *Client) {
	user, joined, first := c.finish()
	c.Close()
	if !first || !joined {
		return
	}

	unlock := l.locks.lock(user)
	at := l.now().UTC()
	removed := l.registry.Unregister(user, c)
	if removed {
		l.typing.StopAll(user)
		l.presence.Offline(user, c)
	}
	unlock()

	if !removed {
		l.logger.Debug("superseded connection closed", slog.String("userID", user.String()), slog.String("connID", c.Id))
		return
	}
	l.record(ctx, user, false, at)
	l.logger.Info("user left", slog.String("userID", user.String()), slog.String("connID", c.Id))
}

// pushSnapshot runs with c's sends held.
func (l *Lifecycle) pushSnapshot(c *Client, snapshot []UserID) {
	if err := c.pushLocked(EventInitialOnlineUsers, snapshot); err != nil {
		l.logger.Warn("online snapshot not delivered", slog.String("connID", c.Id), slog.Any("error", err))
	}
}

// record persists a transition stamped with the time it happened under the
// user's lock, so a late write never looks newer than a later transition.
func (l *Lifecycle) record(ctx context.Context, user UserID, online bool, at time.Time) {
	if l.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := l.recorder.TouchPresence(ctx, user, online, at); err != nil {
		l.logger.Warn("record presence failed", slog.String("userID", user.String()), slog.Bool("online", online), slog.Any("error", err))
	}
}
