package chat

import (
	"context"
	"log/slog"
	"time"
)

// UserDirectory answers whether a user exists.
type UserDirectory interface {
	Exists(ctx context.Context, user UserID) (bool, error)
}

// LastSeenReader is implemented by directories that record presence. A zero
// time means the user was never seen.
type LastSeenReader interface {
	LastSeen(ctx context.Context, user UserID) (time.Time, error)
}

// Router persists messages and then pushes a live copy to the receiver's
// connection. The durable write decides success; live delivery never does.
type Router struct {
	store     ConversationStore
	directory UserDirectory
	registry  *Registry
	typing    *Typing
	metrics   Metrics
	logger    *slog.Logger
}

func NewRouter(store ConversationStore, directory UserDirectory, registry *Registry, typing *Typing, metrics Metrics, logger *slog.Logger) *Router {
	return &Router{
		store:     store,
		directory: directory,
		registry:  registry,
		typing:    typing,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "router")),
	}
}

func (r *Router) SendMessage(ctx context.Context, sender, receiver UserID, content string) (Message, error) {
	const op = "send message"
	if sender == receiver {
		return Message{}, Validation(op, "cannot send a message to yourself")
	}
	if _, err := NormalizeContent(content); err != nil {
		return Message{}, err
	}
	exists, err := r.directory.Exists(ctx, receiver)
	if err != nil {
		return Message{}, Persistence(op, err)
	}
	if !exists {
		return Message{}, NotFound(op, "receiver not found")
	}

	conv, err := r.store.FindOrCreateConversation(ctx, sender, receiver)
	if err != nil {
		return Message{}, Persistence(op, err)
	}
	msg, err := r.store.AppendMessage(ctx, conv.ID, sender, receiver, content)
	if err != nil {
		return Message{}, Persistence(op, err)
	}
	r.metrics.MessageSent()

	// 发送即结束输入状态
	r.typing.SignalStopped(sender, receiver)
	r.deliver(msg)
	return msg, nil
}

// deliver pushes msg to the receiver's connection only, if there is one.
func (r *Router) deliver(msg Message) {
	c, ok := r.registry.Lookup(msg.Receiver)
	if !ok {
		return
	}
	err := c.Push(EventMessageReceived, MessageReceived{Message: msg, ConversationID: msg.ConversationID})
	if err != nil {
		r.metrics.DeliveryFailed(EventMessageReceived)
		r.logger.Warn("live delivery failed",
			slog.String("messageID", msg.ID),
			slog.String("to", msg.Receiver.String()),
			slog.Any("error", err))
		return
	}
	r.metrics.MessageDelivered()
}

// History returns the reader's conversation with peer in send order and
// marks the reader's unread messages in it as read.
func (r *Router) History(ctx context.Context, reader, peer UserID) ([]Message, error) {
	const op = "history"
	conv, err := r.store.FindConversation(ctx, reader, peer)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return []Message{}, nil
		}
		return nil, Persistence(op, err)
	}
	msgs, err := r.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, Persistence(op, err)
	}
	n, err := r.store.MarkRead(ctx, conv.ID, reader)
	if err != nil {
		return nil, Persistence(op, err)
	}
	if n > 0 {
		r.logger.Debug("marked read", slog.String("conversationID", conv.ID), slog.String("reader", reader.String()), slog.Int("count", n))
	}
	return msgs, nil
}

// Conversations lists user's conversations, newest activity first, each
// annotated with the other participant's presence, the last message and the
// user's unread count in it.
func (r *Router) Conversations(ctx context.Context, user UserID) ([]ConversationPreview, error) {
	const op = "conversations"
	convs, err := r.store.ListConversationsFor(ctx, user)
	if err != nil {
		return nil, Persistence(op, err)
	}
	unread, err := r.store.UnreadByConversation(ctx, user)
	if err != nil {
		return nil, Persistence(op, err)
	}
	seen, _ := r.directory.(LastSeenReader)

	out := make([]ConversationPreview, 0, len(convs))
	for _, c := range convs {
		p := previewFor(c, user, unread[c.ID])
		_, p.Participant.IsOnline = r.registry.Lookup(p.Participant.UserID)
		if seen != nil {
			p.Participant.LastSeen = r.lastSeen(ctx, seen, p.Participant.UserID)
		}
		out = append(out, p)
	}
	return out, nil
}

// lastSeen is best effort; a directory failure only drops the field.
func (r *Router) lastSeen(ctx context.Context, seen LastSeenReader, user UserID) *time.Time {
	at, err := seen.LastSeen(ctx, user)
	if err != nil {
		if KindOf(err) != KindNotFound {
			r.logger.Warn("last seen lookup failed", slog.String("userID", user.String()), slog.Any("error", err))
		}
		return nil
	}
	if at.IsZero() {
		return nil
	}
	at = at.UTC()
	return &at
}

func (r *Router) UnreadCount(ctx context.Context, user UserID) (int, error) {
	n, err := r.store.UnreadCountFor(ctx, user)
	if err != nil {
		return 0, Persistence("unread count", err)
	}
	return n, nil
}
