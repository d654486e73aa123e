package chat

import "context"

// ConversationStore is the durable home of conversations and messages.
// Implementations must make FindOrCreateConversation safe under concurrent
// first contact from both directions of a pair.
type ConversationStore interface {
	FindOrCreateConversation(ctx context.Context, a, b UserID) (Conversation, error)
	// FindConversation returns NotFound when the pair has never exchanged a message.
	FindConversation(ctx context.Context, a, b UserID) (Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, sender, receiver UserID, content string) (Message, error)
	// ListMessages is ascending by creation time, ties broken by insertion order.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	MarkRead(ctx context.Context, conversationID string, receiver UserID) (int, error)
	// ListConversationsFor is ordered by last message time, newest first.
	ListConversationsFor(ctx context.Context, user UserID) ([]Conversation, error)
	UnreadCountFor(ctx context.Context, user UserID) (int, error)
	// UnreadByConversation maps conversation id to the number of messages
	// addressed to user that are still unread. Conversations with none are absent.
	UnreadByConversation(ctx context.Context, user UserID) (map[string]int, error)
}

// ValidateAppend validates an append against the conversation it targets.
func ValidateAppend(conv *Conversation, sender, receiver UserID, content string) (string, error) {
	const op = "append message"
	if sender == receiver {
		return "", Validation(op, "cannot send a message to yourself")
	}
	if !conv.Has(sender) || !conv.Has(receiver) {
		return "", Validation(op, "sender and receiver must be the conversation participants")
	}
	return NormalizeContent(content)
}
