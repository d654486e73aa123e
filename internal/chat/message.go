package chat

import (
	"strings"
	"time"
	"unicode"
)

// UserID is the canonical identity of a user. It is parsed once at the
// boundary and compared directly everywhere else.
type UserID string

const maxUserIDLen = 128

func ParseUserID(raw string) (UserID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", Validation("parse user id", "user id is required")
	}
	if len(id) > maxUserIDLen {
		return "", Validation("parse user id", "user id is too long")
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", Validation("parse user id", "user id contains invalid characters")
		}
	}
	return UserID(id), nil
}

func (u UserID) String() string { return string(u) }

// PairKey is the order independent key of a conversation between two users.
func PairKey(a, b UserID) string {
	lo, hi := SortedPair(a, b)
	return string(lo) + "|" + string(hi)
}

// SortedPair orders two identities so that the smaller comes first.
func SortedPair(a, b UserID) (UserID, UserID) {
	if b < a {
		return b, a
	}
	return a, b
}

type Conversation struct {
	ID            string     `json:"id"`
	Participants  [2]UserID  `json:"participants"` // sorted
	PairKey       string     `json:"-"`
	LastMessageID string     `json:"lastMessageId,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	LastSender    UserID     `json:"lastSenderId,omitempty"`
	LastContent   string     `json:"lastContent,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Has reports whether u is one of the two participants.
func (c *Conversation) Has(u UserID) bool {
	return c.Participants[0] == u || c.Participants[1] == u
}

// Other returns the participant that is not u.
func (c *Conversation) Other(u UserID) UserID {
	if c.Participants[0] == u {
		return c.Participants[1]
	}
	return c.Participants[0]
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	Sender         UserID     `json:"senderId"`
	Receiver       UserID     `json:"receiverId"`
	Content        string     `json:"content"`
	Seq            int64      `json:"seq"`
	CreatedAt      time.Time  `json:"createdAt"`
	Read           bool       `json:"isRead"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
}

// ConversationPreview is a conversation as seen by one of its participants.
type ConversationPreview struct {
	ID            string          `json:"id"`
	Participant   Participant     `json:"participant"`
	LastMessage   *MessagePreview `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time      `json:"lastMessageAt,omitempty"`
	UnreadCount   int             `json:"unreadCount"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Participant is the other side of a conversation. IsOnline comes from the
// registry, LastSeen from the directory.
type Participant struct {
	UserID   UserID     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type MessagePreview struct {
	ID        string    `json:"id"`
	Sender    UserID    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func previewFor(c Conversation, viewer UserID, unread int) ConversationPreview {
	p := ConversationPreview{
		ID:            c.ID,
		Participant:   Participant{UserID: c.Other(viewer)},
		LastMessageAt: c.LastMessageAt,
		UnreadCount:   unread,
		CreatedAt:     c.CreatedAt,
	}
	if c.LastMessageID != "" && c.LastMessageAt != nil {
		p.LastMessage = &MessagePreview{
			ID:        c.LastMessageID,
			Sender:    c.LastSender,
			Content:   c.LastContent,
			CreatedAt: *c.LastMessageAt,
		}
	}
	return p
}

// NormalizeContent trims surrounding whitespace; an empty result is invalid.
func NormalizeContent(content string) (string, error) {
	c := strings.TrimSpace(content)
	if c == "" {
		return "", Validation("normalize content", "message cannot be empty")
	}
	return c, nil
}
