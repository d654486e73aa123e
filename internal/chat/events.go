package chat

import "encoding/json"

// Event names on the live connection.
const (
	// client -> server
	EventJoin   = "join"
	EventTyping = "typing"

	// server -> client
	EventInitialOnlineUsers = "initialOnlineUsers"
	EventUserStatusChange   = "userStatusChange"
	EventMessageReceived    = "messageReceived"
	EventUserTyping         = "userTyping"
	EventError              = "error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinPayload struct {
	UserID string `json:"userId"`
}

type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

type StatusChange struct {
	UserID   UserID `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type MessageReceived struct {
	Message        Message `json:"message"`
	ConversationID string  `json:"conversationId"`
}

type UserTyping struct {
	UserID   UserID `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// encodeEvent builds one outbound frame.
func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Envelope{Event: event, Data: raw})
}
