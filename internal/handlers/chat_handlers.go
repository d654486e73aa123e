package handlers

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/pelusa-v/pelusa-dm/internal/auth"
	"github.com/pelusa-v/pelusa-dm/internal/chat"
	"github.com/pelusa-v/pelusa-dm/internal/directory"
)

const localUserID = "userID"

var validate = validator.New(validator.WithRequiredStructEnabled())

type Handlers struct {
	Hub       *chat.Hub
	Resolver  auth.Resolver
	Directory directory.Directory
	Logger    *slog.Logger
	// Context bounds every live socket; cancelling it closes them. Nil means
	// sockets live until their transport fails.
	Context context.Context
}

// RequireUser resolves the bearer token (or ?token= on websocket upgrades)
// into the caller's identity.
func (h *Handlers) RequireUser(c *fiber.Ctx) error {
	token := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	if token == "" && websocket.IsWebSocketUpgrade(c) {
		token = c.Query("token")
	}
	id, err := h.Resolver.Resolve(token)
	if err != nil {
		return err
	}
	c.Locals(localUserID, id)
	return c.Next()
}

func currentUser(c *fiber.Ctx) (chat.UserID, error) {
	id, ok := c.Locals(localUserID).(chat.UserID)
	if !ok || id == "" {
		return "", chat.Unauthenticated("request", "not authenticated")
	}
	return id, nil
}

// UpgradeOnly rejects plain HTTP requests on the websocket route.
func UpgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WebsocketHandler GET /ws
func (h *Handlers) WebsocketHandler(conn *websocket.Conn) {
	id, _ := conn.Locals(localUserID).(chat.UserID)
	ctx := h.Context
	if ctx == nil {
		ctx = context.Background()
	}
	h.Hub.Serve(ctx, id, conn)
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	Content    string `json:"content" validate:"required"`
}

// SendMessageHandler POST /messages
func (h *Handlers) SendMessageHandler(c *fiber.Ctx) error {
	sender, err := currentUser(c)
	if err != nil {
		return err
	}
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return chat.Validation("send message", "malformed payload")
	}
	if err := validate.Struct(req); err != nil {
		return chat.Validation("send message", "receiver id and content are required")
	}
	receiver, err := chat.ParseUserID(req.ReceiverID)
	if err != nil {
		return err
	}
	msg, err := h.Hub.Router.SendMessage(c.UserContext(), sender, receiver, req.Content)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": msg})
}

// MessagesHandler GET /messages/:userId
func (h *Handlers) MessagesHandler(c *fiber.Ctx) error {
	reader, err := currentUser(c)
	if err != nil {
		return err
	}
	peer, err := chat.ParseUserID(c.Params("userId"))
	if err != nil {
		return err
	}
	msgs, err := h.Hub.Router.History(c.UserContext(), reader, peer)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// ConversationsHandler GET /messages/conversations
func (h *Handlers) ConversationsHandler(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	convs, err := h.Hub.Router.Conversations(c.UserContext(), user)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"conversations": convs})
}

// UnreadCountHandler GET /messages/unread-count
func (h *Handlers) UnreadCountHandler(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	n, err := h.Hub.Router.UnreadCount(c.UserContext(), user)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"unreadCount": n})
}

// OnlineUsersHandler GET /users/online
func (h *Handlers) OnlineUsersHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"userIds": h.Hub.ListClients()})
}

// PresenceHandler GET /users/:id/presence
func (h *Handlers) PresenceHandler(c *fiber.Ctx) error {
	id, err := chat.ParseUserID(c.Params("id"))
	if err != nil {
		return err
	}
	p, err := h.Directory.Presence(c.UserContext(), id)
	if err != nil {
		return err
	}
	// 注册表是实时在线状态的唯一来源
	_, p.IsOnline = h.Hub.Registry.Lookup(id)
	return c.JSON(fiber.Map{"presence": p})
}
