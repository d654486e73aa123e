package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pelusa-v/pelusa-dm/internal/chat"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ServerOptions struct {
	Gatherer prometheus.Gatherer
	Pinger   Pinger
}

// NewApp builds the fiber app with every route mounted.
func NewApp(h *Handlers, opts ServerOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(h.Logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(RequestLogger(h.Logger))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if opts.Pinger != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := opts.Pinger.Ping(ctx); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if opts.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	// WS
	app.Get("/ws", UpgradeOnly, h.RequireUser, websocket.New(h.WebsocketHandler))

	// APIs，/chat 前缀兼容旧客户端
	h.Mount(app.Group("/api", h.RequireUser))
	h.Mount(app.Group("/chat", h.RequireUser))
	return app
}

func (h *Handlers) Mount(r fiber.Router) {
	r.Post("/messages", h.SendMessageHandler)
	r.Get("/messages/conversations", h.ConversationsHandler)
	r.Get("/messages/unread-count", h.UnreadCountHandler)
	r.Get("/messages/:userId", h.MessagesHandler)

	r.Get("/users/online", h.OnlineUsersHandler)
	r.Get("/users/:id/presence", h.PresenceHandler)
}

// ErrorHandler maps chat error kinds onto HTTP statuses.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
		}
		code := StatusFor(err)
		if code >= http.StatusInternalServerError {
			logger.Error("request failed", slog.String("path", c.Path()), slog.Any("error", err))
		}
		return c.Status(code).JSON(fiber.Map{"message": chat.Public(err)})
	}
}

func StatusFor(err error) int {
	switch chat.KindOf(err) {
	case chat.KindUnauthenticated:
		return http.StatusUnauthorized
	case chat.KindValidation:
		return http.StatusBadRequest
	case chat.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// RequestLogger logs one line per request with the final status.
func RequestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		if err := c.Next(); err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		logger.Info("http request",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("duration", time.Since(start)),
			slog.Any("requestID", c.Locals(requestid.ConfigDefault.ContextKey)),
		)
		return nil
	}
}
