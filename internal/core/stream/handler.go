package stream

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/zardamhussain/outblog-crawl/internal/core/auth"
	"github.com/zardamhussain/outblog-crawl/internal/core/concurrency"
	"github.com/zardamhussain/outblog-crawl/internal/core/crawl"
	"github.com/zardamhussain/outblog-crawl/internal/core/queue"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
)

type Handler struct {
	store   *crawl.Store
	queue   *queue.Service
	limited *concurrency.Service
	log     *logger.Logger
}

func NewHandler(store *crawl.Store, q *queue.Service, limited *concurrency.Service) *Handler {
	return &Handler{store: store, queue: q, limited: limited, log: logger.New("StreamHandler")}
}

// Upgrade gates the route to WebSocket upgrade requests.
func (h *Handler) Upgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// HandleCrawlProgress is GET /v1/crawl/:jobId after upgrade.
func (h *Handler) HandleCrawlProgress() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ac := auth.FromConn(conn)
		if ac == nil {
			deadline := closeDeadline()
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(3000, "Unauthorized"), deadline)
			_ = conn.Close()
			return
		}
		crawlID := conn.Params("jobId")
		session := NewSession(conn, crawlID, ac.TeamID, h.store, h.queue, h.limited)
		session.Run()
	})
}

func closeDeadline() time.Time { return time.Now().Add(5 * time.Second) }
