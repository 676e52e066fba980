package crawl

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/zardamhussain/outblog-crawl/internal/core/auth"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
)

type Handler struct {
	service *Service
	store   *Store
	log     *logger.Logger
}

func NewHandler(service *Service, store *Store) *Handler {
	return &Handler{service: service, store: store, log: logger.New("CrawlHandler")}
}

// HandleCreateCrawl is POST /v1/crawl.
func (h *Handler) HandleCreateCrawl(c *fiber.Ctx) error {
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid body"})
	}

	ac := auth.FromCtx(c)
	if ac == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "Unauthorized"})
	}

	accepted, err := h.service.Kickoff(c.Context(), req, ac.TeamID, ac.Chunk, c.Protocol(), c.Hostname())
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return c.Status(reqErr.Status).JSON(fiber.Map{"success": false, "error": reqErr.Message})
		}
		h.log.LogErrorf("crawl kickoff failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Internal server error"})
	}
	return c.JSON(accepted)
}

// HandleCancelCrawl is DELETE /v1/crawl/:jobId.
func (h *Handler) HandleCancelCrawl(c *fiber.Ctx) error {
	id := c.Params("jobId")
	ac := auth.FromCtx(c)
	if ac == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "Unauthorized"})
	}

	sc, err := h.store.GetCrawl(c.Context(), id)
	if err != nil {
		h.log.LogErrorf("crawl lookup failed for %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Internal server error"})
	}
	if sc == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "Job not found"})
	}
	if sc.TeamID != ac.TeamID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"success": false, "error": "Forbidden"})
	}

	if err := h.store.Cancel(c.Context(), id); err != nil {
		h.log.LogErrorf("cancel failed for crawl %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Internal server error"})
	}
	return c.JSON(fiber.Map{"success": true, "status": "cancelled"})
}
