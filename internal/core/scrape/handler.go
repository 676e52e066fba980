package scrape

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/zardamhussain/outblog-crawl/internal/core/auth"
	"github.com/zardamhussain/outblog-crawl/internal/core/crawl"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
)

type Handler struct {
	service *Service
	store   *crawl.Store
	log     *logger.Logger
}

func NewHandler(service *Service, store *crawl.Store) *Handler {
	return &Handler{service: service, store: store, log: logger.New("ScrapeHandler")}
}

// HandleScrape is POST /v0/scrape.
func (h *Handler) HandleScrape(c *fiber.Ctx) error {
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(Result{Success: false, Error: "invalid body", ReturnCode: 400})
	}

	ac := auth.FromCtx(c)
	if ac == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "Unauthorized"})
	}
	if err := h.store.MarkTeamUsingV0(c.Context(), ac.TeamID); err != nil {
		h.log.LogDebugf("failed to record v0 usage for team %s: %v", ac.TeamID, err)
	}

	result, err := h.service.Scrape(c.Context(), req, ac.TeamID, ac.Chunk)
	if err != nil {
		id := uuid.New().String()
		h.log.LogErrorf("unexpected scrape failure (exception %s): %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(Result{
			Success:    false,
			Error:      "Internal server error. Exception ID: " + id,
			ReturnCode: 500,
		})
	}
	return c.Status(result.ReturnCode).JSON(result)
}
