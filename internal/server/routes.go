package server

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zardamhussain/outblog-crawl/internal/config"
	"github.com/zardamhussain/outblog-crawl/internal/core/auth"
	"github.com/zardamhussain/outblog-crawl/internal/core/crawl"
	"github.com/zardamhussain/outblog-crawl/internal/core/queue"
	"github.com/zardamhussain/outblog-crawl/internal/core/scrape"
	"github.com/zardamhussain/outblog-crawl/internal/core/stream"
	"github.com/zardamhussain/outblog-crawl/internal/health"
	rds "github.com/zardamhussain/outblog-crawl/internal/platform/redis"
)

type Dependencies struct {
	Config   config.Config
	Accounts auth.AccountSource
	Scrape   *scrape.Handler
	Crawl    *crawl.Handler
	Stream   *stream.Handler
	Redis    *rds.Service
	Queue    *queue.Service
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	healthHandler := health.NewHealthHandler(map[string]health.Checker{
		"redis": d.Redis,
		"queue": d.Queue,
	})
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authMW := auth.Middleware(d.Config, d.Accounts)

	v0 := app.Group("/v0", authMW)
	v0.Post("/scrape", d.Scrape.HandleScrape)

	v1 := app.Group("/v1", authMW)
	v1.Post("/crawl", d.Crawl.HandleCreateCrawl)
	v1.Delete("/crawl/:jobId", d.Crawl.HandleCancelCrawl)
	v1.Get("/crawl/:jobId", d.Stream.Upgrade(), d.Stream.HandleCrawlProgress())

	return healthHandler
}
