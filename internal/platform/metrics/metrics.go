package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScrapeAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "outblog_crawl",
		Name:      "scrape_admitted_total",
		Help:      "Scrape requests admitted by the credit gate.",
	})

	ScrapeDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outblog_crawl",
		Name:      "scrape_denied_total",
		Help:      "Scrape requests denied, by reason.",
	}, []string{"reason"})

	CreditsBilled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "outblog_crawl",
		Name:      "credits_billed_total",
		Help:      "Credits recorded by the billing aggregator.",
	})

	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outblog_crawl",
		Name:      "jobs_enqueued_total",
		Help:      "Jobs submitted to the queue, by mode.",
	}, []string{"mode"})

	StreamSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "outblog_crawl",
		Name:      "stream_sessions_active",
		Help:      "Open crawl progress streaming sessions.",
	})
)
