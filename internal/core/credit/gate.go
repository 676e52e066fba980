package credit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zardamhussain/outblog-crawl/internal/logger"
	"github.com/zardamhussain/outblog-crawl/internal/notify"
	"github.com/zardamhussain/outblog-crawl/internal/platform/metrics"
)

// ErrMissingChunk signals an internal inconsistency: DB authentication is
// on but the request reached the gate without a credit snapshot.
var ErrMissingChunk = errors.New("credit chunk missing under DB authentication")

const (
	rechargeCacheTTL   = 300 // seconds
	approachingRatio   = 0.8
	bypassWarningLimit = 5

	deniedMessage = "Insufficient credits to perform this request. " +
		"For more credits, you can upgrade your plan at https://outblog.dev/pricing " +
		"or try changing the request limit to a lower value."
)

// ConfigCache is the five-minute cache in front of auto-recharge config
// reads. The shared Redis service satisfies it.
type ConfigCache interface {
	CacheGet(ctx context.Context, key string, dest interface{}) error
	CacheSet(ctx context.Context, key string, val interface{}, ttlSeconds int) error
}

// RechargeSource loads a team's auto-recharge policy from the billing
// backend.
type RechargeSource interface {
	AutoRechargeConfig(ctx context.Context, teamID string) (AutoRechargeConfig, error)
}

// Recharger performs the actual top-up and returns the refreshed chunk.
type Recharger interface {
	Recharge(ctx context.Context, teamID string) (*Chunk, error)
}

// Gate admits, denies, and bills credit usage for teams.
type Gate struct {
	dbAuth          bool
	authDisabled    bool
	rechargeMinimum int
	cache           ConfigCache
	source          RechargeSource
	recharger       Recharger
	notifier        notify.Notifier
	agg             *Aggregator
	log             *logger.Logger
	bypassWarnings  int32
}

type GateOptions struct {
	UseDBAuthentication   bool
	AuthDisabled          bool
	AutoRechargeThreshold int
}

func NewGate(opts GateOptions, cache ConfigCache, source RechargeSource, recharger Recharger, notifier notify.Notifier, agg *Aggregator) *Gate {
	return &Gate{
		dbAuth:          opts.UseDBAuthentication,
		authDisabled:    opts.AuthDisabled,
		rechargeMinimum: opts.AutoRechargeThreshold,
		cache:           cache,
		source:          source,
		recharger:       recharger,
		notifier:        notifier,
		agg:             agg,
		log:             logger.New("CreditGate"),
	}
}

// isPreviewTeam reports teams exempt from credit accounting.
func isPreviewTeam(teamID string) bool {
	return teamID == "preview" ||
		strings.HasPrefix(teamID, "preview_") ||
		strings.HasPrefix(teamID, "env_")
}

// Check decides whether a request for the given number of credits is
// admitted. The chunk is the snapshot loaded at authentication time.
func (g *Gate) Check(ctx context.Context, teamID string, chunk *Chunk, credits int) (CheckResult, error) {
	if g.authDisabled {
		g.warnBypass()
		return CheckResult{Admitted: true, Remaining: UnlimitedCredits, Chunk: chunk}, nil
	}
	if isPreviewTeam(teamID) {
		return CheckResult{Admitted: true, Remaining: UnlimitedCredits, Chunk: chunk}, nil
	}
	if chunk == nil {
		if g.dbAuth {
			return CheckResult{}, ErrMissingChunk
		}
		return CheckResult{Admitted: true, Remaining: UnlimitedCredits}, nil
	}

	// Try a recharge before evaluating the budget so a topped-up team is
	// judged against its new balance.
	if refreshed := g.maybeRecharge(ctx, teamID, chunk); refreshed != nil {
		chunk = refreshed
	}

	used := chunk.AdjustedCreditsUsed
	total := chunk.TotalCreditsSum
	willUse := used + credits
	var usageRatio float64
	if total > 0 {
		usageRatio = float64(used) / float64(total)
	}

	if willUse > total {
		if used > total {
			g.notifier.Notify(ctx, teamID, notify.TypeLimitReached)
		}
		metrics.ScrapeDenied.WithLabelValues("insufficient_credits").Inc()
		return CheckResult{
			Admitted:  false,
			Remaining: chunk.RemainingCredits,
			Chunk:     chunk,
			Message:   deniedMessage,
		}, nil
	}

	if usageRatio >= approachingRatio && usageRatio < 1.0 {
		g.notifier.Notify(ctx, teamID, notify.TypeApproachingLimit)
	}

	metrics.ScrapeAdmitted.Inc()
	return CheckResult{Admitted: true, Remaining: total - willUse, Chunk: chunk}, nil
}

// maybeRecharge attempts an auto top-up when the team's policy allows it
// and the balance dropped below the trigger. Returns the refreshed chunk
// on success, nil otherwise.
func (g *Gate) maybeRecharge(ctx context.Context, teamID string, chunk *Chunk) *Chunk {
	if g.recharger == nil || g.source == nil || chunk.IsExtract {
		return nil
	}

	cacheKey := "team_auto_recharge_" + teamID
	var cfg AutoRechargeConfig
	if err := g.cache.CacheGet(ctx, cacheKey, &cfg); err != nil {
		loaded, err := g.source.AutoRechargeConfig(ctx, teamID)
		if err != nil {
			g.log.LogDebugf("auto-recharge config load failed for team %s: %v", teamID, err)
			return nil
		}
		cfg = loaded
		if err := g.cache.CacheSet(ctx, cacheKey, cfg, rechargeCacheTTL); err != nil {
			g.log.LogDebugf("auto-recharge config cache write failed for team %s: %v", teamID, err)
		}
	}

	threshold := cfg.TriggerThreshold
	if threshold <= 0 {
		threshold = g.rechargeMinimum
	}
	if !cfg.Enabled || chunk.RemainingCredits >= threshold {
		return nil
	}

	refreshed, err := g.recharger.Recharge(ctx, teamID)
	if err != nil {
		g.log.LogWarnf("auto-recharge failed for team %s: %v", teamID, err)
		return nil
	}
	g.log.LogInfof("auto-recharged team %s, remaining now %d", teamID, refreshed.RemainingCredits)
	return refreshed
}

// Bill records credit usage asynchronously. It never blocks the request
// path and never surfaces failures to the caller.
func (g *Gate) Bill(teamID string, subID *string, credits int, isExtract bool) {
	if g.authDisabled {
		g.warnBypass()
		return
	}
	if isPreviewTeam(teamID) {
		return
	}
	g.agg.Enqueue(BillingEvent{
		TeamID:    teamID,
		SubID:     subID,
		Credits:   credits,
		IsExtract: isExtract,
		At:        time.Now().UTC(),
	})
}

// warnBypass logs the unauthenticated-mode warning, at most five times for
// the process lifetime.
func (g *Gate) warnBypass() {
	n := atomic.AddInt32(&g.bypassWarnings, 1)
	if n <= bypassWarningLimit {
		g.log.LogWarnf("credit accounting disabled, request admitted without checks (%d/%d warnings)", n, bypassWarningLimit)
	}
}

// RedisLedger is a development ledger that accumulates usage into Redis
// counters bucketed by month. Production deployments point the aggregator
// at the billing backend instead. The increment function keeps the ledger
// free of a direct driver dependency.
type RedisLedger struct {
	incr func(ctx context.Context, key string, n int64) error
}

func NewRedisLedger(incr func(ctx context.Context, key string, n int64) error) *RedisLedger {
	return &RedisLedger{incr: incr}
}

func (l *RedisLedger) RecordUsage(ctx context.Context, events []BillingEvent) error {
	for _, ev := range events {
		key := fmt.Sprintf("credit_usage:%s:%s", ev.TeamID, ev.At.Format("2006-01"))
		if ev.IsExtract {
			key += ":extract"
		}
		if err := l.incr(ctx, key, int64(ev.Credits)); err != nil {
			return err
		}
	}
	return nil
}
