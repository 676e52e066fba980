package credit

import (
	"context"
	"sync"
	"time"

	"github.com/zardamhussain/outblog-crawl/internal/logger"
	"github.com/zardamhussain/outblog-crawl/internal/platform/metrics"
)

// Ledger is the billing backend the aggregator flushes into. Its
// persistence lives outside this service.
type Ledger interface {
	RecordUsage(ctx context.Context, events []BillingEvent) error
}

const (
	aggregatorQueueSize = 1024
	flushInterval       = 5 * time.Second
	flushTimeout        = 10 * time.Second
)

// Aggregator is the process-wide asynchronous billing sink. The request
// path enqueues and returns; a single goroutine batches events and flushes
// them into the ledger. Failures are logged and never reach a caller.
type Aggregator struct {
	ledger Ledger
	ch     chan BillingEvent
	stop   chan struct{}
	wg     sync.WaitGroup
	log    *logger.Logger
}

func NewAggregator(ledger Ledger) *Aggregator {
	a := &Aggregator{
		ledger: ledger,
		ch:     make(chan BillingEvent, aggregatorQueueSize),
		stop:   make(chan struct{}),
		log:    logger.New("BillingAggregator"),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Enqueue hands a billing event to the aggregator without blocking. When
// the queue is saturated the event is dropped and logged.
func (a *Aggregator) Enqueue(ev BillingEvent) {
	select {
	case a.ch <- ev:
	default:
		a.log.LogErrorf("billing queue full, dropping %d credits for team %s", ev.Credits, ev.TeamID)
	}
}

// Stop flushes pending events and shuts the aggregator down.
func (a *Aggregator) Stop() {
	close(a.stop)
	a.wg.Wait()
}

func (a *Aggregator) run() {
	defer a.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var batch []BillingEvent
	for {
		select {
		case ev := <-a.ch:
			batch = append(batch, ev)
		case <-ticker.C:
			batch = a.flush(batch)
		case <-a.stop:
			// Drain whatever is still queued before the final flush.
			for {
				select {
				case ev := <-a.ch:
					batch = append(batch, ev)
					continue
				default:
				}
				break
			}
			a.flush(batch)
			return
		}
	}
}

// flush aggregates the batch per team and records it. The batch is
// returned (emptied or intact) so transient ledger failures retry on the
// next tick instead of losing events.
func (a *Aggregator) flush(batch []BillingEvent) []BillingEvent {
	if len(batch) == 0 {
		return batch
	}
	merged := mergeByTeam(batch)

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := a.ledger.RecordUsage(ctx, merged); err != nil {
		a.log.LogErrorf("billing flush of %d events failed: %v", len(batch), err)
		if len(batch) < aggregatorQueueSize {
			return batch
		}
		a.log.LogErrorf("billing backlog exceeded %d events, dropping batch", aggregatorQueueSize)
		return nil
	}
	total := 0
	for _, ev := range merged {
		total += ev.Credits
	}
	metrics.CreditsBilled.Add(float64(total))
	a.log.LogDebugf("billed %d credits across %d teams", total, len(merged))
	return nil
}

// mergeByTeam collapses events into one entry per (team, extract) pair,
// keeping the earliest timestamp and the last seen subscription id.
func mergeByTeam(events []BillingEvent) []BillingEvent {
	type bucket struct{ idx int }
	seen := make(map[string]bucket)
	merged := make([]BillingEvent, 0, len(events))
	for _, ev := range events {
		k := ev.TeamID
		if ev.IsExtract {
			k += "|extract"
		}
		if b, ok := seen[k]; ok {
			merged[b.idx].Credits += ev.Credits
			if ev.SubID != nil {
				merged[b.idx].SubID = ev.SubID
			}
			continue
		}
		seen[k] = bucket{idx: len(merged)}
		merged = append(merged, ev)
	}
	return merged
}
