package credit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zardamhussain/outblog-crawl/internal/notify"
)

type fakeCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{m: make(map[string][]byte)} }

func (c *fakeCache) CacheGet(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.m[key]
	if !ok {
		return errors.New("cache miss")
	}
	return json.Unmarshal(b, dest)
}

func (c *fakeCache) CacheSet(_ context.Context, key string, val interface{}, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	c.m[key] = b
	return nil
}

type fakeSource struct {
	cfg   AutoRechargeConfig
	calls int
}

func (s *fakeSource) AutoRechargeConfig(context.Context, string) (AutoRechargeConfig, error) {
	s.calls++
	return s.cfg, nil
}

type fakeRecharger struct {
	chunk *Chunk
	err   error
	calls int
}

func (r *fakeRecharger) Recharge(context.Context, string) (*Chunk, error) {
	r.calls++
	return r.chunk, r.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	types []notify.Type
}

func (n *fakeNotifier) Notify(_ context.Context, _ string, typ notify.Type) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.types = append(n.types, typ)
}

type captureLedger struct {
	mu     sync.Mutex
	events []BillingEvent
}

func (l *captureLedger) RecordUsage(_ context.Context, events []BillingEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, events...)
	return nil
}

func newTestGate(opts GateOptions, source RechargeSource, recharger Recharger, notifier notify.Notifier, ledger Ledger) (*Gate, *Aggregator) {
	agg := NewAggregator(ledger)
	return NewGate(opts, newFakeCache(), source, recharger, notifier, agg), agg
}

func TestCheckPreviewTeamsAlwaysAdmitted(t *testing.T) {
	notifier := &fakeNotifier{}
	gate, agg := newTestGate(GateOptions{UseDBAuthentication: true}, nil, nil, notifier, &captureLedger{})
	defer agg.Stop()

	for _, team := range []string{"preview", "preview_abc", "env_0"} {
		res, err := gate.Check(context.Background(), team, nil, 100)
		require.NoError(t, err, team)
		assert.True(t, res.Admitted, team)
		assert.Equal(t, UnlimitedCredits, res.Remaining, team)
	}
	assert.Empty(t, notifier.types)
}

func TestCheckMissingChunkUnderDBAuth(t *testing.T) {
	gate, agg := newTestGate(GateOptions{UseDBAuthentication: true}, nil, nil, &fakeNotifier{}, &captureLedger{})
	defer agg.Stop()

	_, err := gate.Check(context.Background(), "team-1", nil, 1)
	assert.ErrorIs(t, err, ErrMissingChunk)
}

func TestCheckDeniesOverBudget(t *testing.T) {
	notifier := &fakeNotifier{}
	gate, agg := newTestGate(GateOptions{UseDBAuthentication: true}, nil, nil, notifier, &captureLedger{})
	defer agg.Stop()

	chunk := &Chunk{TeamID: "team-1", AdjustedCreditsUsed: 100, TotalCreditsSum: 100, RemainingCredits: 0}
	res, err := gate.Check(context.Background(), "team-1", chunk, 1)
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.Contains(t, res.Message, "upgrade your plan")
	// used == total, not strictly over: no limit-reached notification yet
	assert.Empty(t, notifier.types)

	over := &Chunk{TeamID: "team-1", AdjustedCreditsUsed: 101, TotalCreditsSum: 100}
	res, err = gate.Check(context.Background(), "team-1", over, 1)
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.Equal(t, []notify.Type{notify.TypeLimitReached}, notifier.types)
}

func TestCheckApproachingLimitNotifies(t *testing.T) {
	notifier := &fakeNotifier{}
	gate, agg := newTestGate(GateOptions{UseDBAuthentication: true}, nil, nil, notifier, &captureLedger{})
	defer agg.Stop()

	chunk := &Chunk{TeamID: "team-1", AdjustedCreditsUsed: 85, TotalCreditsSum: 100, RemainingCredits: 15}
	res, err := gate.Check(context.Background(), "team-1", chunk, 5)
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, 10, res.Remaining)
	assert.Equal(t, []notify.Type{notify.TypeApproachingLimit}, notifier.types)
}

func TestCheckBelowThresholdAdmitsQuietly(t *testing.T) {
	notifier := &fakeNotifier{}
	gate, agg := newTestGate(GateOptions{UseDBAuthentication: true}, nil, nil, notifier, &captureLedger{})
	defer agg.Stop()

	chunk := &Chunk{TeamID: "team-1", AdjustedCreditsUsed: 10, TotalCreditsSum: 100, RemainingCredits: 90}
	res, err := gate.Check(context.Background(), "team-1", chunk, 5)
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, 85, res.Remaining)
	assert.Empty(t, notifier.types)
}

func TestCheckAutoRecharge(t *testing.T) {
	source := &fakeSource{cfg: AutoRechargeConfig{Enabled: true, TriggerThreshold: 1000}}
	refreshed := &Chunk{TeamID: "team-1", AdjustedCreditsUsed: 1000, TotalCreditsSum: 6000, RemainingCredits: 5000}
	recharger := &fakeRecharger{chunk: refreshed}
	gate, agg := newTestGate(GateOptions{UseDBAuthentication: true}, source, recharger, &fakeNotifier{}, &captureLedger{})
	defer agg.Stop()

	low := &Chunk{TeamID: "team-1", AdjustedCreditsUsed: 4500, TotalCreditsSum: 5000, RemainingCredits: 500}
	res, err := gate.Check(context.Background(), "team-1", low, 10)
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, 1, recharger.calls)
	assert.Same(t, refreshed, res.Chunk)

	// Second check hits the cached recharge config.
	_, err = gate.Check(context.Background(), "team-1", low, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)
	assert.Equal(t, 2, recharger.calls)
}

func TestCheckRechargeSkippedForExtract(t *testing.T) {
	source := &fakeSource{cfg: AutoRechargeConfig{Enabled: true, TriggerThreshold: 1000}}
	recharger := &fakeRecharger{chunk: &Chunk{TotalCreditsSum: 6000}}
	gate, agg := newTestGate(GateOptions{UseDBAuthentication: true}, source, recharger, &fakeNotifier{}, &captureLedger{})
	defer agg.Stop()

	low := &Chunk{TeamID: "team-1", AdjustedCreditsUsed: 100, TotalCreditsSum: 5000, RemainingCredits: 500, IsExtract: true}
	_, err := gate.Check(context.Background(), "team-1", low, 10)
	require.NoError(t, err)
	assert.Zero(t, recharger.calls)
}

func TestCheckBypassSentinel(t *testing.T) {
	gate, agg := newTestGate(GateOptions{AuthDisabled: true}, nil, nil, &fakeNotifier{}, &captureLedger{})
	defer agg.Stop()

	for i := 0; i < 10; i++ {
		res, err := gate.Check(context.Background(), "whatever", nil, 1)
		require.NoError(t, err)
		assert.True(t, res.Admitted)
		assert.Equal(t, UnlimitedCredits, res.Remaining)
	}
}

func TestBillRoutesThroughAggregator(t *testing.T) {
	ledger := &captureLedger{}
	gate, agg := newTestGate(GateOptions{UseDBAuthentication: true}, nil, nil, &fakeNotifier{}, ledger)

	gate.Bill("team-1", nil, 5, false)
	gate.Bill("team-1", nil, 1, false)
	gate.Bill("preview", nil, 3, false) // preview teams are never billed
	agg.Stop()

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	require.Len(t, ledger.events, 1)
	assert.Equal(t, "team-1", ledger.events[0].TeamID)
	assert.Equal(t, 6, ledger.events[0].Credits)
}
