package crawl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zardamhussain/outblog-crawl/internal/core/credit"
	"github.com/zardamhussain/outblog-crawl/internal/core/job"
	"github.com/zardamhussain/outblog-crawl/internal/platform/robots"
)

type fakeSaver struct {
	saved map[string]*StoredCrawl
}

func newFakeSaver() *fakeSaver { return &fakeSaver{saved: make(map[string]*StoredCrawl)} }

func (s *fakeSaver) SaveCrawl(_ context.Context, id string, sc *StoredCrawl) error {
	s.saved[id] = sc
	return nil
}

type fakeEnqueuer struct {
	descs      []*job.Descriptor
	priorities []int
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, desc *job.Descriptor, _ string, priority int, _ int) error {
	e.descs = append(e.descs, desc)
	e.priorities = append(e.priorities, priority)
	return nil
}

type fakeRobots struct {
	raw string
	err error
}

func (r *fakeRobots) Fetch(context.Context, string, bool) (*robots.Result, error) {
	if r.err != nil {
		return nil, r.err
	}
	return robots.Parse(r.raw)
}

func newTestService(saver *fakeSaver, enq *fakeEnqueuer, rb RobotsFetcher, opts ServiceOptions) *Service {
	if rb == nil {
		rb = &fakeRobots{err: errors.New("no robots in test")}
	}
	return NewService(saver, enq, rb, opts)
}

func TestKickoffRejectsZDRWithoutFlag(t *testing.T) {
	saver := newFakeSaver()
	svc := newTestService(saver, &fakeEnqueuer{}, nil, ServiceOptions{UseDBAuthentication: true, Env: "local"})

	chunk := &credit.Chunk{TeamID: "team-1", RemainingCredits: 100}
	req := Request{URL: "https://example.com", ZeroDataRetention: true}
	_, err := svc.Kickoff(context.Background(), req, "team-1", chunk, "http", "api.test")

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 400, reqErr.Status)
	assert.Empty(t, saver.saved)
}

func TestKickoffForceZDROverridesRequest(t *testing.T) {
	saver := newFakeSaver()
	svc := newTestService(saver, &fakeEnqueuer{}, nil, ServiceOptions{UseDBAuthentication: true, Env: "local"})

	chunk := &credit.Chunk{TeamID: "team-1", RemainingCredits: 100, Flags: credit.FlagForceZDR | credit.FlagAllowZDR}
	req := Request{URL: "https://example.com"}
	accepted, err := svc.Kickoff(context.Background(), req, "team-1", chunk, "http", "api.test")
	require.NoError(t, err)

	sc := saver.saved[accepted.ID]
	require.NotNil(t, sc)
	assert.True(t, sc.ZeroDataRetention)
}

func TestKickoffRejectsInvalidRegex(t *testing.T) {
	saver := newFakeSaver()
	svc := newTestService(saver, &fakeEnqueuer{}, nil, ServiceOptions{Env: "local"})

	req := Request{URL: "https://example.com", IncludePaths: []string{"/blog/.*", "("}}
	_, err := svc.Kickoff(context.Background(), req, "team-1", nil, "http", "api.test")

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 400, reqErr.Status)
	assert.Contains(t, reqErr.Message, "error parsing regexp")
	assert.Empty(t, saver.saved)
}

func TestKickoffClampsLimitToRemainingCredits(t *testing.T) {
	saver := newFakeSaver()
	enq := &fakeEnqueuer{}
	svc := newTestService(saver, enq, nil, ServiceOptions{UseDBAuthentication: true, Env: "local"})

	chunk := &credit.Chunk{TeamID: "team-1", RemainingCredits: 50, Flags: credit.FlagAllowZDR}
	req := Request{URL: "https://example.com", Limit: 1000}
	accepted, err := svc.Kickoff(context.Background(), req, "team-1", chunk, "http", "api.test")
	require.NoError(t, err)

	sc := saver.saved[accepted.ID]
	require.NotNil(t, sc)
	assert.Equal(t, 50, sc.CrawlerOptions.Limit)
	assert.True(t, sc.InternalOptions.DisableSmartWaitCache)

	require.Len(t, enq.descs, 1)
	assert.Equal(t, job.ModeKickoff, enq.descs[0].Mode)
	assert.Equal(t, accepted.ID, enq.descs[0].CrawlID)
	assert.Equal(t, []int{10}, enq.priorities)
}

func TestKickoffUnlimitedWithoutDBAuth(t *testing.T) {
	saver := newFakeSaver()
	svc := newTestService(saver, &fakeEnqueuer{}, nil, ServiceOptions{Env: "local"})

	req := Request{URL: "https://example.com", Limit: 1000}
	accepted, err := svc.Kickoff(context.Background(), req, "preview", nil, "http", "api.test")
	require.NoError(t, err)
	assert.Equal(t, 1000, saver.saved[accepted.ID].CrawlerOptions.Limit)
}

func TestKickoffStatusURL(t *testing.T) {
	saver := newFakeSaver()
	svc := newTestService(saver, &fakeEnqueuer{}, nil, ServiceOptions{Env: "local"})

	accepted, err := svc.Kickoff(context.Background(), Request{URL: "https://example.com"}, "preview", nil, "http", "api.test")
	require.NoError(t, err)
	assert.Equal(t, "http://api.test/v1/crawl/"+accepted.ID, accepted.URL)

	svcProd := newTestService(newFakeSaver(), &fakeEnqueuer{}, nil, ServiceOptions{Env: "production"})
	acceptedProd, err := svcProd.Kickoff(context.Background(), Request{URL: "https://example.com"}, "preview", nil, "http", "api.test")
	require.NoError(t, err)
	assert.Equal(t, "https://api.test/v1/crawl/"+acceptedProd.ID, acceptedProd.URL)
}

func TestKickoffAdoptsRobotsDelay(t *testing.T) {
	cases := []struct {
		name      string
		robots    *fakeRobots
		userDelay *int
		expect    *int
	}{
		{
			name:   "robots delay adopted when user has none",
			robots: &fakeRobots{raw: "User-agent: *\nCrawl-delay: 5\nDisallow:"},
			expect: intptr(5),
		},
		{
			name:      "user delay wins over robots",
			robots:    &fakeRobots{raw: "User-agent: *\nCrawl-delay: 5\nDisallow:"},
			userDelay: intptr(2),
			expect:    intptr(2),
		},
		{
			name:   "no robots delay leaves nothing",
			robots: &fakeRobots{raw: "User-agent: *\nDisallow:"},
			expect: nil,
		},
		{
			name:   "fetch failure is non-fatal",
			robots: &fakeRobots{err: errors.New("connection refused")},
			expect: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			saver := newFakeSaver()
			svc := newTestService(saver, &fakeEnqueuer{}, tc.robots, ServiceOptions{Env: "local"})
			req := Request{URL: "https://example.com", Delay: tc.userDelay}
			accepted, err := svc.Kickoff(context.Background(), req, "preview", nil, "http", "api.test")
			require.NoError(t, err)
			assert.Equal(t, tc.expect, saver.saved[accepted.ID].CrawlerOptions.Delay)
		})
	}
}

func TestResolveMaxConcurrency(t *testing.T) {
	chunk := &credit.Chunk{Concurrency: 8}
	assert.Equal(t, intptr(5), resolveMaxConcurrency(intptr(5), chunk))
	assert.Equal(t, intptr(8), resolveMaxConcurrency(intptr(20), chunk))
	assert.Equal(t, intptr(8), resolveMaxConcurrency(nil, chunk))
	assert.Equal(t, intptr(3), resolveMaxConcurrency(intptr(3), nil))
	assert.Nil(t, resolveMaxConcurrency(nil, nil))
}

func intptr(n int) *int { return &n }
