package scrape

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zardamhussain/outblog-crawl/internal/core/credit"
	"github.com/zardamhussain/outblog-crawl/internal/core/job"
	"github.com/zardamhussain/outblog-crawl/internal/core/queue"
	"github.com/zardamhussain/outblog-crawl/internal/utils/blocklist"
)

type billCall struct {
	teamID  string
	credits int
}

type fakeGate struct {
	result credit.CheckResult
	err    error
	bills  []billCall
}

func (g *fakeGate) Check(context.Context, string, *credit.Chunk, int) (credit.CheckResult, error) {
	return g.result, g.err
}

func (g *fakeGate) Bill(teamID string, _ *string, credits int, _ bool) {
	g.bills = append(g.bills, billCall{teamID: teamID, credits: credits})
}

type enqueueCall struct {
	desc     *job.Descriptor
	jobID    string
	priority int
}

type fakeQueue struct {
	enqueues []enqueueCall
	waitDoc  *job.Document
	waitErr  error
	removed  []string
}

func (q *fakeQueue) Enqueue(_ context.Context, desc *job.Descriptor, jobID string, priority int, _ int) error {
	q.enqueues = append(q.enqueues, enqueueCall{desc: desc, jobID: jobID, priority: priority})
	return nil
}

func (q *fakeQueue) WaitForJob(context.Context, string, time.Duration) (*job.Document, error) {
	return q.waitDoc, q.waitErr
}

func (q *fakeQueue) Remove(_ context.Context, jobID string) error {
	q.removed = append(q.removed, jobID)
	return nil
}

type fixedPriority struct{}

func (fixedPriority) GetJobPriority(_ context.Context, _ string, base int, _ int) int { return base }

func newTestService(gate *fakeGate, q *fakeQueue) *Service {
	return NewService(gate, q, fixedPriority{}, nil)
}

func admitAll() *fakeGate {
	return &fakeGate{result: credit.CheckResult{Admitted: true, Remaining: credit.UnlimitedCredits}}
}

func strptr(s string) *string { return &s }

func TestScrapeRejectsNonStringURL(t *testing.T) {
	svc := newTestService(admitAll(), &fakeQueue{})
	res, err := svc.Scrape(context.Background(), Request{URL: 42}, "team-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 400, res.ReturnCode)
}

func TestScrapeRejectsBadScheme(t *testing.T) {
	svc := newTestService(admitAll(), &fakeQueue{})
	res, err := svc.Scrape(context.Background(), Request{URL: "ftp://example.com"}, "team-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 400, res.ReturnCode)
}

func TestScrapeBlocklistedURL(t *testing.T) {
	q := &fakeQueue{}
	svc := newTestService(admitAll(), q)
	res, err := svc.Scrape(context.Background(), Request{URL: "https://www.facebook.com/page"}, "team-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 403, res.ReturnCode)
	assert.Equal(t, blocklist.BlocklistedURLMessage, res.Error)
	assert.Empty(t, q.enqueues)
}

func TestScrapeLLMRequiresObjectSchema(t *testing.T) {
	svc := newTestService(admitAll(), &fakeQueue{})
	req := Request{
		URL:              "https://example.com",
		ExtractorOptions: &ExtractorOptions{Mode: "llm-extraction", ExtractionSchema: "not-an-object"},
	}
	res, err := svc.Scrape(context.Background(), req, "team-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 400, res.ReturnCode)
}

func TestScrapeDeniedReturns402(t *testing.T) {
	gate := &fakeGate{result: credit.CheckResult{Admitted: false, Message: "upgrade"}}
	q := &fakeQueue{}
	svc := newTestService(gate, q)
	res, err := svc.Scrape(context.Background(), Request{URL: "https://example.com"}, "team-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 402, res.ReturnCode)
	assert.Equal(t, "upgrade", res.Error)
	assert.Empty(t, q.enqueues)
}

func TestScrapeCreditCheckErrorReturns500(t *testing.T) {
	gate := &fakeGate{err: errors.New("db down")}
	svc := newTestService(gate, &fakeQueue{})
	res, err := svc.Scrape(context.Background(), Request{URL: "https://example.com"}, "team-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 500, res.ReturnCode)
	assert.Contains(t, res.Error, "contact support")
}

func TestScrapeTimeoutReturns408WithoutBilling(t *testing.T) {
	gate := admitAll()
	q := &fakeQueue{waitErr: queue.ErrJobTimeout}
	svc := newTestService(gate, q)

	timeout := 100
	res, err := svc.Scrape(context.Background(), Request{URL: "https://slow.example.com", Timeout: &timeout}, "team-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 408, res.ReturnCode)
	assert.Equal(t, "Request timed out", res.Error)
	assert.Empty(t, gate.bills)
	// The queue entry is left to the worker's terminal handler.
	assert.Empty(t, q.removed)
	require.Len(t, q.enqueues, 1)
}

func TestScrapeLLMRecoverableErrorReturns500(t *testing.T) {
	q := &fakeQueue{waitErr: errors.New("Error generating completions: model overloaded")}
	svc := newTestService(admitAll(), q)
	res, err := svc.Scrape(context.Background(), Request{URL: "https://example.com"}, "team-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 500, res.ReturnCode)
	assert.Contains(t, res.Error, "Error generating completions")
}

func TestScrapeFatalErrorPropagates(t *testing.T) {
	q := &fakeQueue{waitErr: errors.New("redis connection reset")}
	svc := newTestService(admitAll(), q)
	_, err := svc.Scrape(context.Background(), Request{URL: "https://example.com"}, "team-1", nil)
	assert.Error(t, err)
}

func TestScrapeHappyPath(t *testing.T) {
	gate := admitAll()
	doc := &job.Document{
		Markdown: strptr("# hello"),
		HTML:     strptr("<h1>hello</h1>"),
		RawHTML:  strptr("<html>...</html>"),
		Index:    new(int),
		Provider: strptr("engine-a"),
	}
	q := &fakeQueue{waitDoc: doc}
	svc := newTestService(gate, q)

	res, err := svc.Scrape(context.Background(), Request{URL: "https://example.com"}, "team-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, res.ReturnCode)
	assert.True(t, res.Success)

	require.Len(t, q.enqueues, 1)
	enq := q.enqueues[0]
	assert.Equal(t, job.ModeSingleURLs, enq.desc.Mode)
	assert.True(t, enq.desc.IsScrape)
	assert.NotEmpty(t, enq.jobID)
	assert.Equal(t, []string{enq.jobID}, q.removed)

	// Neither html nor rawHtml was requested.
	require.NotNil(t, res.Data)
	assert.Nil(t, res.Data.HTML)
	assert.Nil(t, res.Data.RawHTML)
	assert.Equal(t, "# hello", res.Data.Content)

	require.Len(t, gate.bills, 1)
	assert.Equal(t, billCall{teamID: "team-1", credits: 1}, gate.bills[0])
}

func TestScrapeLLMHappyPathBillsFiveCredits(t *testing.T) {
	gate := admitAll()
	doc := &job.Document{
		Markdown: strptr("# page"),
		RawHTML:  strptr("<html>...</html>"),
		Extract:  []byte(`{"title":"page"}`),
	}
	q := &fakeQueue{waitDoc: doc}
	svc := newTestService(gate, q)

	req := Request{
		URL: "https://example.com",
		ExtractorOptions: &ExtractorOptions{
			Mode:             "llm-extraction-from-raw-html",
			ExtractionSchema: map[string]any{"type": "object"},
		},
		PageOptions: &PageOptions{IncludeRawHTML: false},
	}
	res, err := svc.Scrape(context.Background(), req, "team-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, res.ReturnCode)
	require.NotNil(t, res.Data)
	assert.Nil(t, res.Data.RawHTML)
	assert.JSONEq(t, `{"title":"page"}`, string(res.Data.LLMExtraction))

	// LLM mode forces main-content extraction and the long default timeout.
	require.Len(t, q.enqueues, 1)
	opts := q.enqueues[0].desc.ScrapeOptions
	assert.True(t, opts.OnlyMainContent)
	assert.Equal(t, llmTimeoutMillis, opts.TimeoutMillis)

	require.Len(t, gate.bills, 1)
	assert.Equal(t, 5, gate.bills[0].credits)
}
