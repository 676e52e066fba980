package stream

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/zardamhussain/outblog-crawl/internal/core/crawl"
	"github.com/zardamhussain/outblog-crawl/internal/core/job"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
	"github.com/zardamhussain/outblog-crawl/internal/platform/metrics"
)

const pollInterval = time.Second

// Frame is a server-to-client push message.
type Frame struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// CrawlStatus is the catch-up snapshot payload.
type CrawlStatus struct {
	Status      string          `json:"status"`
	Total       int             `json:"total"`
	Completed   int             `json:"completed"`
	CreditsUsed int             `json:"creditsUsed"`
	ExpiresAt   string          `json:"expiresAt"`
	Data        []*job.Document `json:"data"`
}

// Session is one client's view of one crawl: a catch-up snapshot followed
// by live document deltas until the crawl terminates or the client leaves.
type Session struct {
	conn    wsConn
	crawlID string
	teamID  string
	store   CrawlStore
	queue   QueueGateway
	limited ThrottledSet
	log     *logger.Logger

	doneJobIDs []string
	doneSet    map[string]struct{}
	finished   bool
}

// wsConn is the socket surface the session drives; *websocket.Conn
// satisfies it.
type wsConn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (messageType int, p []byte, err error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// CrawlStore is the slice of the crawl store the streamer reads.
type CrawlStore interface {
	GetCrawl(ctx context.Context, id string) (*crawl.StoredCrawl, error)
	GetDoneOrdered(ctx context.Context, crawlID string) ([]string, error)
	GetCrawlJobs(ctx context.Context, crawlID string) ([]string, error)
	GetExpiry(ctx context.Context, crawlID string) (time.Time, error)
}

// QueueGateway is the slice of the queue the streamer needs.
type QueueGateway interface {
	State(ctx context.Context, jobID string) (job.State, error)
	Get(ctx context.Context, jobID string) (*job.Job, error)
	GetMany(ctx context.Context, jobIDs []string) ([]*job.Job, error)
}

// ThrottledSet exposes the team's concurrency-limited job ids.
type ThrottledSet interface {
	Members(ctx context.Context, teamID string) ([]string, error)
}

func NewSession(conn *websocket.Conn, crawlID, teamID string, store CrawlStore, q QueueGateway, limited ThrottledSet) *Session {
	return newSession(conn, crawlID, teamID, store, q, limited)
}

func newSession(conn wsConn, crawlID, teamID string, store CrawlStore, q QueueGateway, limited ThrottledSet) *Session {
	return &Session{
		conn:    conn,
		crawlID: crawlID,
		teamID:  teamID,
		store:   store,
		queue:   q,
		limited: limited,
		log:     logger.New("Streamer"),
		doneSet: make(map[string]struct{}),
	}
}

// Run drives the session to completion. It blocks until the crawl
// terminates, the client disconnects, or an unexpected error closes the
// socket with an exception id.
func (s *Session) Run() {
	metrics.StreamSessions.Inc()
	defer metrics.StreamSessions.Dec()

	defer func() {
		if r := recover(); r != nil {
			id := uuid.New().String()
			s.log.LogErrorf("streamer session panic (exception %s): %v", id, r)
			s.close(websocket.CloseInternalServerErr, "Internal server error. Exception ID: "+id)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc, err := s.store.GetCrawl(ctx, s.crawlID)
	if err != nil {
		s.fail(err)
		return
	}
	if sc == nil {
		s.sendError("Job not found")
		s.close(websocket.ClosePolicyViolation, "Job not found")
		return
	}
	if sc.TeamID != s.teamID {
		s.sendError("Forbidden")
		s.close(3003, "Forbidden")
		return
	}

	// The read pump only exists to observe the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.sendCatchup(ctx, sc); err != nil {
		s.fail(err)
		return
	}
	if s.finished {
		return
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.poll(ctx); err != nil {
				s.fail(err)
				return
			}
			if s.finished {
				return
			}
		}
	}
}

// sendCatchup loads the current crawl picture and pushes the single
// snapshot frame. It is always the first frame of a session.
func (s *Session) sendCatchup(ctx context.Context, sc *crawl.StoredCrawl) error {
	doneIDs, err := s.store.GetDoneOrdered(ctx, s.crawlID)
	if err != nil {
		return err
	}
	jobIDs, err := s.store.GetCrawlJobs(ctx, s.crawlID)
	if err != nil {
		return err
	}
	throttledIDs, err := s.limited.Members(ctx, s.teamID)
	if err != nil {
		return err
	}
	throttled := make(map[string]struct{}, len(throttledIDs))
	for _, id := range throttledIDs {
		throttled[id] = struct{}{}
	}

	included := make(map[string]job.State, len(jobIDs))
	for _, id := range jobIDs {
		if _, ok := throttled[id]; ok {
			included[id] = job.StatePrioritized
			continue
		}
		st, err := s.queue.State(ctx, id)
		if err != nil {
			return err
		}
		if st == job.StateFailed || st == job.StateUnknown {
			continue
		}
		included[id] = st
	}

	status := catchupStatus(included, sc.Cancelled)

	var docs []*job.Document
	jobs, err := s.queue.GetMany(ctx, doneIDs)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.ReturnValue != nil {
			docs = append(docs, j.ReturnValue)
		}
	}

	expiresAt, _ := s.store.GetExpiry(ctx, s.crawlID)

	s.doneJobIDs = append(s.doneJobIDs, doneIDs...)
	for _, id := range doneIDs {
		s.doneSet[id] = struct{}{}
	}

	if err := s.send(Frame{Type: "catchup", Data: CrawlStatus{
		Status:      status,
		Total:       len(jobIDs),
		Completed:   len(doneIDs),
		CreditsUsed: len(jobIDs),
		ExpiresAt:   expiresAt.UTC().Format(time.RFC3339),
		Data:        docs,
	}}); err != nil {
		return err
	}

	if status != "scraping" {
		s.finish()
	}
	return nil
}

// catchupStatus derives the session status from the classified jobs:
// cancelled wins, then completed when every included job completed, else
// the crawl is still scraping.
func catchupStatus(included map[string]job.State, cancelled bool) string {
	if cancelled {
		return "cancelled"
	}
	if len(included) == 0 {
		return "scraping"
	}
	for _, st := range included {
		if st != job.StateCompleted {
			return "scraping"
		}
	}
	return "completed"
}

// poll is one 1 Hz iteration: pick up newly terminal jobs, push their
// documents, and detect crawl completion.
func (s *Session) poll(ctx context.Context) error {
	jobIDs, err := s.store.GetCrawlJobs(ctx, s.crawlID)
	if err != nil {
		return err
	}
	if len(jobIDs) == len(s.doneJobIDs) {
		s.finish()
		return nil
	}

	var newlyDone []string
	for _, id := range jobIDs {
		if _, seen := s.doneSet[id]; seen {
			continue
		}
		st, err := s.queue.State(ctx, id)
		if err != nil {
			return err
		}
		if st.Terminal() {
			newlyDone = append(newlyDone, id)
		}
	}

	for _, id := range newlyDone {
		j, err := s.queue.Get(ctx, id)
		if err != nil || j == nil || j.ReturnValue == nil {
			// Failed fetches and resultless jobs are dropped silently.
			continue
		}
		if err := s.send(Frame{Type: "document", Data: j.ReturnValue}); err != nil {
			return err
		}
	}

	s.doneJobIDs = append(s.doneJobIDs, newlyDone...)
	for _, id := range newlyDone {
		s.doneSet[id] = struct{}{}
	}
	return nil
}

// finish sends the terminal done frame exactly once and closes normally.
func (s *Session) finish() {
	if s.finished {
		return
	}
	s.finished = true
	_ = s.conn.WriteJSON(Frame{Type: "done"})
	s.close(websocket.CloseNormalClosure, "done")
}

func (s *Session) fail(err error) {
	id := uuid.New().String()
	s.log.LogErrorf("streamer session failed (exception %s): %v", id, err)
	s.sendError("Internal server error. Exception ID: " + id)
	s.close(websocket.CloseInternalServerErr, "Internal server error")
}

func (s *Session) send(f Frame) error { return s.conn.WriteJSON(f) }

func (s *Session) sendError(msg string) {
	_ = s.conn.WriteJSON(Frame{Type: "error", Error: msg})
}

func (s *Session) close(code int, reason string) {
	deadline := time.Now().Add(5 * time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.conn.Close()
}
