package cancel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	memorykv "github.com/jmagar/pulse-sub012/internal/kv/memory"
	"github.com/jmagar/pulse-sub012/internal/scrape"
)

type countingQueue struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (q *countingQueue) Enqueue(context.Context, scrape.QueueItem) error { return nil }

func (q *countingQueue) Dequeue(context.Context) (scrape.QueueItem, error) {
	return scrape.QueueItem{}, errors.New("empty")
}

func (q *countingQueue) Remove(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed = append(q.removed, jobID)
	return q.err
}

func (q *countingQueue) removals() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.removed...)
}

type countingLimiter struct {
	mu          sync.Mutex
	active      []string
	queued      []string
	crawlActive []string
	err         error
}

func (l *countingLimiter) RemoveActiveJob(_ context.Context, teamID, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = append(l.active, teamID+"/"+jobID)
	return l.err
}

func (l *countingLimiter) RemoveQueuedJob(_ context.Context, teamID, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queued = append(l.queued, teamID+"/"+jobID)
	return l.err
}

func (l *countingLimiter) RemoveCrawlActiveJob(_ context.Context, crawlID, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.crawlActive = append(l.crawlActive, crawlID+"/"+jobID)
	return l.err
}

func (l *countingLimiter) counts() (int, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active), len(l.queued), len(l.crawlActive)
}

func newCancellerFixture(t *testing.T) (*Canceller, *Store, *countingQueue, *countingLimiter) {
	t.Helper()
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	store := NewStore(memorykv.NewStore(clock), clock, time.Hour, zap.NewNop())
	queue := &countingQueue{}
	limiter := &countingLimiter{}
	c := &Canceller{Store: store, Queue: queue, Limiter: limiter, Logger: zap.NewNop()}
	return c, store, queue, limiter
}

func TestCancellerRunsFullSequence(t *testing.T) {
	t.Parallel()

	c, store, queue, limiter := newCancellerFixture(t)
	ctx := context.Background()
	job := scrape.Identity{JobID: "job-1", TeamID: "team-a", CrawlID: "crawl-x"}

	c.Cancel(ctx, job, "cancelled via API")

	cancelled, err := store.IsCancelled(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, cancelled)
	require.Equal(t, []string{"job-1"}, queue.removals())
	active, queued, crawl := limiter.counts()
	require.Equal(t, 1, active)
	require.Equal(t, 1, queued)
	require.Equal(t, 1, crawl)
}

func TestCancellerSkipsEmptyOwners(t *testing.T) {
	t.Parallel()

	c, _, queue, limiter := newCancellerFixture(t)

	c.Cancel(context.Background(), scrape.Identity{JobID: "job-2"}, "stop")

	require.Equal(t, []string{"job-2"}, queue.removals())
	active, queued, crawl := limiter.counts()
	require.Zero(t, active)
	require.Zero(t, queued)
	require.Zero(t, crawl)
}

func TestCancellerStepFailuresAreIndependent(t *testing.T) {
	t.Parallel()

	c, store, queue, limiter := newCancellerFixture(t)
	queue.err = errors.New("queue down")
	limiter.err = errors.New("limiter down")
	job := scrape.Identity{JobID: "job-3", TeamID: "team-a", CrawlID: "crawl-x"}

	c.Cancel(context.Background(), job, "stop")

	// Every step still ran despite the failures.
	cancelled, err := store.IsCancelled(context.Background(), "job-3")
	require.NoError(t, err)
	require.True(t, cancelled)
	require.Len(t, queue.removals(), 1)
	active, queued, crawl := limiter.counts()
	require.Equal(t, 1, active)
	require.Equal(t, 1, queued)
	require.Equal(t, 1, crawl)
}

func TestBindFiresOnceOnSignal(t *testing.T) {
	t.Parallel()

	c, store, queue, _ := newCancellerFixture(t)
	tok := NewToken()
	job := scrape.Identity{JobID: "job-4", TeamID: "team-a"}

	c.Bind(tok, job, "client disconnected")
	require.Empty(t, queue.removals())

	tok.Signal("gone")
	tok.Signal("gone again")

	require.Equal(t, []string{"job-4"}, queue.removals())
	reason, err := store.Reason(context.Background(), "job-4")
	require.NoError(t, err)
	require.Equal(t, "client disconnected", reason)
}

func TestBindAlreadySignalledCancelsSynchronously(t *testing.T) {
	t.Parallel()

	c, store, _, _ := newCancellerFixture(t)
	tok := NewToken()
	tok.Signal("gone")

	unbind := c.Bind(tok, scrape.Identity{JobID: "job-5"}, "client disconnected")
	unbind()

	cancelled, err := store.IsCancelled(context.Background(), "job-5")
	require.NoError(t, err)
	require.True(t, cancelled)
}

func TestUnbindPreventsLaterFiring(t *testing.T) {
	t.Parallel()

	c, store, queue, _ := newCancellerFixture(t)
	tok := NewToken()

	unbind := c.Bind(tok, scrape.Identity{JobID: "job-6"}, "client disconnected")
	unbind()
	tok.Signal("gone")

	cancelled, err := store.IsCancelled(context.Background(), "job-6")
	require.NoError(t, err)
	require.False(t, cancelled)
	require.Empty(t, queue.removals())
}
