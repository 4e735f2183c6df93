// Package limits tracks per-team and per-crawl concurrency bookkeeping. The
// cancellation binder relies on the removal operations to release a cancelled
// job's slots; each removal is independently best-effort.
package limits

import (
	"context"
	"sync"
)

// Registry keeps active and queued job sets in memory.
type Registry struct {
	mu          sync.Mutex
	teamActive  map[string]map[string]struct{}
	teamQueued  map[string]map[string]struct{}
	crawlActive map[string]map[string]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		teamActive:  make(map[string]map[string]struct{}),
		teamQueued:  make(map[string]map[string]struct{}),
		crawlActive: make(map[string]map[string]struct{}),
	}
}

// AddQueuedJob records a queued job against the team.
func (r *Registry) AddQueuedJob(_ context.Context, teamID, jobID string) error {
	r.add(r.teamQueued, teamID, jobID)
	return nil
}

// AddActiveJob records an executing job against the team.
func (r *Registry) AddActiveJob(_ context.Context, teamID, jobID string) error {
	r.add(r.teamActive, teamID, jobID)
	return nil
}

// AddCrawlActiveJob records an executing job against the crawl.
func (r *Registry) AddCrawlActiveJob(_ context.Context, crawlID, jobID string) error {
	r.add(r.crawlActive, crawlID, jobID)
	return nil
}

// RemoveQueuedJob releases a queued slot. Removing an absent job is a no-op.
func (r *Registry) RemoveQueuedJob(_ context.Context, teamID, jobID string) error {
	r.remove(r.teamQueued, teamID, jobID)
	return nil
}

// RemoveActiveJob releases an active slot. Removing an absent job is a no-op.
func (r *Registry) RemoveActiveJob(_ context.Context, teamID, jobID string) error {
	r.remove(r.teamActive, teamID, jobID)
	return nil
}

// RemoveCrawlActiveJob releases a crawl slot. Removing an absent job is a no-op.
func (r *Registry) RemoveCrawlActiveJob(_ context.Context, crawlID, jobID string) error {
	r.remove(r.crawlActive, crawlID, jobID)
	return nil
}

// ActiveCount returns the number of executing jobs for the team.
func (r *Registry) ActiveCount(teamID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.teamActive[teamID])
}

// QueuedCount returns the number of queued jobs for the team.
func (r *Registry) QueuedCount(teamID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.teamQueued[teamID])
}

// CrawlActiveCount returns the number of executing jobs for the crawl.
func (r *Registry) CrawlActiveCount(crawlID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.crawlActive[crawlID])
}

func (r *Registry) add(sets map[string]map[string]struct{}, owner, jobID string) {
	if owner == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := sets[owner]
	if !ok {
		set = make(map[string]struct{})
		sets[owner] = set
	}
	set[jobID] = struct{}{}
}

func (r *Registry) remove(sets map[string]map[string]struct{}, owner, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := sets[owner]
	if !ok {
		return
	}
	delete(set, jobID)
	if len(set) == 0 {
		delete(sets, owner)
	}
}
