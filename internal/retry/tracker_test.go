package retry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmagar/pulse-sub012/internal/scrape"
)

func TestTrackerCategoryCapExceeded(t *testing.T) {
	t.Parallel()

	cfg := Config{
		GlobalCap: 10,
		CapPerCategory: map[scrape.RetryCategory]int{
			scrape.CategoryAddFeature: 2,
		},
	}
	tracker := NewTracker("job-1", cfg, zap.NewNop())
	cause := errors.New("boom")

	require.NoError(t, tracker.Record(scrape.CategoryAddFeature, cause))
	require.NoError(t, tracker.Record(scrape.CategoryAddFeature, cause))

	err := tracker.Record(scrape.CategoryAddFeature, cause)
	var limitErr *LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, "job-1", limitErr.JobID)
	require.Equal(t, scrape.CategoryAddFeature, limitErr.Category)
	require.Equal(t, 3, limitErr.Stats.Total)
	require.Equal(t, 3, limitErr.Stats.ByCategory[scrape.CategoryAddFeature])
	require.ErrorIs(t, err, cause)
}

func TestTrackerGlobalCapExceeded(t *testing.T) {
	t.Parallel()

	tracker := NewTracker("job-2", Config{GlobalCap: 3}, zap.NewNop())
	cause := errors.New("boom")

	require.NoError(t, tracker.Record(scrape.CategoryAddFeature, cause))
	require.NoError(t, tracker.Record(scrape.CategoryRemoveFeature, cause))
	require.NoError(t, tracker.Record(scrape.CategoryPDFPrefetch, cause))

	err := tracker.Record(scrape.CategoryDocPrefetch, cause)
	var limitErr *LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, scrape.CategoryDocPrefetch, limitErr.Category)
	require.Equal(t, 4, limitErr.Stats.Total)
}

func TestTrackerZeroCapRejectsFirstRetry(t *testing.T) {
	t.Parallel()

	cfg := Config{
		GlobalCap: 10,
		CapPerCategory: map[scrape.RetryCategory]int{
			scrape.CategoryPDFPrefetch: 0,
		},
	}
	tracker := NewTracker("job-3", cfg, zap.NewNop())

	err := tracker.Record(scrape.CategoryPDFPrefetch, errors.New("boom"))
	var limitErr *LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, 1, limitErr.Stats.Total)
}

func TestTrackerExhaustionIsSticky(t *testing.T) {
	t.Parallel()

	cfg := Config{
		GlobalCap: 10,
		CapPerCategory: map[scrape.RetryCategory]int{
			scrape.CategoryAddFeature: 1,
		},
	}
	tracker := NewTracker("job-4", cfg, zap.NewNop())
	cause := errors.New("boom")

	require.NoError(t, tracker.Record(scrape.CategoryAddFeature, cause))
	require.Error(t, tracker.Record(scrape.CategoryAddFeature, cause))

	// A different category is rejected too once the budget is gone.
	err := tracker.Record(scrape.CategoryRemoveFeature, cause)
	var limitErr *LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, scrape.CategoryRemoveFeature, limitErr.Category)
}

func TestTrackerUncappedCategoryBoundedByGlobal(t *testing.T) {
	t.Parallel()

	cfg := Config{
		GlobalCap: 2,
		CapPerCategory: map[scrape.RetryCategory]int{
			scrape.CategoryAddFeature: 10,
		},
	}
	tracker := NewTracker("job-5", cfg, zap.NewNop())
	other := scrape.RetryCategory("transient_http")
	cause := errors.New("boom")

	require.NoError(t, tracker.Record(other, cause))
	require.NoError(t, tracker.Record(other, cause))
	require.Error(t, tracker.Record(other, cause))
}

func TestTrackerSnapshotTotalsMatch(t *testing.T) {
	t.Parallel()

	tracker := NewTracker("job-6", Config{GlobalCap: 100}, zap.NewNop())
	cause := errors.New("boom")

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.Record(scrape.CategoryAddFeature, cause))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, tracker.Record(scrape.CategoryDocPrefetch, cause))
	}

	stats := tracker.Snapshot()
	sum := 0
	for _, n := range stats.ByCategory {
		sum += n
	}
	require.Equal(t, stats.Total, sum)
	require.Equal(t, 5, stats.Total)
	require.Equal(t, 3, stats.ByCategory[scrape.CategoryAddFeature])
	require.Equal(t, 2, stats.ByCategory[scrape.CategoryDocPrefetch])
}
