package cancel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmagar/pulse-sub012/internal/metrics"
	"github.com/jmagar/pulse-sub012/internal/scrape"
)

const (
	keyPrefix  = "scrape-cancelled:"
	defaultTTL = time.Hour
)

// Record is the payload stored in the shared key/value store. Its presence is
// the single source of truth for "this job must stop"; its absence is
// non-authoritative (the write may not have propagated, or the record may
// have expired after the job already finished).
type Record struct {
	JobID      string    `json:"job_id"`
	Reason     string    `json:"reason"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store reads and writes cancellation records under a fixed key prefix.
type Store struct {
	kv     scrape.KV
	clock  scrape.Clock
	ttl    time.Duration
	logger *zap.Logger
}

// NewStore builds a Store over the shared key/value store. A non-positive ttl
// falls back to one hour, bounding how long an orphaned record can linger.
func NewStore(kv scrape.KV, clock scrape.Clock, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, clock: clock, ttl: ttl, logger: logger}
}

// Mark writes the cancellation record with the configured TTL. Last writer
// wins on the reason, which is acceptable because cancellation is monotonic.
func (s *Store) Mark(ctx context.Context, jobID, reason string) error {
	rec := Record{JobID: jobID, Reason: reason, RecordedAt: s.clock.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cancellation record: %w", err)
	}
	if err := s.kv.Set(ctx, keyPrefix+jobID, string(data), s.ttl); err != nil {
		return fmt.Errorf("write cancellation record: %w", err)
	}
	metrics.ObserveCancellationMarked()
	s.logger.Info("job marked cancelled",
		zap.String("job_id", jobID),
		zap.String("reason", reason),
	)
	return nil
}

// IsCancelled reports whether a cancellation record exists for the job.
func (s *Store) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	ok, err := s.kv.Exists(ctx, keyPrefix+jobID)
	if err != nil {
		return false, fmt.Errorf("check cancellation record: %w", err)
	}
	return ok, nil
}

// Reason returns the stored reason, or "" when no record exists. It is for
// diagnostics only; never branch on it.
func (s *Store) Reason(ctx context.Context, jobID string) (string, error) {
	raw, ok, err := s.kv.Get(ctx, keyPrefix+jobID)
	if err != nil {
		return "", fmt.Errorf("read cancellation record: %w", err)
	}
	if !ok {
		return "", nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return "", fmt.Errorf("decode cancellation record: %w", err)
	}
	return rec.Reason, nil
}
