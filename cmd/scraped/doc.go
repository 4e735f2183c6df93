// Package main hosts the scrape service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and job endpoints. Submissions are persisted via the
//     JobStore, admitted into concurrency bookkeeping, and enqueued for work. A waiting submission binds its request
//     context to the job so a client disconnect cancels it.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by config.Scraper.QueueDepth and are
//     fanned out to a fixed worker pool sized by config.Scraper.Concurrency. Context cancellation stops workers
//     cleanly on shutdown.
//   - Lifecycle coordination: each running job carries a retry budget tracker (per-category and global caps) and a
//     cancellation watcher polling the shared key/value store for a TTL'd cancellation record. Terminal states are
//     persisted through the finalization retrier; an unrecoverable finalize publishes an operator alert.
//   - Persistence & fanout: job rows live in memory or Postgres (pgx); the cancellation record store runs over an
//     in-memory map or BadgerDB. Completion events and alerts go to Google Cloud Pub/Sub when a project is configured.
//   - Configuration & plumbing: Viper populates config from env/files (SCRAPER_ prefix); zap provides structured
//     logging; Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Cancellation propagates across processes only through the shared record: presence means stop, absence proves
//     nothing. Watchers detect a record within one poll interval; a job that already reached a terminal state is not
//     cancellable post hoc.
//   - Cancelled is a distinct terminal state from failed; downstream billing treats the two differently.
//   - Run locally: go run ./cmd/scraped -config config.yaml (or rely solely on env overrides such as
//     SCRAPER_SERVER_PORT, SCRAPER_SCRAPER_CONCURRENCY, SCRAPER_DB_DSN, SCRAPER_KV_PROVIDER).
package main
