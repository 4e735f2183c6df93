// Package cancel propagates a cancellation decision made in the API process
// to the worker process executing the job. The two processes never share
// memory; they rendezvous on a TTL'd record in the shared key/value store.
// The API side writes the record (Canceller), the worker side polls for it
// (Watcher) and raises a local, write-once Token that the executing code
// checks at its own suspension points.
package cancel
