// Package stream implements the Stream Broker (component C3): an ordered,
// bounded, multi-consumer in-memory log keyed by monotonic IDs, with an
// optional NATS JetStream-backed implementation for networked deployments.
package stream

import (
	"context"
	"time"
)

// ZeroID is the sentinel returned by LatestID for an empty key, and the
// starting point for a reader that wants full history (never used by the
// Fan-out Hub, which always starts at tail per section 4.3).
const ZeroID = "0-0"

// Entry is one Stream Entry: a monotonic, lexicographically sortable ID
// paired with the event JSON it carries.
type Entry struct {
	ID        string
	EventJSON []byte
}

// Broker is the Stream Broker interface. Implementations MUST guarantee
// that if publish A returns before publish B starts, every reader observes
// A before B (section 4.2's ordering guarantee).
type Broker interface {
	// Publish appends eventJSON to key's log and returns its assigned
	// stream_id.
	Publish(ctx context.Context, key string, eventJSON []byte) (string, error)

	// Read blocks up to maxBlock if no entries exist beyond afterID,
	// returning up to maxCount entries in order. Returns an empty slice
	// (not an error) on timeout.
	Read(ctx context.Context, key, afterID string, maxBlock time.Duration, maxCount int) ([]Entry, error)

	// LatestID returns the most recent stream_id for key, or ZeroID if the
	// key has never been published to. The Fan-out Hub calls this once at
	// accept time to establish tail-start semantics.
	LatestID(ctx context.Context, key string) (string, error)

	Close() error
}
