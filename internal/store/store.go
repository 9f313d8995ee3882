package store

import (
	"context"

	"github.com/google/uuid"
)

// Store is the Event Store interface (component C2): a durable,
// append-only log of Events plus the mutable Task and Comment tables.
// Both the Postgres and sqlite backends implement it identically so the
// Ingestor and Query API are storage-agnostic.
type Store interface {
	InsertTask(ctx context.Context, title string, status TaskStatus, assignee *string, tags []string) (Task, error)
	InsertComment(ctx context.Context, taskID uuid.UUID, author, body string) (Comment, error)
	InsertEvent(ctx context.Context, eventType string, agent *string, taskID *uuid.UUID, payload map[string]any) (Event, error)

	// ApplyStatusTransition reads the task's current status and invokes
	// decide(cur) within the same transaction; decide returns the status to
	// write plus a nil error to accept, or a non-nil error to abort the
	// transition without mutating the row. This is how the Ingestor
	// enforces the transition graph (section 3) with the read-modify-write
	// atomicity section 5 requires: the legality check and the write share
	// one transaction, so concurrent task.status events for the same task
	// serialize and only one can observe a given `cur`.
	ApplyStatusTransition(ctx context.Context, taskID uuid.UUID, decide func(cur TaskStatus) (next TaskStatus, err error)) (previous, next TaskStatus, err error)

	// GetTaskStatus reads a task's current status without mutating it.
	GetTaskStatus(ctx context.Context, taskID uuid.UUID) (TaskStatus, error)

	ListBoard(ctx context.Context) (Board, error)
	ListFeed(ctx context.Context, limit int) ([]Event, error)
	ListFeedLite(ctx context.Context, limit int) ([]EventLite, error)

	// KnownAgents returns the distinct set of agent slugs that have
	// appeared in agent_skill_mappings, used as the task.handoff known-
	// agents set alongside the configured agent->token map.
	KnownAgents(ctx context.Context) (map[string]bool, error)

	Close() error
}
