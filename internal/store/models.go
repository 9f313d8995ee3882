// Package store defines the Event Store: a durable, append-only log of
// Events plus the mutable Task and Comment tables, with ACID task-status
// transitions.
package store

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is one of the five canonical board columns.
type TaskStatus string

const (
	StatusInbox      TaskStatus = "INBOX"
	StatusAssigned   TaskStatus = "ASSIGNED"
	StatusInProgress TaskStatus = "IN PROGRESS"
	StatusReview     TaskStatus = "REVIEW"
	StatusDone       TaskStatus = "DONE"
)

// BoardColumns is the canonical column order used by list_board and the
// Query API board response.
var BoardColumns = []TaskStatus{StatusInbox, StatusAssigned, StatusInProgress, StatusReview, StatusDone}

// ValidStatus reports whether s is one of the five canonical statuses.
func ValidStatus(s string) (TaskStatus, bool) {
	switch TaskStatus(s) {
	case StatusInbox, StatusAssigned, StatusInProgress, StatusReview, StatusDone:
		return TaskStatus(s), true
	default:
		return "", false
	}
}

// Transitions is the closed transition graph from section 3. Self-transitions
// are handled separately as accepted no-ops, not as graph edges.
var Transitions = map[TaskStatus][]TaskStatus{
	StatusInbox:      {StatusAssigned},
	StatusAssigned:   {StatusInProgress, StatusReview},
	StatusInProgress: {StatusReview, StatusDone},
	StatusReview:     {StatusInProgress, StatusDone},
	StatusDone:       {},
}

// CanTransition reports whether nxt is a legal transition from cur,
// excluding the self-transition no-op case (checked by the caller).
func CanTransition(cur, nxt TaskStatus) bool {
	for _, allowed := range Transitions[cur] {
		if allowed == nxt {
			return true
		}
	}
	return false
}

// Task is the mutable unit of work tracked on the board.
type Task struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Title     string     `json:"title" db:"title"`
	Status    TaskStatus `json:"status" db:"status"`
	Assignee  *string    `json:"assignee" db:"assignee"`
	Tags      []string   `json:"tags" db:"-"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Comment is a user or agent annotation attached to a Task.
type Comment struct {
	ID        uuid.UUID `json:"id" db:"id"`
	TaskID    uuid.UUID `json:"task_id" db:"task_id"`
	Author    string    `json:"author" db:"author"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Event is an immutable, timestamped JSON record describing something that
// happened. Events are never updated or deleted once committed.
type Event struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Type      string         `json:"type" db:"type"`
	Agent     *string        `json:"agent" db:"agent"`
	TaskID    *uuid.UUID     `json:"task_id" db:"task_id"`
	Payload   map[string]any `json:"payload" db:"-"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// EventLite is the hot-field projection used by the feed-lite polling
// endpoint, cheap enough for a tight UI refresh loop.
type EventLite struct {
	ID         uuid.UUID  `json:"id"`
	Type       string     `json:"type"`
	Agent      *string    `json:"agent"`
	TaskID     *uuid.UUID `json:"task_id"`
	CreatedAt  time.Time  `json:"created_at"`
	Method     *string    `json:"method,omitempty"`
	Path       *string    `json:"path,omitempty"`
	StatusCode *int       `json:"status_code,omitempty"`
	ErrorType  *string    `json:"error_type,omitempty"`
	TestID     *string    `json:"test_id,omitempty"`
	Round      *int       `json:"round,omitempty"`
}

// BoardColumn is one of the five board partitions, as served by the Query API.
type BoardColumn struct {
	Title string `json:"title"`
	Count int    `json:"count"`
	Cards []Task `json:"cards"`
}

// Board is the full board response: the five columns in canonical order.
type Board struct {
	Columns []BoardColumn `json:"columns"`
}

// ErrTaskNotFound is returned by ApplyStatusTransition (from the read inside
// its transaction) and by GetTaskStatus when the task_id does not exist.
var ErrTaskNotFound = &notFoundError{"task"}

type notFoundError struct{ resource string }

func (e *notFoundError) Error() string { return e.resource + " not found" }
