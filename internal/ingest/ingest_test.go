package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missioncontrol/core/internal/common/apperr"
	"github.com/missioncontrol/core/internal/common/config"
	"github.com/missioncontrol/core/internal/common/logger"
	"github.com/missioncontrol/core/internal/store"
	"github.com/missioncontrol/core/internal/stream"
)

// fakeStore is a minimal in-memory store.Store good enough to exercise the
// Ingestor's validation and transition logic without a real database.
type fakeStore struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]store.TaskStatus
	events   []store.Event
	comments []store.Comment
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: map[uuid.UUID]store.TaskStatus{}}
}

func (s *fakeStore) InsertTask(ctx context.Context, title string, status store.TaskStatus, assignee *string, tags []string) (store.Task, error) {
	id := uuid.New()
	s.mu.Lock()
	s.statuses[id] = status
	s.mu.Unlock()
	return store.Task{ID: id, Title: title, Status: status, Assignee: assignee, Tags: tags}, nil
}

func (s *fakeStore) InsertComment(ctx context.Context, taskID uuid.UUID, author, body string) (store.Comment, error) {
	c := store.Comment{ID: uuid.New(), TaskID: taskID, Author: author, Body: body}
	s.mu.Lock()
	s.comments = append(s.comments, c)
	s.mu.Unlock()
	return c, nil
}

func (s *fakeStore) InsertEvent(ctx context.Context, eventType string, agent *string, taskID *uuid.UUID, payload map[string]any) (store.Event, error) {
	e := store.Event{ID: uuid.New(), Type: eventType, Agent: agent, TaskID: taskID, Payload: payload}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return e, nil
}

func (s *fakeStore) ApplyStatusTransition(ctx context.Context, taskID uuid.UUID, decide func(cur store.TaskStatus) (store.TaskStatus, error)) (store.TaskStatus, store.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.statuses[taskID]
	if !ok {
		return "", "", store.ErrTaskNotFound
	}
	next, err := decide(cur)
	if err != nil {
		return cur, "", err
	}
	s.statuses[taskID] = next
	return cur, next, nil
}

func (s *fakeStore) GetTaskStatus(ctx context.Context, taskID uuid.UUID) (store.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.statuses[taskID]
	if !ok {
		return "", store.ErrTaskNotFound
	}
	return cur, nil
}

func (s *fakeStore) ListBoard(ctx context.Context) (store.Board, error)             { return store.Board{}, nil }
func (s *fakeStore) ListFeed(ctx context.Context, limit int) ([]store.Event, error) { return nil, nil }
func (s *fakeStore) ListFeedLite(ctx context.Context, limit int) ([]store.EventLite, error) {
	return nil, nil
}
func (s *fakeStore) KnownAgents(ctx context.Context) (map[string]bool, error) { return nil, nil }
func (s *fakeStore) Close() error                                            { return nil }

func (s *fakeStore) addTask(status store.TaskStatus) uuid.UUID {
	id := uuid.New()
	s.mu.Lock()
	s.statuses[id] = status
	s.mu.Unlock()
	return id
}

func newTestIngestor(t *testing.T, st store.Store) *Ingestor {
	t.Helper()
	broker := stream.NewMemoryBroker(100)
	t.Cleanup(func() { broker.Close() })
	agents := map[string]config.AgentUpstream{"reviewer-bot": {}}
	return New(st, broker, "mc:events", agents, logger.Default())
}

func TestIngestTaskStatusLegalTransition(t *testing.T) {
	st := newFakeStore()
	ig := newTestIngestor(t, st)
	taskID := st.addTask(store.StatusInbox)

	taskIDStr := taskID.String()
	event, appErr := ig.Ingest(context.Background(), EventIn{
		Type:   "task.status",
		TaskID: &taskIDStr,
		Payload: map[string]any{
			"new_status": "ASSIGNED",
		},
	})
	require.Nil(t, appErr)
	assert.Equal(t, true, event.Payload["transition_applied"])
	assert.Equal(t, "INBOX", event.Payload["previous_status"])
	assert.Equal(t, "ASSIGNED", event.Payload["new_status"])

	got, _ := st.GetTaskStatus(context.Background(), taskID)
	assert.Equal(t, store.StatusAssigned, got)
}

func TestIngestTaskStatusIllegalTransitionRejected(t *testing.T) {
	st := newFakeStore()
	ig := newTestIngestor(t, st)
	taskID := st.addTask(store.StatusInbox)

	taskIDStr := taskID.String()
	_, appErr := ig.Ingest(context.Background(), EventIn{
		Type:   "task.status",
		TaskID: &taskIDStr,
		Payload: map[string]any{
			"new_status": "DONE",
		},
	})
	require.NotNil(t, appErr, "expected a validation error for an illegal transition")
	assert.Equal(t, apperr.ErrCodeValidation, appErr.Code)

	// The row must not have moved.
	got, _ := st.GetTaskStatus(context.Background(), taskID)
	assert.Equal(t, store.StatusInbox, got)
}

func TestIngestTaskStatusSelfTransitionIsAcceptedNoOp(t *testing.T) {
	st := newFakeStore()
	ig := newTestIngestor(t, st)
	taskID := st.addTask(store.StatusAssigned)

	taskIDStr := taskID.String()
	event, appErr := ig.Ingest(context.Background(), EventIn{
		Type:   "task.status",
		TaskID: &taskIDStr,
		Payload: map[string]any{
			"new_status": "ASSIGNED",
		},
	})
	require.Nil(t, appErr)
	assert.Equal(t, true, event.Payload["transition_applied"], "self-transition should still set transition_applied=true")

	got, _ := st.GetTaskStatus(context.Background(), taskID)
	assert.Equal(t, store.StatusAssigned, got, "status must be unchanged")
}

func TestIngestTaskHandoffValidationFailureNoEventRecorded(t *testing.T) {
	st := newFakeStore()
	ig := newTestIngestor(t, st)
	taskID := st.addTask(store.StatusInbox)

	taskIDStr := taskID.String()
	_, appErr := ig.Ingest(context.Background(), EventIn{
		Type:    "task.handoff",
		TaskID:  &taskIDStr,
		Payload: map[string]any{},
	})
	require.NotNil(t, appErr, "expected a validation error")
	assert.GreaterOrEqual(t, len(appErr.Errors), 5, "expected the collected-errors list to be populated")
	assert.Empty(t, st.events, "a rejected event must not be durably recorded")
}

func TestIngestTaskHandoffAcceptedKnownAgentFromConfig(t *testing.T) {
	st := newFakeStore()
	ig := newTestIngestor(t, st)
	taskID := st.addTask(store.StatusInbox)
	taskIDStr := taskID.String()

	_, appErr := ig.Ingest(context.Background(), EventIn{
		Type:   "task.handoff",
		TaskID: &taskIDStr,
		Payload: map[string]any{
			"to":              "reviewer-bot",
			"problem":         "x",
			"context":         "y",
			"expected_output": "z",
			"artifact_refs":   []any{"ref1"},
			"review_gate":     false,
		},
	})
	require.Nil(t, appErr)
	require.Len(t, st.events, 1)
}

func TestIngestDefaultEventTypePassesThroughUnvalidated(t *testing.T) {
	st := newFakeStore()
	ig := newTestIngestor(t, st)

	event, appErr := ig.Ingest(context.Background(), EventIn{
		Type:    "chat.message.sent",
		Payload: map[string]any{"anything": "goes"},
	})
	require.Nil(t, appErr)
	assert.Equal(t, "chat.message.sent", event.Type)
}

func TestAddCommentAlsoRecordsCommentCreatedEvent(t *testing.T) {
	st := newFakeStore()
	ig := newTestIngestor(t, st)
	taskID := st.addTask(store.StatusInbox)

	comment, err := ig.AddComment(context.Background(), taskID, "alice", "looks good")
	require.NoError(t, err)
	assert.Equal(t, "alice", comment.Author)

	require.Len(t, st.events, 1)
	assert.Equal(t, "comment.created", st.events[0].Type)
	assert.Equal(t, comment.ID.String(), st.events[0].Payload["comment_id"])
}
