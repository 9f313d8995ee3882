// Package ingest implements the Ingestor (component C4): the single entry
// point that validates incoming events, applies the task-status state
// machine, writes to the Event Store, publishes to the Stream Broker, and
// emits a validation receipt for every attempt, accepted or not.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/missioncontrol/core/internal/common/apperr"
	"github.com/missioncontrol/core/internal/common/config"
	"github.com/missioncontrol/core/internal/common/logger"
	"github.com/missioncontrol/core/internal/store"
	"github.com/missioncontrol/core/internal/stream"
)

// Ingestor wires the Event Store and Stream Broker behind the single
// ingest() entry point section 4.4 specifies.
type Ingestor struct {
	store     store.Store
	broker    stream.Broker
	streamKey string
	agents    map[string]config.AgentUpstream
	log       *logger.Logger
}

// New builds an Ingestor. configAgents is the configured agent->upstream
// map (section 6's AGENT_TOKEN_MAP / agents.yaml); it is one of the two
// sources of the task.handoff known-agents set, the other being the
// Event Store's agent_skill_mappings column (SPEC_FULL.md supplement 1).
func New(st store.Store, broker stream.Broker, streamKey string, configAgents map[string]config.AgentUpstream, log *logger.Logger) *Ingestor {
	return &Ingestor{store: st, broker: broker, streamKey: streamKey, agents: configAgents, log: log}
}

func (ig *Ingestor) knownAgents(ctx context.Context) map[string]bool {
	known := map[string]bool{}
	for slug := range ig.agents {
		known[slug] = true
	}
	fromStore, err := ig.store.KnownAgents(ctx)
	if err != nil {
		ig.log.WithError(err).Warn("known agents lookup failed; validating against configured agents only")
		return known
	}
	for slug := range fromStore {
		known[slug] = true
	}
	return known
}

// transitionError carries the exact message shape S2 expects:
// "invalid status transition: cur -> nxt; allowed=['...', ...]".
type transitionError struct {
	cur, nxt string
	allowed  []store.TaskStatus
}

func (e *transitionError) Error() string {
	quoted := make([]string, len(e.allowed))
	for i, s := range e.allowed {
		quoted[i] = "'" + string(s) + "'"
	}
	return fmt.Sprintf("invalid status transition: %s -> %s; allowed=[%s]", e.cur, e.nxt, strings.Join(quoted, ", "))
}

func allowedNames(statuses []store.TaskStatus) []string {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return names
}

// Ingest is the single entry point: ingest(event_in) -> Event | ValidationError.
func (ig *Ingestor) Ingest(ctx context.Context, in EventIn) (store.Event, *apperr.AppError) {
	var taskID *uuid.UUID
	var errs []string

	if in.TaskID != nil && *in.TaskID != "" {
		parsed, err := uuid.Parse(*in.TaskID)
		if err != nil {
			errs = append(errs, "task_id must be a valid uuid")
		} else {
			taskID = &parsed
		}
	}

	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	switch in.Type {
	case "task.handoff":
		if taskID == nil && (in.TaskID == nil || *in.TaskID == "") {
			errs = append(errs, "task_id is required")
		}
		errs = append(errs, validateHandoff(in.TaskID, payload, ig.knownAgents(ctx))...)

	case "task.status":
		if taskID == nil {
			if len(errs) == 0 {
				errs = append(errs, "task_id is required")
			}
			break
		}
		rawStatus, _ := stringField(payload, "new_status")
		nxt, ok := normalizeStatus(rawStatus)
		if !ok {
			errs = append(errs, fmt.Sprintf("payload.new_status must be one of: %v", allowedNames(store.BoardColumns)))
			break
		}

		previous, applied, err := ig.store.ApplyStatusTransition(ctx, *taskID, func(cur store.TaskStatus) (store.TaskStatus, error) {
			if nxt == cur {
				return cur, nil // self-transition: accepted no-op
			}
			if !store.CanTransition(cur, nxt) {
				return "", &transitionError{cur: string(cur), nxt: string(nxt), allowed: store.Transitions[cur]}
			}
			return nxt, nil
		})
		if err == store.ErrTaskNotFound {
			errs = append(errs, fmt.Sprintf("task not found: %s", taskID))
			break
		}
		var tErr *transitionError
		if ok := asTransitionError(err, &tErr); ok {
			errs = append(errs, tErr.Error())
			break
		}
		if err != nil {
			return store.Event{}, apperr.Internal("status transition failed", err)
		}

		payload = mergeAugmentedStatusPayload(payload, previous, applied)

	default:
		// no payload schema enforcement for other event types
	}

	if len(errs) > 0 {
		ig.publishValidation(ctx, false, errs, in.Type, taskID)
		return store.Event{}, apperr.ValidationErrors(errs)
	}

	event, err := ig.store.InsertEvent(ctx, in.Type, in.Agent, taskID, payload)
	if err != nil {
		return store.Event{}, apperr.Internal("failed to record event", err)
	}

	if err := ig.publishEvent(ctx, event); err != nil {
		// A crash/publish failure here is acceptable per section 4.4: the
		// durable row exists, only the live notification is lost.
		ig.log.WithError(err).Warn("stream publish failed after durable commit")
	}
	ig.publishValidation(ctx, true, nil, in.Type, taskID)

	return event, nil
}

func asTransitionError(err error, target **transitionError) bool {
	if err == nil {
		return false
	}
	te, ok := err.(*transitionError)
	if ok {
		*target = te
	}
	return ok
}

func mergeAugmentedStatusPayload(payload map[string]any, previous, next store.TaskStatus) map[string]any {
	out := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		out[k] = v
	}
	out["previous_status"] = string(previous)
	out["new_status"] = string(next)
	out["transition_applied"] = true
	return out
}

// AddComment inserts a Comment and separately publishes comment.created,
// matching section 4.4's comment ingress contract. It returns
// store.ErrTaskNotFound, inserting nothing, when taskID names no task.
func (ig *Ingestor) AddComment(ctx context.Context, taskID uuid.UUID, author, body string) (store.Comment, error) {
	if _, err := ig.store.GetTaskStatus(ctx, taskID); err != nil {
		return store.Comment{}, err
	}
	comment, err := ig.store.InsertComment(ctx, taskID, author, body)
	if err != nil {
		return store.Comment{}, err
	}

	event, err := ig.store.InsertEvent(ctx, "comment.created", nil, &taskID, map[string]any{
		"comment_id": comment.ID.String(),
	})
	if err != nil {
		ig.log.WithError(err).Warn("comment.created event insert failed")
		return comment, nil
	}
	if err := ig.publishEvent(ctx, event); err != nil {
		ig.log.WithError(err).Warn("comment.created stream publish failed")
	}
	return comment, nil
}

// wireEvent is the on-the-wire shape from section 6: one field named
// "event" whose value carries id/type/agent/task_id/payload/created_at,
// with ISO-8601 "Z"-suffixed timestamps.
type wireEvent struct {
	Event wireEventBody `json:"event"`
}

type wireEventBody struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Agent     *string        `json:"agent"`
	TaskID    *string        `json:"task_id"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at"`
}

func toWireEvent(e store.Event) wireEvent {
	var taskID *string
	if e.TaskID != nil {
		v := e.TaskID.String()
		taskID = &v
	}
	return wireEvent{Event: wireEventBody{
		ID:        e.ID.String(),
		Type:      e.Type,
		Agent:     e.Agent,
		TaskID:    taskID,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}}
}

func (ig *Ingestor) publishEvent(ctx context.Context, event store.Event) error {
	body, err := json.Marshal(toWireEvent(event))
	if err != nil {
		return fmt.Errorf("marshal wire event: %w", err)
	}
	_, err = ig.broker.Publish(ctx, ig.streamKey, body)
	return err
}

// publishValidation emits the event.validation receipt section 4.4
// requires on every attempt, accepted or not. details follows
// SPEC_FULL.md supplement 6: {event_type, task_id} on success,
// {event_type} on failure (task_id omitted, matching the original's
// behavior of never attaching an unresolved task reference to a rejection).
func (ig *Ingestor) publishValidation(ctx context.Context, accepted bool, errs []string, eventType string, taskID *uuid.UUID) {
	if errs == nil {
		errs = []string{}
	}
	details := map[string]any{"event_type": eventType}
	if accepted && taskID != nil {
		details["task_id"] = taskID.String()
	}
	body, err := json.Marshal(wireEvent{Event: wireEventBody{
		ID:        uuid.New().String(),
		Type:      "event.validation",
		Payload:   map[string]any{"accepted": accepted, "errors": errs, "details": details},
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})
	if err != nil {
		ig.log.WithError(err).Error("failed to marshal event.validation receipt")
		return
	}
	if _, err := ig.broker.Publish(ctx, ig.streamKey, body); err != nil {
		ig.log.WithError(err).Warn("event.validation publish failed")
	}
}
