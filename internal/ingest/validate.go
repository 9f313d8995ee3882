package ingest

import (
	"fmt"
	"strings"

	"github.com/missioncontrol/core/internal/store"
)

// EventIn is the wire shape accepted by POST /v1/events.
type EventIn struct {
	Type    string         `json:"type" binding:"required"`
	Agent   *string        `json:"agent"`
	TaskID  *string        `json:"task_id"`
	Payload map[string]any `json:"payload"`
}

// validationErrors collects every applicable error before rejecting, per
// section 4.4's "MUST collect all applicable errors" rule.
type validationErrors struct {
	errs []string
}

func (v *validationErrors) add(format string, args ...any) {
	v.errs = append(v.errs, fmt.Sprintf(format, args...))
}

func (v *validationErrors) ok() bool { return len(v.errs) == 0 }

// validateHandoff implements the task.handoff payload contract from
// section 4.4. knownAgents is consulted for the `to` field only when
// non-empty, per the same section.
func validateHandoff(taskID *string, payload map[string]any, knownAgents map[string]bool) []string {
	var v validationErrors

	if taskID == nil || strings.TrimSpace(*taskID) == "" {
		v.add("task_id is required")
	}

	to, toOK := stringField(payload, "to")
	if !toOK || strings.TrimSpace(to) == "" {
		v.add("payload.to is required")
	} else if len(knownAgents) > 0 && !knownAgents[to] {
		v.add("payload.to agent not found: %s", to)
	}

	for _, field := range []string{"problem", "context", "expected_output"} {
		s, ok := stringField(payload, field)
		if !ok || strings.TrimSpace(s) == "" {
			v.add("payload.%s is required", field)
		}
	}

	if !validArtifactRefs(payload["artifact_refs"]) {
		v.add("payload.artifact_refs must be a non-empty list")
	}
	if hasNonStringElement(payload["artifact_refs"]) {
		v.add("payload.artifact_refs must contain only strings")
	}

	if _, ok := payload["review_gate"].(bool); !ok {
		v.add("payload.review_gate must be boolean")
	}

	return v.errs
}

func validArtifactRefs(raw any) bool {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return false
	}
	for _, item := range list {
		s, ok := item.(string)
		if ok && strings.TrimSpace(s) == "" {
			return false
		}
	}
	return true
}

// hasNonStringElement reports whether any artifact_refs entry is present
// but not itself a string (e.g. a number or null), a distinct error from
// the empty-list case.
func hasNonStringElement(raw any) bool {
	list, ok := raw.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if _, ok := item.(string); !ok {
			return true
		}
	}
	return false
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// normalizeStatus trims and uppercases a candidate status string, and
// checks it names one of the five canonical statuses.
func normalizeStatus(raw string) (store.TaskStatus, bool) {
	return store.ValidStatus(strings.ToUpper(strings.TrimSpace(raw)))
}
