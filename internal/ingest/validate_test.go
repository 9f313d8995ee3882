package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missioncontrol/core/internal/store"
)

func validHandoffPayload() map[string]any {
	return map[string]any{
		"to":              "reviewer-bot",
		"problem":         "flaky test",
		"context":         "CI run 1234 failed intermittently",
		"expected_output": "a root cause and a patch",
		"artifact_refs":   []any{"https://ci.example/run/1234"},
		"review_gate":     true,
	}
}

func TestValidateHandoffAccepts(t *testing.T) {
	taskID := "11111111-1111-1111-1111-111111111111"
	errs := validateHandoff(&taskID, validHandoffPayload(), map[string]bool{"reviewer-bot": true})
	assert.Empty(t, errs)
}

func TestValidateHandoffCollectsAllErrors(t *testing.T) {
	// A payload missing every required field should report one error per
	// field, not just the first failure (section 4.4's collect-all rule).
	errs := validateHandoff(nil, map[string]any{}, nil)
	assert.GreaterOrEqual(t, len(errs), 5)
}

func TestValidateHandoffUnknownAgent(t *testing.T) {
	taskID := "11111111-1111-1111-1111-111111111111"
	payload := validHandoffPayload()
	payload["to"] = "ghost-bot"
	errs := validateHandoff(&taskID, payload, map[string]bool{"reviewer-bot": true})
	require.Len(t, errs, 1)
}

func TestValidateHandoffSkipsKnownAgentCheckWhenEmpty(t *testing.T) {
	// An empty knownAgents set means the `to` field is not checked against
	// a roster at all (only that it's present and non-blank).
	taskID := "11111111-1111-1111-1111-111111111111"
	payload := validHandoffPayload()
	payload["to"] = "anyone-at-all"
	errs := validateHandoff(&taskID, payload, map[string]bool{})
	assert.Empty(t, errs)
}

func TestValidateHandoffArtifactRefsMustBeNonEmptyStringList(t *testing.T) {
	taskID := "11111111-1111-1111-1111-111111111111"

	empty := validHandoffPayload()
	empty["artifact_refs"] = []any{}
	assert.Len(t, validateHandoff(&taskID, empty, nil), 1, "empty artifact_refs")

	mixed := validHandoffPayload()
	mixed["artifact_refs"] = []any{"ok", 42}
	assert.Len(t, validateHandoff(&taskID, mixed, nil), 1, "non-string artifact_refs element")

	notAList := validHandoffPayload()
	notAList["artifact_refs"] = "not-a-list"
	assert.Len(t, validateHandoff(&taskID, notAList, nil), 1, "artifact_refs not a list")
}

func TestValidateHandoffReviewGateMustBeBool(t *testing.T) {
	taskID := "11111111-1111-1111-1111-111111111111"
	payload := validHandoffPayload()
	payload["review_gate"] = "true"
	errs := validateHandoff(&taskID, payload, nil)
	require.Len(t, errs, 1, "non-bool review_gate")
}

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		in     string
		want   store.TaskStatus
		wantOK bool
	}{
		{"inbox", store.StatusInbox, true},
		{"  DONE  ", store.StatusDone, true},
		{"in progress", store.StatusInProgress, true},
		{"nonsense", "", false},
	}
	for _, tc := range cases {
		got, ok := normalizeStatus(tc.in)
		assert.Equal(t, tc.wantOK, ok, "normalizeStatus(%q)", tc.in)
		if tc.wantOK {
			assert.Equal(t, tc.want, got, "normalizeStatus(%q)", tc.in)
		}
	}
}
