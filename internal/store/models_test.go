package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidStatus(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"INBOX", true},
		{"ASSIGNED", true},
		{"IN PROGRESS", true},
		{"REVIEW", true},
		{"DONE", true},
		{"BOGUS", false},
		{"", false},
	}
	for _, tc := range cases {
		_, ok := ValidStatus(tc.in)
		assert.Equal(t, tc.want, ok, "ValidStatus(%q)", tc.in)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		cur, nxt TaskStatus
		want     bool
	}{
		{StatusInbox, StatusAssigned, true},
		{StatusInbox, StatusInProgress, false},
		{StatusAssigned, StatusInProgress, true},
		{StatusAssigned, StatusDone, false},
		{StatusInProgress, StatusReview, true},
		{StatusInProgress, StatusDone, true},
		{StatusReview, StatusInProgress, true},
		{StatusReview, StatusDone, true},
		{StatusReview, StatusInbox, false},
		{StatusDone, StatusInbox, false},
		{StatusDone, StatusReview, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.cur, tc.nxt), "CanTransition(%s, %s)", tc.cur, tc.nxt)
	}
}

func TestCanTransitionExcludesSelf(t *testing.T) {
	// Self-transitions are not graph edges; the Ingestor handles them as a
	// separate accepted no-op case before consulting CanTransition.
	for _, s := range BoardColumns {
		assert.False(t, CanTransition(s, s), "self-transitions are handled separately from %s", s)
	}
}

func TestBoardColumnsOrder(t *testing.T) {
	want := []TaskStatus{StatusInbox, StatusAssigned, StatusInProgress, StatusReview, StatusDone}
	assert.Equal(t, want, BoardColumns)
}

func TestErrTaskNotFound(t *testing.T) {
	assert.Equal(t, "task not found", ErrTaskNotFound.Error())
}
