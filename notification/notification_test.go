package notification_test

import (
	"errors"
	"testing"

	"github.com/herald-sh/herald/notification"
)

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to notification.Status
		ok       bool
	}{
		{notification.StatusPending, notification.StatusSending, true},
		{notification.StatusPending, notification.StatusCancelled, true},
		{notification.StatusSending, notification.StatusSent, true},
		{notification.StatusSending, notification.StatusFailed, true},
		{notification.StatusFailed, notification.StatusSending, true},
		{notification.StatusFailed, notification.StatusDeadLetter, true},
		{notification.StatusSent, notification.StatusSending, false},
		{notification.StatusPending, notification.StatusSent, false},
		{notification.StatusDeadLetter, notification.StatusSending, false},
		{notification.StatusCancelled, notification.StatusSending, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s → %s = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []notification.Status{
		notification.StatusSent,
		notification.StatusDeadLetter,
		notification.StatusCancelled,
	} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []notification.Status{
		notification.StatusPending,
		notification.StatusSending,
		notification.StatusFailed,
	} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestMarkSentStampsSentAt(t *testing.T) {
	t.Parallel()

	n := notification.New("email", "alice@example.com", "hi", "body")
	if n.SentAt != nil {
		t.Fatal("SentAt should be nil before delivery")
	}

	n.MarkSent()
	if n.Status != notification.StatusSent {
		t.Errorf("Status = %q, want sent", n.Status)
	}
	if n.SentAt == nil {
		t.Error("SentAt not stamped on success")
	}
}

func TestMarkFailedRecordsError(t *testing.T) {
	t.Parallel()

	n := notification.New("webhook", "https://example.com/hook", "", "body")
	n.MarkFailed(errors.New("connection refused"))

	if n.Status != notification.StatusFailed {
		t.Errorf("Status = %q, want failed", n.Status)
	}
	if n.LastError != "connection refused" {
		t.Errorf("LastError = %q", n.LastError)
	}
	if n.SentAt != nil {
		t.Error("SentAt must stay nil on failure")
	}
}

func TestCloneDoesNotAliasMetadata(t *testing.T) {
	t.Parallel()

	n := notification.New("chat", "#ops", "s", "m")
	n.Metadata = map[string]string{"color": "red"}

	cp := n.Clone()
	cp.Metadata["color"] = "green"
	cp.Channel = "file"

	if n.Metadata["color"] != "red" {
		t.Error("Clone aliased the metadata map")
	}
	if n.Channel != "chat" {
		t.Error("Clone mutated the original channel")
	}
}
