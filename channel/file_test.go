package channel_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/herald-sh/herald/channel"
	"github.com/herald-sh/herald/notification"
)

func TestFileValidateRejectsTraversal(t *testing.T) {
	t.Parallel()

	f := channel.NewFile(t.TempDir())

	bad := []string{
		"../etc/passwd",
		"..",
		"a/b.log",
		`a\b.log`,
		"/absolute.log",
		"with space.log",
	}
	for _, recipient := range bad {
		n := notification.New(channel.ChannelFile, recipient, "s", "m")
		var verr *channel.ValidationError
		if err := f.Validate(n); !errors.As(err, &verr) {
			t.Errorf("Validate(%q) = %v, want *ValidationError", recipient, err)
		}
	}

	for _, recipient := range []string{"", "audit.log", "out-2024.01.log"} {
		n := notification.New(channel.ChannelFile, recipient, "s", "m")
		if err := f.Validate(n); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", recipient, err)
		}
	}
}

func TestFileSendAppendsJSONLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f := channel.NewFile(dir)

	n1 := notification.New(channel.ChannelFile, "audit.log", "first", "one")
	n2 := notification.New(channel.ChannelFile, "audit.log", "second", "two")

	for _, n := range []*notification.Notification{n1, n2} {
		if _, err := f.Send(context.Background(), n); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var rec struct {
		ID      string `json:"id"`
		Subject string `json:"subject"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("line 0 is not JSON: %v", err)
	}
	if rec.ID != n1.ID.String() || rec.Subject != "first" || rec.Message != "one" {
		t.Errorf("record = %+v", rec)
	}
}

func TestFileSendDefaultFilename(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f := channel.NewFile(dir)

	n := notification.New(channel.ChannelFile, "", "s", "m")
	result, err := f.Send(context.Background(), n)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if filepath.Base(result.Detail["path"]) != "notifications.log" {
		t.Errorf("path = %q", result.Detail["path"])
	}
	if _, err := os.Stat(filepath.Join(dir, "notifications.log")); err != nil {
		t.Errorf("default log file missing: %v", err)
	}
}
