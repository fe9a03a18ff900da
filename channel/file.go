package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/herald-sh/herald/notification"
)

// ChannelFile is the name the File channel registers under.
const ChannelFile = "file"

// defaultLogFile receives notifications whose recipient is empty.
const defaultLogFile = "notifications.log"

// fileNameRe is the full allowed shape of a recipient filename. No
// separators, no dot-dot, so the recipient can never escape the log
// directory.
var fileNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// fileRecord is one JSON line in the delivery log.
type fileRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	ID        string            `json:"id"`
	Subject   string            `json:"subject"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// File appends notifications as JSON lines to files under a fixed
// directory. Mostly used for local development and as a delivery sink
// in tests.
type File struct {
	mu  sync.Mutex
	dir string
}

// NewFile creates the file channel writing under dir.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

// Name implements Channel.
func (f *File) Name() string { return ChannelFile }

// Validate restricts the recipient to a bare filename inside the log
// directory.
func (f *File) Validate(n *notification.Notification) error {
	if n.Recipient == "" {
		return nil
	}
	if !fileNameRe.MatchString(n.Recipient) || n.Recipient == "." || n.Recipient == ".." {
		return &ValidationError{Channel: ChannelFile, Field: "recipient", Reason: "must be a plain filename"}
	}
	return nil
}

// Send appends one JSON line. Writes are serialized so concurrent
// workers never interleave partial lines.
func (f *File) Send(ctx context.Context, n *notification.Notification) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ChannelError{Channel: ChannelFile, Err: err}
	}

	name := n.Recipient
	if name == "" {
		name = defaultLogFile
	}
	path := filepath.Join(f.dir, name)

	line, err := json.Marshal(fileRecord{
		Timestamp: time.Now().UTC(),
		ID:        n.ID.String(),
		Subject:   n.Subject,
		Message:   n.Message,
		Metadata:  n.Metadata,
	})
	if err != nil {
		return nil, &ChannelError{Channel: ChannelFile, Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, &ChannelError{Channel: ChannelFile, Err: err}
	}
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &ChannelError{Channel: ChannelFile, Err: err}
	}
	defer fh.Close()

	if _, err := fh.Write(append(line, '\n')); err != nil {
		return nil, &ChannelError{Channel: ChannelFile, Err: err}
	}

	return &Result{
		Channel: ChannelFile,
		Detail: map[string]string{
			"path":  path,
			"bytes": fmt.Sprint(len(line) + 1),
		},
	}, nil
}
