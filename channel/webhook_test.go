package channel_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/herald-sh/herald/channel"
	"github.com/herald-sh/herald/notification"
)

func TestWebhookValidateBlocksUnroutableTargets(t *testing.T) {
	t.Parallel()

	w := channel.NewWebhook()

	bad := []string{
		"ftp://example.com/hook",
		"http://127.0.0.1/hook",
		"http://10.0.0.5/hook",
		"http://192.168.1.1/hook",
		"http://169.254.169.254/latest/meta-data/", // cloud metadata
		"http://0.0.0.0/hook",
		"http://[::1]/hook",
		"not a url at all\x7f",
		"http:///missing-host",
	}
	for _, target := range bad {
		n := notification.New(channel.ChannelWebhook, target, "s", "m")
		err := w.Validate(n)
		var verr *channel.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Validate(%q) = %v, want *ValidationError", target, err)
		}
	}

	good := notification.New(channel.ChannelWebhook, "https://hooks.example.com/abc", "s", "m")
	if err := w.Validate(good); err != nil {
		t.Errorf("public https URL rejected: %v", err)
	}
}

func TestWebhookSendPostsJSON(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// The test server listens on loopback, so lift the guard.
	w := channel.NewWebhook(channel.WithAllowPrivate())

	n := notification.New(channel.ChannelWebhook, srv.URL, "deploy done", "v1.2.3 live")
	n.Metadata = map[string]string{"env": "prod"}

	result, err := w.Send(context.Background(), n)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Detail["status"] != "200" {
		t.Errorf("status detail = %q", result.Detail["status"])
	}
	if got["subject"] != "deploy done" || got["message"] != "v1.2.3 live" {
		t.Errorf("payload = %v", got)
	}
	meta, _ := got["metadata"].(map[string]any)
	if meta["env"] != "prod" {
		t.Errorf("metadata = %v", got["metadata"])
	}
}

func TestWebhookSendNon2xxIsChannelError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	w := channel.NewWebhook(channel.WithAllowPrivate())
	n := notification.New(channel.ChannelWebhook, srv.URL, "s", "m")

	_, err := w.Send(context.Background(), n)
	var cerr *channel.ChannelError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %T (%v), want *ChannelError", err, err)
	}
}

func TestWebhookDialGuardBlocksLoopback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		t.Error("guarded request reached the server")
	}))
	defer srv.Close()

	w := channel.NewWebhook() // guard active
	n := notification.New(channel.ChannelWebhook, srv.URL, "s", "m")

	if _, err := w.Send(context.Background(), n); err == nil {
		t.Fatal("send to loopback succeeded with the guard active")
	}
}
