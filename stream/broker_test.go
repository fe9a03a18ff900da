package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/notification"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBrokerSubscribeAndPublish(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	sub := b.Subscribe("sub-1", TopicJobs)

	evt := &Event{
		Type:      EventJobEnqueued,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("job-123"),
		Data:      json.RawMessage(`{"job_id":"job-123"}`),
	}
	b.publish(evt)

	// Event should arrive on the subscriber channel.
	select {
	case received := <-sub.C():
		if received.Type != EventJobEnqueued {
			t.Errorf("Type = %q, want %q", received.Type, EventJobEnqueued)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerMultipleTopics(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	// Subscribe to firehose — should get everything.
	firehose := b.Subscribe("firehose-sub", TopicFirehose)

	// Subscribe to just jobs.
	jobsSub := b.Subscribe("jobs-sub", TopicJobs)

	evt := &Event{
		Type:      EventJobCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("job-456"),
		Data:      json.RawMessage(`{}`),
	}
	b.publish(evt)

	// Both should receive the event.
	for _, sub := range []*Subscriber{firehose, jobsSub} {
		select {
		case <-sub.C():
			// ok
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s timed out", sub.ID())
		}
	}
}

func TestBrokerChannelTopics(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	sub := b.Subscribe("email-sub", ChannelTopic("email"))

	n := notification.New("email", "a@example.com", "s", "m")
	if err := b.OnNotificationSent(context.Background(), n, 40*time.Millisecond); err != nil {
		t.Fatalf("OnNotificationSent: %v", err)
	}

	select {
	case received := <-sub.C():
		if received.Type != EventNotificationSent {
			t.Errorf("Type = %q, want %q", received.Type, EventNotificationSent)
		}
		var data NotificationEventData
		if err := json.Unmarshal(received.Data, &data); err != nil {
			t.Fatalf("unmarshal data: %v", err)
		}
		if data.Channel != "email" || data.Recipient != "a@example.com" {
			t.Errorf("data = %+v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery event")
	}

	// An event on a different channel must not arrive.
	other := notification.New("webhook", "https://example.com/h", "s", "m")
	_ = b.OnNotificationFailed(context.Background(), other, errors.New("down"))

	select {
	case <-sub.C():
		t.Fatal("should not receive event for a different channel")
	case <-time.After(50 * time.Millisecond):
		// ok — no event
	}
}

func TestBrokerJobLifecycleEvents(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("jobs-sub", TopicJobs)

	ctx := context.Background()
	j := job.New(notification.New("email", "a@example.com", "s", "m"), 3)

	_ = b.OnJobEnqueued(ctx, j)
	_ = b.OnJobStarted(ctx, j)
	_ = b.OnJobRetrying(ctx, j, 1, time.Now().Add(time.Second))
	_ = b.OnJobDLQ(ctx, j, errors.New("exhausted"))
	_ = b.OnJobCancelled(ctx, j)

	want := []EventType{
		EventJobEnqueued, EventJobStarted, EventJobRetrying,
		EventJobDLQ, EventJobCancelled,
	}
	for i, typ := range want {
		select {
		case received := <-sub.C():
			if received.Type != typ {
				t.Errorf("event %d = %q, want %q", i, received.Type, typ)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d (%s)", i, typ)
		}
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	sub := b.Subscribe("sub-rm", TopicFirehose)
	b.RemoveSubscriber("sub-rm")

	b.publish(&Event{
		Type:      EventJobEnqueued,
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(`{}`),
	})

	// Channel is closed; a receive must not yield an event.
	if evt, ok := <-sub.C(); ok {
		t.Fatalf("received %v after removal", evt.Type)
	}
}

func TestBrokerCreditsExhaustion(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger(), WithDefaultCredits(2))
	sub := b.Subscribe("thrifty", TopicFirehose)

	for range 5 {
		b.publish(&Event{
			Type:      EventJobEnqueued,
			Timestamp: time.Now().UTC(),
			Data:      json.RawMessage(`{}`),
		})
	}

	// Only the first two events fit the credit budget.
	received := 0
	for {
		select {
		case <-sub.C():
			received++
		case <-time.After(50 * time.Millisecond):
			if received != 2 {
				t.Fatalf("received %d events, want 2", received)
			}
			return
		}
	}
}

func TestBrokerStats(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	b.Subscribe("s1", TopicJobs)
	b.Subscribe("s2", TopicFirehose)

	b.publish(&Event{
		Type:      EventJobEnqueued,
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(`{}`),
	})

	stats := b.Stats()
	if stats.SubscriberCount != 2 {
		t.Errorf("SubscriberCount = %d, want 2", stats.SubscriberCount)
	}
	if stats.TopicCount != 2 {
		t.Errorf("TopicCount = %d, want 2", stats.TopicCount)
	}
	// The jobs and firehose subscribers both received the event.
	if stats.TotalPublished != 2 {
		t.Errorf("TotalPublished = %d, want 2", stats.TotalPublished)
	}
}

func TestValidateTopic(t *testing.T) {
	t.Parallel()

	valid := []string{TopicJobs, TopicNotifications, TopicFirehose, "job:job_abc", "channel:email"}
	for _, topic := range valid {
		if err := ValidateTopic(topic); err != nil {
			t.Errorf("ValidateTopic(%q) = %v", topic, err)
		}
	}

	invalid := []string{"", "bogus", "workflow:run_1", "job:"}
	for _, topic := range invalid {
		if err := ValidateTopic(topic); err == nil {
			t.Errorf("ValidateTopic(%q) should fail", topic)
		}
	}
}
