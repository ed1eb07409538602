package pubsub

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func recvNotice(t *testing.T, sub Subscription) (Event, TransformNotice) {
	t.Helper()
	select {
	case event := <-sub.Events():
		var notice TransformNotice
		if err := json.Unmarshal(event.Data, &notice); err != nil {
			t.Fatalf("decoding notice: %v", err)
		}
		return event, notice
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}, TransformNotice{}
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	p := NewSSEPublisher()
	defer p.Close()

	sub, err := p.Subscribe(context.Background(), TopicTransformStats)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	notice := TransformNotice{Nodes: 12, Folded: 3, Pruned: 4}
	if err := p.Publish(TopicTransformStats, "transformed", notice); err != nil {
		t.Fatal(err)
	}

	event, got := recvNotice(t, sub)
	if event.Type != "transformed" || event.Topic != TopicTransformStats {
		t.Errorf("event = %+v, want transformed on %s", event, TopicTransformStats)
	}
	if got != notice {
		t.Errorf("notice = %+v, want %+v", got, notice)
	}
}

func TestReplayLatestToLateSubscriber(t *testing.T) {
	p := NewSSEPublisher()
	defer p.Close()
	p.ConfigureTopic(TopicTransformStats, TopicConfig{BufferSize: 10, ReplayAll: false})

	for i := 1; i <= 3; i++ {
		if err := p.Publish(TopicTransformStats, "transformed", TransformNotice{Nodes: i}); err != nil {
			t.Fatal(err)
		}
	}

	sub, err := p.Subscribe(context.Background(), TopicTransformStats)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	event, notice := recvNotice(t, sub)
	if notice.Nodes != 3 {
		t.Errorf("replayed Nodes = %d, want only the latest event", notice.Nodes)
	}
	if event.Version != 3 {
		t.Errorf("Version = %d, want 3", event.Version)
	}

	select {
	case extra := <-sub.Events():
		t.Errorf("unexpected second replayed event: %+v", extra)
	default:
	}
}

func TestReplayAll(t *testing.T) {
	p := NewSSEPublisher()
	defer p.Close()
	p.ConfigureTopic("audit", TopicConfig{BufferSize: 2, ReplayAll: true})

	for i := 1; i <= 3; i++ {
		if err := p.Publish("audit", "transformed", TransformNotice{Nodes: i}); err != nil {
			t.Fatal(err)
		}
	}

	sub, err := p.Subscribe(context.Background(), "audit")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	// Buffer holds two events, the oldest was trimmed.
	_, first := recvNotice(t, sub)
	_, second := recvNotice(t, sub)
	if first.Nodes != 2 || second.Nodes != 3 {
		t.Errorf("replayed %d then %d, want 2 then 3", first.Nodes, second.Nodes)
	}
}

func TestNoReplayWithoutBuffer(t *testing.T) {
	p := NewSSEPublisher()
	defer p.Close()

	if err := p.Publish(TopicTransformStats, "transformed", TransformNotice{Nodes: 1}); err != nil {
		t.Fatal(err)
	}

	sub, err := p.Subscribe(context.Background(), TopicTransformStats)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	select {
	case event := <-sub.Events():
		t.Errorf("unbuffered topic replayed %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestContextCancelClosesSubscription(t *testing.T) {
	p := NewSSEPublisher()
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := p.Subscribe(ctx, TopicTransformStats)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	// Unsubscription is asynchronous; publishing after it completes must
	// not reach the closed subscription.
	deadline := time.Now().Add(time.Second)
	for {
		p.mu.RLock()
		_, registered := p.subs[TopicTransformStats][sub.(*sseSubscription)]
		p.mu.RUnlock()
		if !registered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscription still registered after context cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := p.Publish(TopicTransformStats, "transformed", TransformNotice{}); err != nil {
		t.Fatal(err)
	}
}

func TestPublishAfterClose(t *testing.T) {
	p := NewSSEPublisher()
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Publish(TopicTransformStats, "transformed", TransformNotice{}); err == nil {
		t.Error("publish on a closed publisher should fail")
	}
	if _, err := p.Subscribe(context.Background(), TopicTransformStats); err == nil {
		t.Error("subscribe on a closed publisher should fail")
	}
}

func TestWriteSSEFormat(t *testing.T) {
	var sb strings.Builder
	event := Event{Topic: TopicTransformStats, Type: "transformed", Data: json.RawMessage(`{"nodes":5}`), Version: 1}
	if err := WriteSSE(&sb, event); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	if !strings.HasPrefix(out, "data: ") || !strings.HasSuffix(out, "\n\n") {
		t.Errorf("wire format = %q", out)
	}
	var decoded Event
	if err := json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(out, "data: "), "\n\n")), &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded.Type != "transformed" {
		t.Errorf("decoded type = %q", decoded.Type)
	}
}
