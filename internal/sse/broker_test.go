package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// drain collects every message currently buffered on ch.
func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "settings.updated", Data: map[string]bool{"enabled": true}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: settings.updated") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"enabled":true`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishBackupEvent(t *testing.T) {
	b := NewBroker(time.Hour, func() int { return 3 })
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishBackupEvent(BackupEvent{Outcome: "requeued", ContactID: "c1", CycleID: "cy", Status: 500, Error: "boom"})
	time.Sleep(50 * time.Millisecond)

	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("messages = %q", msgs)
	}
	if !strings.Contains(msgs[0], "event: backup.requeued") || !strings.Contains(msgs[0], `"contactId":"c1"`) ||
		!strings.Contains(msgs[0], `"status":500`) {
		t.Errorf("backup event = %q", msgs[0])
	}
	if !strings.Contains(msgs[1], "event: queue.updated") || !strings.Contains(msgs[1], `"queued":3`) {
		t.Errorf("queue event = %q", msgs[1])
	}
}

func TestPublishContactEvent_QueueThrottle(t *testing.T) {
	b := NewBroker(500*time.Millisecond, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event should trigger queue.updated.
	b.PublishContactEvent("created", "a")
	// Second event immediately should NOT trigger another queue.updated.
	b.PublishContactEvent("updated", "b")
	// Unknown kinds are dropped.
	b.PublishContactEvent("moved", "c")

	time.Sleep(50 * time.Millisecond)
	queueCount := 0
	contactCount := 0
	for _, s := range drain(ch) {
		if strings.Contains(s, "queue.updated") {
			queueCount++
		} else {
			contactCount++
		}
	}

	if contactCount != 2 {
		t.Errorf("contact events = %d, want 2", contactCount)
	}
	if queueCount != 1 {
		t.Errorf("queue events = %d, want 1 (throttled)", queueCount)
	}
}

// flushRecorder guards the recorder body for concurrent reads.
type flushRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (f *flushRecorder) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ResponseRecorder.Write(p)
}

func (f *flushRecorder) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Body.String()
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishContactEvent("updated", "x")
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.body()
	if !strings.Contains(body, "event: contact.updated") {
		t.Errorf("handler output missing event: %q", body)
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then some; must not block.
	for range 70 {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "x", Data: nil})
	b.PublishContactEvent("updated", "x")
	b.PublishBackupEvent(BackupEvent{Outcome: "pushed"})
}

func TestEventIDsIncrease(t *testing.T) {
	b := NewBroker(time.Hour, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "a", Data: 1})
	b.Publish(Event{Type: "b", Data: 2})
	time.Sleep(50 * time.Millisecond)

	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("messages = %q", msgs)
	}
	if !strings.HasPrefix(msgs[0], "id: 1\n") || !strings.HasPrefix(msgs[1], "id: 2\n") {
		t.Errorf("ids = %q", msgs)
	}
}

func TestSSEHandler_RetryAndHeartbeat(t *testing.T) {
	b := NewBroker(time.Hour, nil)
	b.heartbeat = 20 * time.Millisecond
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := w.body()
	if !strings.HasPrefix(body, "retry: 3000\n\n") {
		t.Errorf("missing retry hint: %q", body)
	}
	if !strings.Contains(body, ": ping\n\n") {
		t.Errorf("missing heartbeat: %q", body)
	}
}

func TestSSEHandler_EndsOnClose(t *testing.T) {
	b := NewBroker(time.Hour, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	w := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	b.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not return after Close")
	}
}
