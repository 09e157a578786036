// Package sse implements a Server-Sent Events broker for contact and backup
// updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	clientBuffer     = 64
	defaultHeartbeat = 15 * time.Second
	reconnectMillis  = 3000
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// BackupEvent is the payload of a backup.* event.
type BackupEvent struct {
	Outcome   string `json:"outcome"`
	ContactID string `json:"contactId"`
	CycleID   string `json:"cycleId"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

type message struct {
	event Event
	// queue marks a change that should be followed by queue.updated.
	queue bool
}

// hub is the state owned by the broker loop.
type hub struct {
	clients   map[chan []byte]struct{}
	seq       uint64
	lastQueue time.Time
}

func (h *hub) frame(ev Event) ([]byte, bool) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, false
	}
	h.seq++
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", h.seq, ev.Type, payload), true
}

func (h *hub) broadcast(ev Event) {
	raw, ok := h.frame(ev)
	if !ok {
		return
	}
	for ch := range h.clients {
		select {
		case ch <- raw:
		default: // slow client, drop
		}
	}
}

// Broker fans events out to connected SSE clients. One loop goroutine owns
// the hub; every public method talks to it over channels.
type Broker struct {
	throttle  time.Duration
	queueLen  func() int
	heartbeat time.Duration

	subscribe   chan chan []byte
	unsubscribe chan chan []byte
	messages    chan message
	counts      chan chan int

	stop    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker. queue.updated follows a contact or backup
// event at most once per throttle and reports queueLen().
func NewBroker(throttle time.Duration, queueLen func() int) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	if queueLen == nil {
		queueLen = func() int { return 0 }
	}

	b := &Broker{
		throttle:    throttle,
		queueLen:    queueLen,
		heartbeat:   defaultHeartbeat,
		subscribe:   make(chan chan []byte),
		unsubscribe: make(chan chan []byte),
		messages:    make(chan message, 256),
		counts:      make(chan chan int),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)
	h := &hub{clients: make(map[chan []byte]struct{})}

	for {
		select {
		case <-b.stop:
			for ch := range h.clients {
				close(ch)
			}
			return

		case ch := <-b.subscribe:
			h.clients[ch] = struct{}{}

		case ch := <-b.unsubscribe:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}

		case m := <-b.messages:
			h.broadcast(m.event)
			if !m.queue {
				continue
			}
			if now := time.Now(); now.Sub(h.lastQueue) >= b.throttle {
				h.lastQueue = now
				h.broadcast(Event{Type: "queue.updated", Data: map[string]int{"queued": b.queueLen()}})
			}

		case resp := <-b.counts:
			resp <- len(h.clients)
		}
	}
}

// Close stops the loop and closes every client channel. It is safe to call
// more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stop)
	}
	<-b.stopped
}

// Subscribe registers a client. The channel is closed by Unsubscribe or
// Close.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribe <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribe <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.counts <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

func (b *Broker) send(m message) {
	if b.closed.Load() {
		return
	}
	select {
	case b.messages <- m:
	case <-b.stopped:
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	b.send(message{event: event})
}

// PublishContactEvent publishes contact.<kind> for a record change. Kinds
// other than created, updated and deleted are ignored.
func (b *Broker) PublishContactEvent(kind, id string) {
	switch kind {
	case "created", "updated", "deleted":
		b.send(message{event: Event{Type: "contact." + kind, Data: map[string]string{"id": id}}, queue: true})
	}
}

// PublishBackupEvent publishes backup.<outcome> for a finished cycle.
func (b *Broker) PublishBackupEvent(ev BackupEvent) {
	b.send(message{event: Event{Type: "backup." + ev.Outcome, Data: ev}, queue: true})
}

// ServeHTTP streams events to one client (GET /api/events) until the
// request ends or the broker closes. Idle streams get a comment line every
// heartbeat so proxies keep them open.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", reconnectMillis)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
