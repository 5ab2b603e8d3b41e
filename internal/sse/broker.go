// Package sse implements a Server-Sent Events broker for note change notifications.
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
	defaultKeepAlive = 15 * time.Second
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// hub is the state owned by the broker goroutine.
type hub struct {
	clients  map[chan []byte]struct{}
	seq      uint64
	lastList time.Time
}

// Broker fans events out to connected SSE clients.
//
// All state lives in one goroutine; public methods submit closures to it.
// Every note event is followed by at most one notes.changed event per
// throttle window so list views reload without being flooded.
type Broker struct {
	throttle  time.Duration
	keepAlive time.Duration

	ops     chan func(*hub)
	done    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithKeepAlive sets how often idle streams get a comment line.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) { b.keepAlive = d }
}

// NewBroker creates a broker that emits at most one notes.changed event per
// listThrottle interval.
func NewBroker(listThrottle time.Duration, opts ...Option) *Broker {
	if listThrottle <= 0 {
		listThrottle = 2 * time.Second
	}
	b := &Broker{
		throttle:  listThrottle,
		keepAlive: defaultKeepAlive,
		ops:       make(chan func(*hub), 256),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)

	h := &hub{clients: make(map[chan []byte]struct{})}
	for {
		select {
		case <-b.done:
			b.drain(h)
			for ch := range h.clients {
				close(ch)
			}
			return
		case op := <-b.ops:
			op(h)
		}
	}
}

// drain runs ops queued before Close so late subscribers are closed too.
func (b *Broker) drain(h *hub) {
	for {
		select {
		case op := <-b.ops:
			op(h)
		default:
			return
		}
	}
}

// submit runs op on the broker goroutine. It reports false once the broker
// has stopped.
func (b *Broker) submit(op func(*hub)) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case b.ops <- op:
		return true
	case <-b.stopped:
		return false
	}
}

func (h *hub) broadcast(e Event) {
	h.seq++
	frame, err := encodeFrame(h.seq, e)
	if err != nil {
		return
	}
	for ch := range h.clients {
		select {
		case ch <- frame:
		default:
			// Client is not keeping up; it misses this event.
		}
	}
}

func encodeFrame(id uint64, e Event) ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, e.Type, data)), nil
}

// Close stops the broker and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.done)
	}
	<-b.stopped
}

// Subscribe registers a client. The returned channel is closed when the
// client is unsubscribed or the broker stops.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	if !b.submit(func(h *hub) { h.clients[ch] = struct{}{} }) {
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.submit(func(h *hub) {
		if _, ok := h.clients[ch]; ok {
			delete(h.clients, ch)
			close(ch)
		}
	})
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	resp := make(chan int, 1)
	if !b.submit(func(h *hub) { resp <- len(h.clients) }) {
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(e Event) {
	b.submit(func(h *hub) { h.broadcast(e) })
}

// PublishNoteEvent broadcasts note.<kind> with the note id, followed by a
// throttled notes.changed.
func (b *Broker) PublishNoteEvent(kind string, id int64) {
	b.submit(func(h *hub) {
		h.broadcast(Event{Type: "note." + kind, Data: map[string]int64{"id": id}})

		if now := time.Now(); now.Sub(h.lastList) >= b.throttle {
			h.lastList = now
			h.broadcast(Event{Type: "notes.changed", Data: struct{}{}})
		}
	})
}

// ServeHTTP streams events to one client (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
