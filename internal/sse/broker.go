// Package sse implements a Server-Sent Events broker that pushes data
// changes to the browser sessions of the affected owner.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event is an SSE event for one owner.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Change describes a file written in one of an owner's repositories.
type Change struct {
	Kind string `json:"kind"` // created, updated or deleted
	Repo string `json:"repo"`
	Path string `json:"path"`
}

type ownerEvent struct {
	owner string
	event Event
}

type ownerChange struct {
	owner  string
	change Change
}

type subscription struct {
	owner string
	ch    chan []byte
}

// Broker manages SSE client connections and routes events by owner.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients + per-owner refresh throttle). Public methods communicate with this
// loop through channels, so no mutexes are required.
type Broker struct {
	refreshMin time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan ownerEvent
	changeCh      chan ownerChange
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits at most one "refresh" event per
// owner per refreshThrottle.
func NewBroker(refreshThrottle time.Duration) *Broker {
	if refreshThrottle <= 0 {
		refreshThrottle = 2 * time.Second
	}

	b := &Broker{
		refreshMin:    refreshThrottle,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan ownerEvent, 256),
		changeCh:      make(chan ownerChange, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string)
	lastRefresh := make(map[string]time.Time)

	broadcast := func(owner string, event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch, o := range clients {
			if o != owner {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.owner

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case oe := <-b.publishCh:
			broadcast(oe.owner, oe.event)

		case oc := <-b.changeCh:
			broadcast(oc.owner, Event{Type: "file." + oc.change.Kind, Data: oc.change})

			now := time.Now()
			if now.Sub(lastRefresh[oc.owner]) >= b.refreshMin {
				lastRefresh[oc.owner] = now
				broadcast(oc.owner, Event{Type: "refresh", Data: map[string]string{"repo": oc.change.Repo}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client for owner and returns its channel.
func (b *Broker) Subscribe(owner string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{owner: owner, ch: ch}:
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
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients across owners.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
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

// Publish sends event to the clients of owner.
func (b *Broker) Publish(owner string, event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- ownerEvent{owner: owner, event: event}:
	case <-b.stopped:
	}
}

// PublishChange sends a file.<kind> event and a throttled refresh event to
// the clients of owner.
func (b *Broker) PublishChange(owner string, c Change) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- ownerChange{owner: owner, change: c}:
	case <-b.stopped:
	}
}

// Serve streams owner's events to w until the request ends.
func (b *Broker) Serve(w http.ResponseWriter, r *http.Request, owner string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(owner)
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
