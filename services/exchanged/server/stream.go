package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"tokenexchange/core/events"
	"tokenexchange/core/types"
)

const (
	wsWriteTimeout     = 10 * time.Second
	defaultHubCapacity = 64
)

type subscriber struct {
	ch     chan types.Event
	filter map[string]struct{}
}

func (s *subscriber) wants(eventType string) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[eventType]
	return ok
}

// Hub fans committed events out to websocket subscribers. Emit never blocks;
// a subscriber whose buffer is full misses the event.
type Hub struct {
	capacity int

	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Uint64
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultHubCapacity
	}
	return &Hub{capacity: capacity, subs: make(map[*subscriber]struct{})}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(ev events.Event) {
	if h == nil || ev == nil {
		return
	}
	payload := ev.Event()
	if payload == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(payload.Type) {
			continue
		}
		select {
		case sub.ch <- *payload:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a listener for the given event types, or for every
// event when none are given. The returned func unregisters it.
func (h *Hub) Subscribe(eventTypes ...string) (<-chan types.Event, func()) {
	sub := &subscriber{ch: make(chan types.Event, h.capacity)}
	if len(eventTypes) > 0 {
		sub.filter = make(map[string]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			sub.filter[t] = struct{}{}
		}
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports events skipped because a subscriber lagged.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	updates, cancel := s.hub.Subscribe(eventTypes(r)...)
	defer cancel()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, updates); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan types.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-updates:
			if !ok {
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func eventTypes(r *http.Request) []string {
	var out []string
	for _, raw := range r.URL.Query()["type"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}
