package ledgerd

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"stakeledger/core/events"
	"stakeledger/observability"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// StreamEvent is the websocket payload for one committed ledger event.
type StreamEvent struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func streamEventFrom(evt events.Event) StreamEvent {
	switch e := evt.(type) {
	case events.Record:
		return StreamEvent{Type: e.Type, Attributes: e.Attributes}
	case *events.Record:
		return StreamEvent{Type: e.Type, Attributes: e.Attributes}
	default:
		return StreamEvent{Type: evt.EventType()}
	}
}

type subscriber struct {
	ch     chan StreamEvent
	filter string
}

// Hub fans committed events out to websocket subscribers. Slow subscribers
// lose events rather than blocking the ledger.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	payload := streamEventFrom(evt)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.filter != "" && !strings.HasPrefix(payload.Type, sub.filter) {
			continue
		}
		select {
		case sub.ch <- payload:
		default:
			observability.Events().RecordDrop()
		}
	}
}

// Subscribe registers a subscriber for events whose type starts with filter.
// The returned cancel func must be called to release it.
func (h *Hub) Subscribe(filter string) (<-chan StreamEvent, func()) {
	sub := &subscriber{ch: make(chan StreamEvent, subscriberBuffer), filter: strings.TrimSpace(filter)}
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

// Subscribers returns the number of attached subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("type")
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filter string) error {
	updates, cancel := s.hub.Subscribe(filter)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-updates:
			if err := writeStreamEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, evt StreamEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
