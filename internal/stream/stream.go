// Package stream fans order status updates out to WebSocket subscribers
// keyed by order identifier, generalized from the teacher's
// MarketDataService subscriber map (internal/realtime/market_data_service.go)
// — map[string][]chan MarketUpdate guarded by sync.RWMutex, one entry per
// symbol — to one entry per order identifier, with *websocket.Conn
// subscriber handles instead of Go channels.
package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is the wire shape emitted to every subscriber of one order.
type Message struct {
	OrderID     string                 `json:"orderId"`
	Status      string                 `json:"status"`
	TimestampMs int64                  `json:"timestampMs"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Subscriber wraps one WebSocket connection. gorilla/websocket
// connections support at most one concurrent writer, so every write
// goes through mu, matching the per-connection locking discipline
// internal/realtime's subscriber handling already follows.
type Subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewSubscriber wraps an upgraded WebSocket connection.
func NewSubscriber(conn *websocket.Conn) *Subscriber {
	return &Subscriber{conn: conn}
}

// Send writes msg as JSON. Writes are serialized by the Subscriber's
// mutex, so concurrent Hub.Emit calls reaching the same Subscriber never
// write to the connection at the same time.
func (s *Subscriber) Send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Close closes the underlying connection, best-effort.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// SendRaw writes an arbitrary JSON-serializable value, for frames that
// don't fit Message's shape (the submission endpoint's validation
// error frame, which carries no orderId since no order was created).
func (s *Subscriber) SendRaw(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Hub maps an order identifier to its set of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string][]*Subscriber
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string][]*Subscriber)}
}

// Attach registers sub under orderID.
func (h *Hub) Attach(orderID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[orderID] = append(h.subscribers[orderID], sub)
}

// Emit serializes {orderId, status, timestampMs, data} and sends it to
// every subscriber attached to orderID. Subscribers whose Send fails
// are pruned from the set and closed; a send failure for one subscriber
// never blocks delivery to the others.
func (h *Hub) Emit(orderID, status string, data map[string]interface{}) {
	h.mu.RLock()
	subs := append([]*Subscriber(nil), h.subscribers[orderID]...)
	h.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	msg := Message{OrderID: orderID, Status: status, TimestampMs: time.Now().UnixMilli(), Data: data}

	var dead []*Subscriber
	for _, sub := range subs {
		if err := sub.Send(msg); err != nil {
			dead = append(dead, sub)
		}
	}
	if len(dead) > 0 {
		h.prune(orderID, dead)
	}
}

func (h *Hub) prune(orderID string, dead []*Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	remaining := h.subscribers[orderID][:0]
	for _, sub := range h.subscribers[orderID] {
		if !containsSubscriber(dead, sub) {
			remaining = append(remaining, sub)
		}
	}
	if len(remaining) == 0 {
		delete(h.subscribers, orderID)
	} else {
		h.subscribers[orderID] = remaining
	}

	for _, sub := range dead {
		sub.Close()
	}
}

func containsSubscriber(haystack []*Subscriber, needle *Subscriber) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Detach removes sub from orderID's set and closes it best-effort. If
// the set becomes empty, the mapping is removed entirely.
func (h *Hub) Detach(orderID string, sub *Subscriber) {
	h.mu.Lock()
	subs := h.subscribers[orderID]
	remaining := subs[:0]
	for _, s := range subs {
		if s != sub {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) == 0 {
		delete(h.subscribers, orderID)
	} else {
		h.subscribers[orderID] = remaining
	}
	h.mu.Unlock()

	sub.Close()
}

// DetachAll removes and closes every subscriber attached to orderID,
// called once an order reaches a terminal status.
func (h *Hub) DetachAll(orderID string) {
	h.mu.Lock()
	subs := h.subscribers[orderID]
	delete(h.subscribers, orderID)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// CloseAll closes every subscriber across every order, for process shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.subscribers
	h.subscribers = make(map[string][]*Subscriber)
	h.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.Close()
		}
	}
}

// SubscriberCount reports how many subscribers are attached to orderID,
// for tests and admin introspection.
func (h *Hub) SubscriberCount(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[orderID])
}
