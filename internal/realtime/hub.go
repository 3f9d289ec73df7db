package realtime

import (
	"sync"

	"github.com/bazaarchat/chat-service/internal/models"
)

const subscriptionBuffer = 64

// Hub routes message events to in-process subscribers, keyed by conversation.
// Each published event reaches each live subscriber at most once; a slow
// subscriber loses events rather than blocking the publisher. Consumers load
// history for authoritative ordering and deduplicate by message id, since a
// sender's own message also comes back through its subscription.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[uint64]*Subscription
	nextID uint64
	closed bool
}

// Subscription is a live registration for one conversation. Close releases
// it; Close is idempotent and safe to call concurrently with delivery.
type Subscription struct {
	hub            *Hub
	conversationID string
	id             uint64
	events         chan *models.Message
	done           chan struct{}
	once           sync.Once
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[uint64]*Subscription),
	}
}

// Subscribe registers fn for every message published to the conversation.
// fn runs on the subscription's own goroutine, so a slow callback only
// delays that subscriber.
func (h *Hub) Subscribe(conversationID string, fn func(*models.Message)) *Subscription {
	sub := &Subscription{
		hub:            h,
		conversationID: conversationID,
		events:         make(chan *models.Message, subscriptionBuffer),
		done:           make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.once.Do(func() { close(sub.done) })
		return sub
	}
	h.nextID++
	sub.id = h.nextID
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[uint64]*Subscription)
		h.rooms[conversationID] = room
	}
	room[sub.id] = sub
	h.mu.Unlock()

	go sub.dispatch(fn)
	return sub
}

// Publish delivers msg to every current subscriber of its conversation and
// returns how many subscribers accepted it.
func (h *Hub) Publish(msg *models.Message) int {
	h.mu.RLock()
	room := h.rooms[msg.ConversationID]
	if len(room) == 0 {
		h.mu.RUnlock()
		return 0
	}

	delivered := 0
	for _, sub := range room {
		select {
		case sub.events <- msg:
			delivered++
		default:
			// Buffer full: drop for this subscriber. History stays authoritative.
		}
	}
	h.mu.RUnlock()
	return delivered
}

// Close releases every subscription and rejects future ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0)
	for _, room := range h.rooms {
		for _, sub := range room {
			subs = append(subs, sub)
		}
	}
	h.rooms = make(map[string]map[uint64]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
}

// Close detaches the subscription from the hub and stops its dispatch
// goroutine. Events already queued may still be delivered.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	if room := s.hub.rooms[s.conversationID]; room != nil {
		delete(room, s.id)
		if len(room) == 0 {
			delete(s.hub.rooms, s.conversationID)
		}
	}
	s.hub.mu.Unlock()

	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) dispatch(fn func(*models.Message)) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.events:
			fn(msg)
		}
	}
}
