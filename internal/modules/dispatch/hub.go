// README: In-process typed pub/sub; each subscriber owns a buffered channel and must Close it.
package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"sharedride/internal/metrics"
	"sharedride/internal/types"
)

const defaultHubBuffer = 32

type Hub struct {
	mu     sync.RWMutex
	subs   map[types.ID]map[string]*Subscription
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultHubBuffer
	}
	return &Hub{subs: make(map[types.ID]map[string]*Subscription), buffer: buffer}
}

type Subscription struct {
	id        string
	recipient types.ID
	ch        chan Notification
	hub       *Hub
	once      sync.Once
}

func (s *Subscription) C() <-chan Notification {
	return s.ch
}

func (s *Subscription) Recipient() types.ID {
	return s.recipient
}

// Close detaches the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if set, ok := h.subs[s.recipient]; ok {
			delete(set, s.id)
			if len(set) == 0 {
				delete(h.subs, s.recipient)
			}
		}
		h.mu.Unlock()
		close(s.ch)
	})
}

func (h *Hub) Subscribe(recipient types.ID) *Subscription {
	s := &Subscription{
		id:        uuid.NewString(),
		recipient: recipient,
		ch:        make(chan Notification, h.buffer),
		hub:       h,
	}
	h.mu.Lock()
	set, ok := h.subs[recipient]
	if !ok {
		set = make(map[string]*Subscription)
		h.subs[recipient] = set
	}
	set[s.id] = s
	h.mu.Unlock()
	return s
}

// Notify never blocks: a subscriber with a full buffer misses the message.
func (h *Hub) Notify(_ context.Context, n Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.subs[n.Recipient]
	if len(set) == 0 {
		return ErrNoSubscriber
	}
	delivered := 0
	for _, s := range set {
		select {
		case s.ch <- n:
			delivered++
		default:
			metrics.NotificationsTotal.WithLabelValues(string(n.Type), "dropped").Inc()
		}
	}
	if delivered == 0 {
		return ErrSubscriberBusy
	}
	return nil
}

func (h *Hub) Subscribers(recipient types.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[recipient])
}
