package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Update is the compact change document emitted by the jobs table trigger.
// Subscribers fetch the full record over HTTP if they need the report body.
type Update struct {
	JobID     string    `json:"jobId"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// subscriberBuffer bounds how far a slow subscriber may lag before updates
// are dropped for it. Dropping beats blocking the whole fan-out.
const subscriberBuffer = 16

// Subscription is one client's view of the update stream, filtered by user.
type Subscription struct {
	userID  string
	updates chan Update
	hub     *Hub
	once    sync.Once
}

// Updates returns the channel of job updates for this subscription. The
// channel is closed when the subscription or the hub is closed.
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

// Close detaches the subscription from the hub. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// Hub fans job updates out to WebSocket subscribers. It is fed by the store's
// change notifications and knows nothing about how updates are produced.
type Hub struct {
	logger      *slog.Logger
	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	closed      bool
}

// NewHub creates a new update hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a subscriber interested in one user's jobs.
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		userID:  userID,
		updates: make(chan Update, subscriberBuffer),
		hub:     h,
	}

	h.mu.Lock()
	if h.closed {
		close(sub.updates)
	} else {
		h.subscribers[sub] = struct{}{}
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Debug("Subscriber registered",
		slog.String("user_id", userID),
		slog.Int("subscribers", count),
	)

	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.updates)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Debug("Subscriber removed",
		slog.String("user_id", sub.userID),
		slog.Int("subscribers", count),
	)
}

// Broadcast delivers an update to every subscriber watching its user. The
// send never blocks; subscribers that cannot keep up lose updates.
func (h *Hub) Broadcast(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		if sub.userID != u.UserID {
			continue
		}
		select {
		case sub.updates <- u:
		default:
			h.logger.Warn("Dropping job update for slow subscriber",
				slog.String("user_id", u.UserID),
				slog.String("job_id", u.JobID),
			)
		}
	}
}

// SubscriberCount returns the number of attached subscriptions
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close detaches and closes every subscription
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub.updates)
	}
}
