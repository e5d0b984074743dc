// ABOUTME: Fan-out broadcaster of task change events to websocket subscribers
// ABOUTME: Serves /live/tasks and drops events for subscribers that fall behind

package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/2389/tasktrack/internal/auth"
	"github.com/2389/tasktrack/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	writeTimeout = 5 * time.Second
)

// EventType names a task change.
type EventType string

const (
	EventTaskCreated   EventType = "task.created"
	EventTaskUpdated   EventType = "task.updated"
	EventTaskCompleted EventType = "task.completed"
	EventTaskDeleted   EventType = "task.deleted"
)

// Event is one task change. Task is nil for deletions.
type Event struct {
	Type   EventType   `json:"type"`
	TaskID string      `json:"taskId"`
	Task   *store.Task `json:"task,omitempty"`
	Actor  string      `json:"actor,omitempty"`
	At     time.Time   `json:"at"`
}

// Hub provides in-memory pub/sub for task events. Publish never blocks.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
	logger      *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]chan Event),
		logger:      logger.With("component", "live"),
	}
}

// Subscribe registers a subscriber and returns its channel and ID. The
// subscription ends when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, subID
	}
	h.subscribers[subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish delivers ev to every subscriber. Subscribers whose buffers are
// full miss the event.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("dropped event for slow subscriber", "sub_id", id, "type", ev.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subscribers[subID]
	if !ok {
		return
	}
	delete(h.subscribers, subID)
	close(ch)

	h.logger.Debug("subscriber removed", "sub_id", subID)
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes every subscriber channel. Later subscriptions are closed
// immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
	h.closed = true

	h.logger.Debug("hub closed")
}

// ServeHTTP upgrades the request to a websocket and streams events as JSON
// text messages until the client disconnects or the hub closes. It expects
// the authorization middleware to have run already.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket accept failed", "error", err)
		return
	}

	user := ""
	if p := auth.FromContext(r.Context()); p != nil {
		user = p.Name
	}

	// Client messages are ignored; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	events, subID := h.Subscribe(ctx)
	h.logger.Info("live client connected", "user", user, "sub_id", subID)

	for {
		select {
		case <-ctx.Done():
			_ = conn.CloseNow()
			h.logger.Info("live client disconnected", "user", user, "sub_id", subID)
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Debug("live write failed", "sub_id", subID, "error", err)
				}
				_ = conn.CloseNow()
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
