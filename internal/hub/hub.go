package hub

import (
	"context"
	"log/slog"
	"sync"

	"ycyw-chat/internal/logger"
)

type EventType string

const (
	EventConnection    EventType = "connection"     // channel.ConnectionState
	EventChannelError  EventType = "channel_error"  // error
	EventUpdate        EventType = "update"         // subscription.UpdateToken
	EventDialogs       EventType = "dialogs"        // []model.Dialog
	EventSelected      EventType = "selected"       // int64 dialog id
	EventOpened        EventType = "opened"         // int64 dialog id, history loaded
	EventDialogCreated EventType = "dialog_created" // model.Dialog
	EventMessage       EventType = "message"        // model.ChatMessage
)

// Event is the envelope passed through the hub.
type Event struct {
	Type    EventType
	Payload any
}

type Handler func(ctx context.Context, ev Event)

const queueSize = 256

// lossy events only feed the display and may be dropped under load. All
// other events change state and are never dropped.
var lossy = map[EventType]bool{
	EventChannelError: true,
	EventDialogs:      true,
	EventMessage:      true,
}

// Hub runs every handler on one goroutine, in the order events were posted.
type Hub struct {
	events   chan Event
	stopped  chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

func NewHub(l *slog.Logger) *Hub {
	return &Hub{
		events:   make(chan Event, queueSize),
		stopped:  make(chan struct{}),
		handlers: make(map[EventType][]Handler),
		logger:   logger.Or(l).With("component", "hub"),
	}
}

// On registers fn for events of type t. Handlers run in registration order.
func (h *Hub) On(t EventType, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[t] = append(h.handlers[t], fn)
}

// Post queues an event and reports whether it was accepted. Lossy events are
// dropped when the queue is full; the rest wait for room until Run returns,
// so they must not be posted from a handler.
func (h *Hub) Post(t EventType, payload any) bool {
	ev := Event{Type: t, Payload: payload}
	if lossy[t] {
		select {
		case h.events <- ev:
			return true
		default:
			h.logger.Warn("event queue is full, dropping event", slog.String("type", string(t)))
			return false
		}
	}

	select {
	case <-h.stopped:
		return false
	default:
	}
	select {
	case h.events <- ev:
		return true
	case <-h.stopped:
		return false
	}
}

// Run dispatches events until ctx is done. A hub runs once.
func (h *Hub) Run(ctx context.Context) error {
	defer h.stopOnce.Do(func() { close(h.stopped) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-h.events:
			h.dispatch(ctx, ev)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, ev Event) {
	h.mu.RLock()
	handlers := h.handlers[ev.Type]
	h.mu.RUnlock()

	if len(handlers) == 0 {
		h.logger.Debug("no handler for event", slog.String("type", string(ev.Type)))
		return
	}
	for _, fn := range handlers {
		fn(ctx, ev)
	}
}
