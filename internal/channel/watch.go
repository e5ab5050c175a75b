package channel

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"ycyw-chat/internal/logger"
)

// Watch is a destination handler that outlives sessions: it is subscribed on
// every session the manager establishes until disposed.
type Watch struct {
	id          string
	destination string
	fn          func(Frame)
	m           *Manager

	mu       sync.Mutex
	sess     Session
	feed     Feed
	disposed bool
}

// Watch registers fn for frames on destination. When a session is live the
// subscription is made before Watch returns.
func (m *Manager) Watch(destination string, fn func(Frame)) *Watch {
	w := &Watch{
		id:          uuid.NewString(),
		destination: destination,
		fn:          fn,
		m:           m,
	}

	m.mu.Lock()
	m.watches[w.id] = w
	sess := m.session
	m.mu.Unlock()

	if sess != nil {
		w.bind(sess)
	}
	return w
}

// Dispose unsubscribes and stops delivery. Calling it again does nothing.
func (w *Watch) Dispose() {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.disposed = true
	feed := w.feed
	w.feed, w.sess = nil, nil
	w.mu.Unlock()

	w.m.mu.Lock()
	delete(w.m.watches, w.id)
	w.m.mu.Unlock()

	if feed != nil {
		// Dispose may run inside fn on the pump goroutine.
		go func() {
			if err := feed.Unsubscribe(); err != nil {
				w.m.logger.Debug("unsubscribe", logger.Destination(w.destination), logger.Err(err))
			}
		}()
	}
}

func (w *Watch) Disposed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disposed
}

// bind subscribes on sess unless already bound to it.
func (w *Watch) bind(sess Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed || w.sess == sess {
		return
	}

	feed, err := sess.Subscribe(w.destination)
	if err != nil {
		w.m.logger.Warn("subscribe failed", logger.Destination(w.destination), logger.Err(err))
		select {
		case w.m.errs <- err:
		default:
		}
		return
	}
	w.sess, w.feed = sess, feed
	w.m.logger.Debug("subscribed", logger.Destination(w.destination), slog.String("watch_id", w.id))
	go w.pump(feed)
}

func (w *Watch) unbind(sess Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sess == sess {
		w.sess, w.feed = nil, nil
	}
}

// pump drains feed until it closes. Frames arriving after Dispose are dropped
// but still read, so a slow handler never stalls the session.
func (w *Watch) pump(feed Feed) {
	for f := range feed.C() {
		if w.Disposed() {
			continue
		}
		w.fn(f)
	}
}
