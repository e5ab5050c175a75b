package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ycyw-chat/internal/logger"
	"ycyw-chat/internal/token"
)

const errorBuffer = 16

// Manager owns the push channel: it connects, notices when the session dies
// and reconnects after a fixed delay until deactivated. Failures never
// surface as return values; they flip the state to disconnected and are
// reported on Errors.
type Manager struct {
	dialer Dialer
	tokens token.Source
	delay  time.Duration
	logger *slog.Logger
	errs   chan error

	mu        sync.Mutex
	session   Session
	state     ConnectionState
	watches   map[string]*Watch
	listeners map[int]func(ConnectionState)
	nextID    int
	cancel    context.CancelFunc
	done      chan struct{}

	// emitMu keeps listener notifications in emission order.
	emitMu sync.Mutex
}

type Option func(*Manager)

// WithReconnectDelay sets the wait between attempts. Non-positive values keep
// the default.
func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.delay = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(dialer Dialer, tokens token.Source, opts ...Option) *Manager {
	m := &Manager{
		dialer:    dialer,
		tokens:    tokens,
		delay:     5 * time.Second,
		errs:      make(chan error, errorBuffer),
		watches:   make(map[string]*Watch),
		listeners: make(map[int]func(ConnectionState)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.Or(m.logger).With("component", "channel")
	return m
}

// Activate starts connecting in the background. Calling it on an active
// manager does nothing.
func (m *Manager) Activate(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

// Deactivate tears the channel down and waits for the connect loop to exit.
// It is safe to call repeatedly.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	m.setState(ConnectionState{Stopped: true})
	m.logger.Info("channel deactivated")
}

func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Connected() bool {
	return m.State().Connected
}

// Errors carries transport and protocol failures. It is never closed; when
// nobody drains it, older errors are dropped.
func (m *Manager) Errors() <-chan error {
	return m.errs
}

// OnState calls fn with the current state, then with every change until the
// returned func is called. Calls happen in emission order.
func (m *Manager) OnState(fn func(ConnectionState)) (dispose func()) {
	m.emitMu.Lock()
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	current := m.state
	m.mu.Unlock()
	fn(current)
	m.emitMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Publish sends body to destination on the live session.
func (m *Manager) Publish(destination, contentType string, body []byte) error {
	m.mu.Lock()
	sess, connected := m.session, m.state.Connected
	m.mu.Unlock()
	if sess == nil || !connected || ended(sess) {
		return ErrNotConnected
	}
	if err := sess.Send(destination, contentType, body); err != nil {
		// The session may have died before the run loop detached it.
		if ended(sess) {
			return fmt.Errorf("publish %s: %w: %w", destination, ErrNotConnected, err)
		}
		return fmt.Errorf("publish %s: %w", destination, err)
	}
	return nil
}

func ended(sess Session) bool {
	select {
	case <-sess.Done():
		return true
	default:
		return false
	}
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := backoff.WithContext(backoff.NewConstantBackOff(m.delay), ctx)
	for {
		var sess Session
		connect := func() error {
			s, err := m.connect(ctx)
			if err != nil {
				return err
			}
			sess = s
			return nil
		}
		notify := func(err error, wait time.Duration) {
			m.fail(err)
			m.logger.Warn("channel connect failed, retrying", logger.Err(err), slog.Duration("retry_in", wait))
		}
		if err := backoff.RetryNotify(connect, b, notify); err != nil {
			if sess != nil {
				_ = sess.Close()
			}
			return
		}

		m.attach(sess)

		select {
		case <-sess.Done():
			err := sess.Err()
			if err == nil {
				err = errors.New("session closed")
			}
			m.detach(sess)
			m.fail(err)
			m.logger.Warn("channel lost, reconnecting", logger.Err(err), slog.Duration("retry_in", m.delay))

			t := time.NewTimer(m.delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
		case <-ctx.Done():
			m.detach(sess)
			m.setState(ConnectionState{})
			return
		}
	}
}

func (m *Manager) connect(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, backoff.Permanent(err)
	}
	tok, err := m.tokens.Token()
	if err != nil {
		m.logger.Warn("connecting without token", logger.Err(err))
		tok = ""
	}
	return m.dialer.Dial(ctx, tok)
}

// attach installs sess, binds every watch to it, then reports connected so
// listeners see the subscriptions already in place.
func (m *Manager) attach(sess Session) {
	m.mu.Lock()
	m.session = sess
	watches := make([]*Watch, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	for _, w := range watches {
		w.bind(sess)
	}
	m.logger.Info("channel connected", slog.Int("watches", len(watches)))
	m.setState(ConnectionState{Connected: true})
}

func (m *Manager) detach(sess Session) {
	m.mu.Lock()
	if m.session == sess {
		m.session = nil
	}
	watches := make([]*Watch, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	for _, w := range watches {
		w.unbind(sess)
	}
	if err := sess.Close(); err != nil {
		m.logger.Debug("closing session", logger.Err(err))
	}
}

// fail reports err and marks the channel disconnected.
func (m *Manager) fail(err error) {
	select {
	case m.errs <- err:
	default:
		m.logger.Debug("error channel full, dropping", logger.Err(err))
	}
	m.setState(ConnectionState{Err: err})
}

func (m *Manager) setState(s ConnectionState) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	m.state = s
	listeners := make([]func(ConnectionState), 0, len(m.listeners))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}
