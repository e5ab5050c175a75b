package outbound

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ycyw-chat/internal/channel"
	"ycyw-chat/internal/logger"
)

// Publisher is the part of the channel manager the queue sends through.
type Publisher interface {
	Publish(destination, contentType string, body []byte) error
	Connected() bool
}

// Entry is one send waiting for a connection.
type Entry struct {
	ID          string
	Destination string
	ContentType string
	Body        []byte
	EnqueuedAt  time.Time
}

// Queue holds sends issued while offline and flushes them, oldest first, once
// the channel is back. Sends issued while entries are pending go behind them.
type Queue struct {
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time

	// mu is held across every publish so a drain and a new send never
	// interleave.
	mu      sync.Mutex
	entries []Entry
}

func New(pub Publisher, l *slog.Logger) *Queue {
	return &Queue{
		pub:    pub,
		logger: logger.Or(l).With("component", "outbound"),
		now:    time.Now,
	}
}

// EnqueueOrSend publishes now when possible, otherwise queues. Only a failure
// other than a missing connection is returned; the entry is then lost.
func (q *Queue) EnqueueOrSend(destination, contentType string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) > 0 || !q.pub.Connected() {
		e := q.enqueue(destination, contentType, body)
		if q.pub.Connected() {
			q.drain()
		} else {
			q.logger.Info("channel offline, send queued", logger.Entry(e.ID), logger.Destination(destination), slog.Int("pending", len(q.entries)))
		}
		return nil
	}

	err := q.pub.Publish(destination, contentType, body)
	if errors.Is(err, channel.ErrNotConnected) {
		e := q.enqueue(destination, contentType, body)
		q.logger.Info("channel dropped, send queued", logger.Entry(e.ID), logger.Destination(destination))
		return nil
	}
	if err != nil {
		q.logger.Error("send failed", logger.Destination(destination), logger.Err(err))
		return fmt.Errorf("send to %s: %w", destination, err)
	}
	return nil
}

// Drain flushes pending entries in order and returns how many were sent. It
// stops at the first failure, keeping that entry and the rest.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drain()
}

func (q *Queue) drain() int {
	sent := 0
	for len(q.entries) > 0 {
		e := q.entries[0]
		if err := q.pub.Publish(e.Destination, e.ContentType, e.Body); err != nil {
			q.logger.Warn("drain interrupted", logger.Entry(e.ID), logger.Destination(e.Destination), logger.Err(err), slog.Int("pending", len(q.entries)))
			break
		}
		q.entries[0] = Entry{}
		q.entries = q.entries[1:]
		sent++
		q.logger.Debug("queued send flushed", logger.Entry(e.ID), slog.Duration("waited", q.now().Sub(e.EnqueuedAt)))
	}
	if len(q.entries) == 0 {
		q.entries = nil
	}
	return sent
}

// HandleState is meant for channel.Manager.OnState: it drains on connect and
// forgets everything once the channel is deliberately stopped.
func (q *Queue) HandleState(s channel.ConnectionState) {
	switch {
	case s.Connected:
		if n := q.Drain(); n > 0 {
			q.logger.Info("outbound queue flushed", slog.Int("sent", n))
		}
	case s.Stopped:
		q.Reset()
	}
}

func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) > 0 {
		q.logger.Info("dropping queued sends", slog.Int("pending", len(q.entries)))
	}
	q.entries = nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending returns a copy of the queued entries, oldest first.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...)
}

func (q *Queue) enqueue(destination, contentType string, body []byte) Entry {
	e := Entry{
		ID:          uuid.NewString(),
		Destination: destination,
		ContentType: contentType,
		Body:        body,
		EnqueuedAt:  q.now(),
	}
	q.entries = append(q.entries, e)
	return e
}
