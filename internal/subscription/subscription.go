package subscription

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"ycyw-chat/internal/channel"
	"ycyw-chat/internal/logger"
)

// Handle is a live subscription. Dispose must be safe to call more than once.
type Handle interface {
	Dispose()
}

// HandleFunc adapts a plain func to Handle. The func itself must tolerate
// repeated calls.
type HandleFunc func()

func (f HandleFunc) Dispose() { f() }

// Watcher is the part of the channel manager subscriptions are made on.
type Watcher interface {
	Watch(destination string, fn func(channel.Frame)) Handle
}

type managerWatcher struct {
	m *channel.Manager
}

func (w managerWatcher) Watch(destination string, fn func(channel.Frame)) Handle {
	return w.m.Watch(destination, fn)
}

// FromManager exposes m as a Watcher.
func FromManager(m *channel.Manager) Watcher {
	return managerWatcher{m: m}
}

// Message is a received frame body, already checked to be well-formed JSON
// when it looks like a JSON object.
type Message struct {
	Destination string
	Raw         []byte
	JSON        bool
}

// Text is the body as a status token: trimmed, surrounding quotes removed.
func (m Message) Text() string {
	return string(bytes.Trim(bytes.TrimSpace(m.Raw), `"`))
}

func (m Message) Decode(v any) error {
	if !m.JSON {
		return fmt.Errorf("%s: body is not a JSON object", m.Destination)
	}
	return json.Unmarshal(m.Raw, v)
}

// Field looks up a gjson path in a JSON body. Non-JSON bodies yield an empty
// result.
func (m Message) Field(path string) gjson.Result {
	if !m.JSON {
		return gjson.Result{}
	}
	return gjson.GetBytes(m.Raw, path)
}

type Subscriber struct {
	w      Watcher
	logger *slog.Logger
}

func New(w Watcher, l *slog.Logger) *Subscriber {
	return &Subscriber{w: w, logger: logger.Or(l).With("component", "subscription")}
}

// Subscribe delivers every frame on destination to fn. Bodies that start like
// a JSON object but do not parse are logged and dropped.
func (s *Subscriber) Subscribe(destination string, fn func(Message)) Handle {
	return s.w.Watch(destination, func(f channel.Frame) {
		msg, ok := s.parse(f)
		if !ok {
			return
		}
		fn(msg)
	})
}

func (s *Subscriber) parse(f channel.Frame) (Message, bool) {
	msg := Message{Destination: f.Destination, Raw: f.Body}
	trimmed := bytes.TrimSpace(f.Body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return msg, true
	}
	if !gjson.ValidBytes(trimmed) {
		s.logger.Warn("dropping malformed payload",
			logger.Destination(f.Destination),
			slog.String("body", logger.Truncate(string(trimmed), 200)))
		return Message{}, false
	}
	msg.Raw = trimmed
	msg.JSON = true
	return msg, true
}
