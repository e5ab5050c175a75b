package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ycyw-chat/internal/logger"
	"ycyw-chat/internal/model"
)

// API is the REST surface the synchronizer reads from.
type API interface {
	DialogsBySender(ctx context.Context, senderID int64) ([]model.Dialog, error)
	DialogsByStatus(ctx context.Context, status model.DialogStatus) ([]model.Dialog, error)
	Dialog(ctx context.Context, id int64) (model.Dialog, error)
	MarkAsRead(ctx context.Context, dialogID, senderID int64) error
}

// Synchronizer keeps the user's dialog list in step with the server. Every
// trigger (explicit refresh, push update, poll tick) ends in Load.
type Synchronizer struct {
	api    API
	logger *slog.Logger
	poll   time.Duration
	wake   chan struct{}

	mu         sync.Mutex
	user       *model.UserProfile
	dialogs    []model.Dialog
	started    uint64
	applied    uint64
	topicInput string
	showError  bool

	// emitMu serializes list updates with their notifications.
	emitMu     sync.Mutex
	onChange   []func([]model.Dialog)
	onSelected []func(int64)
	onCreated  []func(string)
}

type Option func(*Synchronizer)

// WithPollInterval reloads the list on a fixed period; zero disables polling.
func WithPollInterval(d time.Duration) Option {
	return func(s *Synchronizer) { s.poll = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

func NewSynchronizer(api API, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		api:  api,
		wake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.Or(s.logger).With("component", "dialogs")
	return s
}

func (s *Synchronizer) SetUser(u *model.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

func (s *Synchronizer) User() *model.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Load fetches the user's dialogs, plus pending ones for support users, and
// replaces the list. A nil user issues no request. On failure the previous
// list stays. A response that finishes after a newer load was applied is
// discarded.
func (s *Synchronizer) Load(ctx context.Context, user *model.UserProfile) error {
	if user == nil {
		return nil
	}

	s.mu.Lock()
	s.started++
	seq := s.started
	s.mu.Unlock()

	var mine, pending []model.Dialog
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		mine, err = s.api.DialogsBySender(gctx, user.ID)
		if err != nil {
			return fmt.Errorf("dialogs of %d: %w", user.ID, err)
		}
		return nil
	})
	if user.IsSupport() {
		g.Go(func() error {
			var err error
			pending, err = s.api.DialogsByStatus(gctx, model.DialogPending)
			if err != nil {
				return fmt.Errorf("pending dialogs: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.WarnContext(ctx, "dialog list load failed, keeping previous list", logger.Err(err))
		return err
	}

	merged := Merge(mine, pending)

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if seq < s.applied {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "discarding stale dialog list", slog.Uint64("seq", seq), slog.Uint64("applied", s.applied))
		return nil
	}
	s.applied = seq
	s.dialogs = merged
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "dialog list loaded", slog.Int("mine", len(mine)), slog.Int("pending", len(pending)), slog.Int("total", len(merged)))
	s.emitChange(merged)
	return nil
}

// Merge keeps every dialog of mine in order, then the pending dialogs whose
// id is not already listed.
func Merge(mine, pending []model.Dialog) []model.Dialog {
	out := make([]model.Dialog, 0, len(mine)+len(pending))
	seen := make(map[int64]int, len(mine)+len(pending))
	for _, d := range mine {
		if i, ok := seen[d.ID]; ok {
			out[i] = d
			continue
		}
		seen[d.ID] = len(out)
		out = append(out, d)
	}
	for _, d := range pending {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = len(out)
		out = append(out, d)
	}
	return out
}

// Refresh asks Run for a reload. Requests made while one is waiting are
// coalesced.
func (s *Synchronizer) Refresh() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run serves Refresh requests and poll ticks until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.poll > 0 {
		t := time.NewTicker(s.poll)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-tick:
		}
		_ = s.Load(ctx, s.User())
	}
}

// Select marks the dialog read for the current user and refreshes its entry,
// then reports the selection. A failed mark still reports it.
func (s *Synchronizer) Select(ctx context.Context, id int64) {
	user := s.User()
	if user == nil {
		return
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{DialogID: logger.Ptr(id)})

	if err := s.api.MarkAsRead(ctx, id, user.ID); err != nil {
		s.logger.WarnContext(ctx, "could not mark dialog as read", logger.Err(err))
		s.emitSelected(id)
		return
	}

	updated, err := s.api.Dialog(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "could not refresh selected dialog", logger.Err(err))
		s.emitSelected(id)
		return
	}
	s.replace(updated)
	s.emitSelected(id)
}

func (s *Synchronizer) replace(d model.Dialog) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	dialogs := make([]model.Dialog, len(s.dialogs))
	copy(dialogs, s.dialogs)
	for i := range dialogs {
		if dialogs[i].ID == d.ID {
			dialogs[i] = d
		}
	}
	s.dialogs = dialogs
	s.mu.Unlock()

	s.emitChange(dialogs)
}

func (s *Synchronizer) SetTopicInput(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topicInput = topic
}

func (s *Synchronizer) TopicInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topicInput
}

// ShowError reports whether the last CreateDialog was refused for an empty
// topic.
func (s *Synchronizer) ShowError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showError
}

// CreateDialog validates the topic input. An empty or blank topic raises the
// error flag; otherwise the trimmed topic is handed to the OnCreated
// listeners and the input is cleared.
func (s *Synchronizer) CreateDialog() (string, bool) {
	s.mu.Lock()
	topic := strings.TrimSpace(s.topicInput)
	if topic == "" {
		s.showError = true
		s.mu.Unlock()
		return "", false
	}
	s.topicInput = ""
	s.showError = false
	s.mu.Unlock()

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	for _, fn := range s.onCreated {
		fn(topic)
	}
	return topic, true
}

// Dialogs returns a copy of the current list.
func (s *Synchronizer) Dialogs() []model.Dialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Dialog, len(s.dialogs))
	copy(out, s.dialogs)
	return out
}

func (s *Synchronizer) Pending() []model.Dialog { return s.withStatus(model.DialogPending) }
func (s *Synchronizer) Open() []model.Dialog    { return s.withStatus(model.DialogOpen) }
func (s *Synchronizer) Closed() []model.Dialog  { return s.withStatus(model.DialogClosed) }

func (s *Synchronizer) withStatus(status model.DialogStatus) []model.Dialog {
	var out []model.Dialog
	for _, d := range s.Dialogs() {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out
}

func (s *Synchronizer) UnreadCount(d model.Dialog) int {
	return model.UnreadCount(d, s.User())
}

func (s *Synchronizer) OnChange(fn func([]model.Dialog)) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *Synchronizer) OnSelected(fn func(id int64)) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.onSelected = append(s.onSelected, fn)
}

// OnCreated listeners receive validated topics. Creating the dialog itself is
// left to them.
func (s *Synchronizer) OnCreated(fn func(topic string)) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.onCreated = append(s.onCreated, fn)
}

// emitChange must be called with emitMu held.
func (s *Synchronizer) emitChange(dialogs []model.Dialog) {
	for _, fn := range s.onChange {
		fn(dialogs)
	}
}

func (s *Synchronizer) emitSelected(id int64) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	for _, fn := range s.onSelected {
		fn(id)
	}
}
