package chatbox

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"ycyw-chat/internal/logger"
	"ycyw-chat/internal/model"
	"ycyw-chat/internal/subscription"
)

type State int

const (
	StateNone State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	default:
		return "NONE"
	}
}

type Loader interface {
	Dialog(ctx context.Context, id int64) (model.Dialog, error)
}

// Sender is the outbound side of the box.
type Sender interface {
	SendMessage(msg model.ChatMessage) error
	Join(dialogID int64, sender string) error
	Leave(dialogID int64, sender string) error
}

type Streams interface {
	DialogMessages(dialogID int64, fn func(model.ChatMessage)) subscription.Handle
}

// Box assembles the message stream of the one active dialog from a REST
// hydration and the pushed messages that follow.
type Box struct {
	loader  Loader
	out     Sender
	streams Streams
	refresh func()
	logger  *slog.Logger

	stream subscription.Slot

	mu        sync.Mutex
	user      *model.UserProfile
	dialogID  int64
	dialog    *model.Dialog
	messages  []model.ChatMessage
	state     State
	connected bool
	seq       uint64
	cancel    context.CancelFunc
	loads     sync.WaitGroup

	listenMu  sync.Mutex
	onMessage []func(model.ChatMessage)
	onLoaded  []func(int64)
}

type Option func(*Box)

// WithRefresh sets what the box calls when the dialog list should reload.
func WithRefresh(fn func()) Option {
	return func(b *Box) { b.refresh = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Box) { b.logger = l }
}

func New(loader Loader, out Sender, streams Streams, opts ...Option) *Box {
	b := &Box{
		loader:  loader,
		out:     out,
		streams: streams,
		refresh: func() {},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logger.Or(b.logger).With("component", "chatbox")
	return b
}

func (b *Box) SetUser(u *model.UserProfile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.user = u
}

// Hydrate replaces the message list, sorted by timestamp.
func (b *Box) Hydrate(msgs []model.ChatMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = model.SortMessages(msgs)
}

// Append adds one message and re-sorts the whole list.
func (b *Box) Append(msg model.ChatMessage) {
	b.mu.Lock()
	b.messages = model.SortMessages(append(b.messages, msg))
	b.mu.Unlock()

	b.listenMu.Lock()
	defer b.listenMu.Unlock()
	for _, fn := range b.onMessage {
		fn(msg)
	}
}

// Open makes id the active dialog. Zero clears it. While connected the
// dialog's stream is subscribed and its history loaded in the background; a
// later Open cancels that load.
func (b *Box) Open(ctx context.Context, id int64) {
	b.mu.Lock()
	b.resetLocked()
	b.dialogID = id
	connected := b.connected
	b.mu.Unlock()

	if id == 0 || !connected {
		b.stream.Clear()
		return
	}
	b.attach(ctx, id)
}

// SetConnected tracks the channel. On (re)connection with an active dialog
// the stream is subscribed again and the history reloaded.
func (b *Box) SetConnected(ctx context.Context, connected bool) {
	b.mu.Lock()
	b.connected = connected
	id := b.dialogID
	b.mu.Unlock()

	if connected && id != 0 {
		b.attach(ctx, id)
	}
}

func (b *Box) attach(ctx context.Context, id int64) {
	b.subscribe(id)
	ctx, seq := b.begin(ctx, id)
	b.loads.Add(1)
	go func() {
		defer b.loads.Done()
		b.load(ctx, id, seq)
	}()
}

func (b *Box) subscribe(id int64) {
	b.stream.Replace(func() subscription.Handle {
		return b.streams.DialogMessages(id, func(msg model.ChatMessage) {
			if b.DialogID() != id {
				return
			}
			b.Append(msg)
		})
	})
}

// begin cancels the load in flight and marks a new one for id.
func (b *Box) begin(ctx context.Context, id int64) (context.Context, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	b.seq++
	ctx, b.cancel = context.WithCancel(ctx)
	b.state = StateLoading
	return ctx, b.seq
}

// load hydrates dialog id. Only the latest load for the still active dialog
// is applied.
func (b *Box) load(ctx context.Context, id int64, seq uint64) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{DialogID: logger.Ptr(id)})
	d, err := b.loader.Dialog(ctx, id)

	b.mu.Lock()
	if seq != b.seq || id != b.dialogID {
		b.mu.Unlock()
		b.logger.DebugContext(ctx, "discarding stale hydration")
		return
	}
	b.cancel()
	b.cancel = nil
	if err != nil {
		b.dialog = nil
		b.state = StateNone
		b.mu.Unlock()
		b.logger.ErrorContext(ctx, "dialog load failed", logger.Err(err))
		return
	}
	b.dialog = &d
	if len(d.Messages) > 0 {
		b.messages = model.SortMessages(d.Messages)
	}
	b.state = StateReady
	b.mu.Unlock()

	b.listenMu.Lock()
	defer b.listenMu.Unlock()
	for _, fn := range b.onLoaded {
		fn(id)
	}
}

// Send posts content to the active dialog. Blank content or no active dialog
// is a no-op.
func (b *Box) Send(content string) error {
	content = strings.TrimSpace(content)
	b.mu.Lock()
	id, sender := b.dialogID, b.senderLocked()
	b.mu.Unlock()
	if content == "" || id == 0 {
		return nil
	}
	return b.out.SendMessage(model.ChatMessage{
		DialogID: id,
		Content:  content,
		Sender:   sender,
		Type:     model.MessageChat,
	})
}

// Join announces the user on the active dialog.
func (b *Box) Join() error {
	b.mu.Lock()
	id, sender := b.dialogID, b.senderLocked()
	b.mu.Unlock()
	if id == 0 {
		return nil
	}
	return b.out.Join(id, sender)
}

// DisconnectFromDialog leaves the active dialog, clears the box and asks for
// one list refresh. It does nothing without an active dialog or a connection.
func (b *Box) DisconnectFromDialog() error {
	b.mu.Lock()
	id, sender := b.dialogID, b.senderLocked()
	if id == 0 || !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.resetLocked()
	b.mu.Unlock()
	b.stream.Clear()

	err := b.out.Leave(id, sender)
	if err != nil {
		b.logger.Warn("leave failed", logger.Dialog(id), logger.Err(err))
	}
	b.refresh()
	return err
}

// OnDialogCreated adopts a dialog the server just opened for the user.
func (b *Box) OnDialogCreated(d model.Dialog) {
	b.mu.Lock()
	b.resetLocked()
	b.dialogID = d.ID
	b.dialog = &d
	b.state = StateReady
	b.mu.Unlock()

	b.logger.Info("dialog created", logger.Dialog(d.ID), slog.String("title", d.Title()))
	b.subscribe(d.ID)
	b.refresh()
}

// Close drops the stream subscription, cancels any load in flight and waits
// for it to return.
func (b *Box) Close() {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.seq++
	b.mu.Unlock()
	b.stream.Clear()
	b.loads.Wait()
}

func (b *Box) OnMessage(fn func(model.ChatMessage)) {
	b.listenMu.Lock()
	defer b.listenMu.Unlock()
	b.onMessage = append(b.onMessage, fn)
}

// OnLoaded registers fn for every hydration applied to the active dialog.
func (b *Box) OnLoaded(fn func(id int64)) {
	b.listenMu.Lock()
	defer b.listenMu.Unlock()
	b.onLoaded = append(b.onLoaded, fn)
}

func (b *Box) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Box) DialogID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dialogID
}

// Dialog returns the loaded dialog, or nil.
func (b *Box) Dialog() *model.Dialog {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dialog == nil {
		return nil
	}
	d := *b.dialog
	return &d
}

func (b *Box) Messages() []model.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.ChatMessage(nil), b.messages...)
}

func (b *Box) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Title is the active dialog's title, "No Title" when none is loaded.
func (b *Box) Title() string {
	d := b.Dialog()
	if d == nil {
		return model.ExtractDialogTitle(nil)
	}
	return d.Title()
}

func (b *Box) Date() string {
	d := b.Dialog()
	if d == nil {
		return ""
	}
	return d.Date()
}

// SenderName resolves a sender id against the loaded dialog's participants.
func (b *Box) SenderName(senderID string) string {
	var participants []model.UserProfile
	if d := b.Dialog(); d != nil {
		participants = d.Participants
	}
	return model.SenderName(senderID, participants)
}

func (b *Box) resetLocked() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.seq++
	b.dialogID = 0
	b.dialog = nil
	b.messages = nil
	b.state = StateNone
}

func (b *Box) senderLocked() string {
	if b.user == nil {
		return "0"
	}
	return strconv.FormatInt(b.user.ID, 10)
}
