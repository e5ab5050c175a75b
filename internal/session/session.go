package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"ycyw-chat/internal/api"
	"ycyw-chat/internal/channel"
	"ycyw-chat/internal/chatbox"
	"ycyw-chat/internal/config"
	"ycyw-chat/internal/dialog"
	"ycyw-chat/internal/hub"
	"ycyw-chat/internal/logger"
	"ycyw-chat/internal/model"
	"ycyw-chat/internal/outbound"
	"ycyw-chat/internal/subscription"
	"ycyw-chat/internal/suggest"
	"ycyw-chat/internal/token"
)

// API is everything the session needs from the REST back end.
type API interface {
	dialog.API
	Login(ctx context.Context, email, password string) (model.AuthResponse, error)
	Me(ctx context.Context) (model.UserProfile, error)
}

// TokenStore persists the bearer token between runs.
type TokenStore interface {
	token.Source
	Save(tok string) error
	Clear() error
}

// Deps lets callers swap the network-facing pieces. Zero fields get the real
// implementations built from the config.
type Deps struct {
	Tokens TokenStore
	API    API
	Dialer channel.Dialer
	Logger *slog.Logger
}

// Session wires the sync layer together for one signed-in user.
type Session struct {
	cfg    config.Config
	logger *slog.Logger
	tokens TokenStore
	api    API

	Manager *channel.Manager
	Queue   *outbound.Queue
	Subs    *subscription.Subscriber
	Dialogs *dialog.Synchronizer
	Box     *chatbox.Box
	Drafter *suggest.Drafter

	hub   *hub.Hub
	scope *subscription.Scope

	mu   sync.Mutex
	user *model.UserProfile
}

func New(cfg config.Config, deps Deps) *Session {
	l := logger.Or(deps.Logger)
	if deps.Tokens == nil {
		deps.Tokens = token.NewFileStore(cfg.Token.Path)
	}
	if deps.API == nil {
		deps.API = api.New(cfg.API.BaseURL, deps.Tokens, api.WithLogger(l))
	}
	if deps.Dialer == nil {
		deps.Dialer = channel.NewWebsocketDialer(cfg.Channel.URL,
			channel.WithHeartbeat(cfg.Channel.HeartbeatOutgoing, cfg.Channel.HeartbeatIncoming),
			channel.WithDialerLogger(l),
		)
	}

	s := &Session{
		cfg:    cfg,
		logger: l.With("component", "session"),
		tokens: deps.Tokens,
		api:    deps.API,
		hub:    hub.NewHub(l),
		scope:  subscription.NewScope(),
	}
	s.Manager = channel.NewManager(deps.Dialer, deps.Tokens,
		channel.WithReconnectDelay(cfg.Channel.ReconnectDelay),
		channel.WithLogger(l),
	)
	s.Queue = outbound.New(s.Manager, l)
	s.Subs = subscription.New(subscription.FromManager(s.Manager), l)
	s.Dialogs = dialog.NewSynchronizer(deps.API,
		dialog.WithPollInterval(cfg.Sync.PollInterval),
		dialog.WithLogger(l),
	)
	s.Box = chatbox.New(deps.API, s.Queue, s.Subs,
		chatbox.WithRefresh(s.Dialogs.Refresh),
		chatbox.WithLogger(l),
	)
	s.Drafter = suggest.New(cfg.OpenAI, l)
	s.wire()
	return s
}

// Login authenticates and stores the token for later runs.
func (s *Session) Login(ctx context.Context, email, password string) (model.AuthResponse, error) {
	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		return model.AuthResponse{}, err
	}
	if err := s.tokens.Save(resp.Token); err != nil {
		return model.AuthResponse{}, fmt.Errorf("storing token: %w", err)
	}
	s.logger.InfoContext(ctx, "logged in", slog.String("email", resp.Email), slog.String("role", resp.Role))
	return resp, nil
}

// Logout forgets the stored token and stops the channel.
func (s *Session) Logout() error {
	s.Manager.Deactivate()
	return s.tokens.Clear()
}

func (s *Session) User() *model.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// On lets the front end observe hub events. Handlers run on the hub goroutine,
// after the session's own handler for the same event.
func (s *Session) On(t hub.EventType, fn hub.Handler) {
	s.hub.On(t, fn)
}

// Run loads the profile, connects the channel and serves events until ctx is
// done. Everything it started is torn down before it returns.
func (s *Session) Run(ctx context.Context) error {
	if _, err := s.tokens.Token(); err != nil {
		return fmt.Errorf("not logged in: %w", err)
	}
	me, err := s.api.Me(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return fmt.Errorf("session rejected, log in again: %w", err)
		}
		return err
	}
	user := &me
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	s.Dialogs.SetUser(user)
	s.Box.SetUser(user)
	s.logger.InfoContext(ctx, "signed in", slog.Int64("user_id", user.ID), slog.String("type", string(user.Type)))

	defer s.teardown()

	s.Manager.Activate(ctx)
	s.Dialogs.Refresh()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.hub.Run(gctx) })
	g.Go(func() error { return s.Dialogs.Run(gctx) })
	g.Go(func() error { return s.forwardErrors(gctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// wire connects the components. It runs from New so the session's hub
// handlers come before any registered through On.
func (s *Session) wire() {
	s.Manager.OnState(s.Queue.HandleState)
	s.scope.Add(subscription.HandleFunc(s.Manager.OnState(func(st channel.ConnectionState) {
		s.hub.Post(hub.EventConnection, st)
	})))

	s.scope.Add(s.Subs.Updates(func(tok subscription.UpdateToken) {
		s.hub.Post(hub.EventUpdate, tok)
	}))
	s.scope.Add(s.Subs.DialogCreated(func(d model.Dialog) {
		s.hub.Post(hub.EventDialogCreated, d)
	}))

	s.Dialogs.OnChange(func(ds []model.Dialog) { s.hub.Post(hub.EventDialogs, ds) })
	s.Dialogs.OnSelected(func(id int64) { s.hub.Post(hub.EventSelected, id) })
	s.Dialogs.OnCreated(func(topic string) {
		if err := s.Queue.CreateDialog(topic); err != nil {
			s.logger.Warn("create dialog failed", logger.Err(err))
		}
	})
	s.Box.OnMessage(func(msg model.ChatMessage) { s.hub.Post(hub.EventMessage, msg) })
	s.Box.OnLoaded(func(id int64) { s.hub.Post(hub.EventOpened, id) })

	s.hub.On(hub.EventConnection, func(ctx context.Context, ev hub.Event) {
		st := ev.Payload.(channel.ConnectionState)
		s.Box.SetConnected(ctx, st.Connected)
		if st.Connected {
			s.Dialogs.Refresh()
		}
	})
	s.hub.On(hub.EventUpdate, func(context.Context, hub.Event) {
		s.Dialogs.Refresh()
	})
	s.hub.On(hub.EventSelected, func(ctx context.Context, ev hub.Event) {
		s.Box.Open(ctx, ev.Payload.(int64))
	})
	s.hub.On(hub.EventDialogCreated, func(_ context.Context, ev hub.Event) {
		s.Box.OnDialogCreated(ev.Payload.(model.Dialog))
	})
}

func (s *Session) forwardErrors(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.Manager.Errors():
			s.hub.Post(hub.EventChannelError, err)
		}
	}
}

func (s *Session) teardown() {
	s.scope.Close()
	s.Box.Close()
	s.Manager.Deactivate()
	s.logger.Info("session closed")
}
