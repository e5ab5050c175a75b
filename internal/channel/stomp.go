package channel

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
	"github.com/tidwall/pretty"

	"ycyw-chat/internal/logger"
)

// WebsocketDialer connects to a STOMP broker exposed over a raw websocket
// endpoint. The bearer token goes both on the HTTP upgrade and on CONNECT.
type WebsocketDialer struct {
	url               string
	heartbeatOutgoing time.Duration
	heartbeatIncoming time.Duration
	closeTimeout      time.Duration
	ws                *websocket.Dialer
	logger            *slog.Logger
}

type DialerOption func(*WebsocketDialer)

func WithHeartbeat(outgoing, incoming time.Duration) DialerOption {
	return func(d *WebsocketDialer) {
		d.heartbeatOutgoing = outgoing
		d.heartbeatIncoming = incoming
	}
}

// WithCloseTimeout bounds how long Close waits for the broker's DISCONNECT
// receipt before dropping the socket.
func WithCloseTimeout(t time.Duration) DialerOption {
	return func(d *WebsocketDialer) { d.closeTimeout = t }
}

func WithDialerLogger(l *slog.Logger) DialerOption {
	return func(d *WebsocketDialer) { d.logger = l }
}

func NewWebsocketDialer(rawURL string, opts ...DialerOption) *WebsocketDialer {
	d := &WebsocketDialer{
		url:               rawURL,
		heartbeatOutgoing: 5 * time.Second,
		closeTimeout:      2 * time.Second,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logger.Or(d.logger).With("component", "stomp")
	return d
}

func (d *WebsocketDialer) Dial(ctx context.Context, token string) (Session, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return nil, fmt.Errorf("parsing channel url: %w", err)
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := d.ws.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", d.url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}

	stream := newWSStream(conn)
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(d.heartbeatOutgoing, d.heartbeatIncoming),
		stomp.ConnOpt.Host(u.Hostname()),
	}
	if token != "" {
		opts = append(opts, stomp.ConnOpt.Header("Authorization", "Bearer "+token))
	}
	sc, err := stomp.Connect(stream, opts...)
	if !stop() {
		_ = stream.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("stomp connect: %w", err)
	}

	d.logger.Debug("stomp connected", slog.String("url", d.url), slog.String("version", string(sc.Version())))
	return &stompSession{conn: sc, stream: stream, closeTimeout: d.closeTimeout, logger: d.logger}, nil
}

type stompSession struct {
	conn         *stomp.Conn
	stream       *wsStream
	closeTimeout time.Duration
	logger       *slog.Logger
	closeOnce    sync.Once
}

func (s *stompSession) Send(destination, contentType string, body []byte) error {
	if s.logger.Enabled(context.Background(), slog.LevelDebug) {
		s.logger.Debug("send", logger.Destination(destination), slog.String("body", compact(body)))
	}
	return s.conn.Send(destination, contentType, body)
}

func (s *stompSession) Subscribe(destination string) (Feed, error) {
	sub, err := s.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", destination, err)
	}
	f := &stompFeed{
		sub:  sub,
		out:  make(chan Frame, 16),
		stop: make(chan struct{}),
	}
	go s.forward(f)
	return f, nil
}

// forward copies broker messages onto the feed. It keeps draining after the
// feed is unsubscribed so the STOMP read loop never blocks on us.
func (s *stompSession) forward(f *stompFeed) {
	defer close(f.out)
	for msg := range f.sub.C {
		if msg.Err != nil {
			// ERROR frames end the connection.
			s.logger.Warn("broker error", logger.Err(msg.Err))
			s.stream.fail(msg.Err)
			continue
		}
		if s.logger.Enabled(context.Background(), slog.LevelDebug) {
			s.logger.Debug("recv", logger.Destination(msg.Destination), slog.String("body", compact(msg.Body)))
		}
		frame := Frame{Destination: msg.Destination, ContentType: msg.ContentType, Body: msg.Body}
		select {
		case f.out <- frame:
		case <-f.stop:
		}
	}
}

func (s *stompSession) Done() <-chan struct{} {
	return s.stream.Done()
}

func (s *stompSession) Err() error {
	return s.stream.Err()
}

// Close sends DISCONNECT and waits briefly for the receipt, then drops the
// socket either way.
func (s *stompSession) Close() error {
	s.closeOnce.Do(func() {
		select {
		case <-s.stream.Done():
			return
		default:
		}
		disconnected := make(chan struct{})
		go func() {
			defer close(disconnected)
			if err := s.conn.Disconnect(); err != nil {
				s.logger.Debug("disconnect", logger.Err(err))
			}
		}()
		t := time.NewTimer(s.closeTimeout)
		defer t.Stop()
		select {
		case <-disconnected:
		case <-t.C:
		}
	})
	return s.stream.Close()
}

type stompFeed struct {
	sub  *stomp.Subscription
	out  chan Frame
	stop chan struct{}
	once sync.Once
}

func (f *stompFeed) C() <-chan Frame {
	return f.out
}

func (f *stompFeed) Unsubscribe() error {
	var err error
	f.once.Do(func() {
		close(f.stop)
		if f.sub.Active() {
			err = f.sub.Unsubscribe()
		}
	})
	return err
}

// compact renders a frame body for debug logs, JSON on one line.
func compact(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		trimmed = pretty.Ugly(trimmed)
	}
	return logger.Truncate(string(trimmed), 512)
}
