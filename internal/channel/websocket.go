package channel

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

var errStreamClosed = errors.New("websocket stream closed")

// wsStream exposes a websocket connection as the byte stream a STOMP client
// expects. Each Write is sent as one text message; reads run across message
// boundaries.
type wsStream struct {
	conn *websocket.Conn

	reader io.Reader // read side only, owned by the single reader

	wmu sync.Mutex

	once sync.Once
	mu   sync.Mutex
	err  error
	done chan struct{}
}

func newWSStream(conn *websocket.Conn) *wsStream {
	conn.SetReadLimit(maxMessageSize)
	return &wsStream{conn: conn, done: make(chan struct{})}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				s.fail(err)
				return 0, err
			}
			s.reader = r
		}
		n, err := s.reader.Read(p)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			s.fail(err)
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, s.Err()
	default:
	}

	s.wmu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := s.conn.WriteMessage(websocket.TextMessage, p)
	s.wmu.Unlock()
	if err != nil {
		s.fail(err)
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	s.fail(errStreamClosed)
	return nil
}

func (s *wsStream) Done() <-chan struct{} {
	return s.done
}

// Err is the first failure seen on the stream, nil while it is healthy.
func (s *wsStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsStream) fail(err error) {
	s.once.Do(func() {
		if errors.Is(err, net.ErrClosed) {
			err = errStreamClosed
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)

		s.wmu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.wmu.Unlock()
		_ = s.conn.Close()
	})
}
