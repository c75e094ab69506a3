package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrTimeout is returned by Recv when no message arrived within the
	// given window.
	ErrTimeout = errors.New("session: read timeout")

	// ErrClosed is returned by Recv once the service has closed the
	// connection normally.
	ErrClosed = errors.New("session: connection closed")
)

const closeStreamMessage = `{"type":"CloseStream"}`

// Config describes the target streaming endpoint.
type Config struct {
	Endpoint   string // base URL, e.g. "wss://api.deepgram.com"
	APIKey     string
	Model      string
	Encoding   string
	SampleRate int
	Channels   int

	HandshakeTimeout time.Duration
}

// URL builds the full websocket URL with query parameters.
func (c Config) URL() (string, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", c.Endpoint, err)
	}
	u.Path = "/v2/listen"

	q := u.Query()
	q.Set("model", c.Model)
	q.Set("sample_rate", strconv.Itoa(c.SampleRate))
	q.Set("encoding", c.Encoding)
	if c.Channels > 1 {
		q.Set("channels", strconv.Itoa(c.Channels))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Session is one live websocket connection to the service. SendBinary and
// SendCloseStream may be called from one goroutine concurrent with Recv on
// another; Session serializes writes internally.
type Session struct {
	conn      *websocket.Conn
	requestID string

	writeMu sync.Mutex
	once    sync.Once
}

// Dial opens a websocket connection using token authentication and returns
// the established session. The service's request id, if present in the
// handshake response, is available via RequestID.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	wsURL, err := cfg.URL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Token "+cfg.APIKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to connect to %s (status %d): %w", cfg.Endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Endpoint, err)
	}

	s := &Session{conn: conn}
	if resp != nil {
		s.requestID = resp.Header.Get("Dg-Request-Id")
		resp.Body.Close()
	}
	return s, nil
}

// RequestID returns the service-assigned request id from the handshake, or ""
// if the service did not send one.
func (s *Session) RequestID() string {
	return s.requestID
}

// SendBinary sends one PCM chunk as a binary message.
func (s *Session) SendBinary(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// SendCloseStream tells the service that no more audio is coming, so it can
// flush any pending results before closing.
func (s *Session) SendCloseStream() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(closeStreamMessage)); err != nil {
		return fmt.Errorf("failed to send close stream: %w", err)
	}
	return nil
}

// Recv waits up to timeout for the next message from the service. It returns
// ErrTimeout when the window elapses with no traffic and ErrClosed once the
// service has shut the connection down normally.
func (s *Session) Recv(timeout time.Duration) ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrTimeout
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return msg, nil
}

// Close tears the connection down. It attempts a clean close handshake first
// and is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}
