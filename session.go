package zkattend

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

var (
	KeepAlivePeriod = time.Second * 6
	// DefaultIOTimeout bounds every frame read or write on a steady-state session.
	DefaultIOTimeout = 30 * time.Second
)

// SessionState tracks the lifecycle of one Session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateEstablished
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	default:
		return "disconnected"
	}
}

// Session owns one TCP connection to a device and the framing state bound to
// it. A Session serves one logical operation at a time and must not be used
// from several goroutines at once.
type Session struct {
	conn      net.Conn
	sessionID uint16
	replyID   uint16
	state     SessionState
	timeout   time.Duration
	Log       Logger
}

// DialFunc opens the transport connection. net.Dialer.DialContext fits.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Dial opens a TCP connection to host:port. timeout bounds the connect and,
// afterwards, each frame read or write.
func Dial(ctx context.Context, host string, port int, timeout time.Duration) (*Session, error) {
	dialer := &net.Dialer{KeepAlive: KeepAlivePeriod}
	return dialWith(ctx, dialer.DialContext, host, port, timeout)
}

func dialWith(ctx context.Context, dial DialFunc, host string, port int, timeout time.Duration) (*Session, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s:%d: %v", ErrConnect, host, port, err)
	}
	return NewSession(conn, timeout), nil
}

// NewSession wraps an already connected conn. A zero timeout disables deadlines.
func NewSession(conn net.Conn, timeout time.Duration) *Session {
	return &Session{
		conn:    conn,
		state:   StateConnecting,
		timeout: timeout,
		Log:     DefaultLogger(),
	}
}

func (s *Session) SessionID() uint16    { return s.sessionID }
func (s *Session) ReplyID() uint16      { return s.replyID }
func (s *Session) State() SessionState  { return s.state }
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Handshake sends CONNECT and adopts the session id the device assigns.
func (s *Session) Handshake() error {
	if s.state != StateConnecting {
		return fmt.Errorf("%w: session is %s", ErrHandshakeFailed, s.state)
	}

	s.replyID = 0
	if err := s.Send(CMD_CONNECT, nil); err != nil {
		return err
	}

	raw, err := s.receiveRaw()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	h, err := DecodeHeader(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if h.Command != CMD_ACK_OK {
		return fmt.Errorf("%w: device answered %s", ErrHandshakeFailed, h.Command)
	}

	s.sessionID = h.SessionID
	s.replyID = 1
	s.state = StateEstablished
	s.Log.Debugf("[%s] Connected with session_id %d", s.conn.RemoteAddr(), s.sessionID)
	return nil
}

// Send writes one frame with the current session and reply ids, then
// advances the reply id.
func (s *Session) Send(command Command, payload []byte) error {
	if s.state == StateDisconnected {
		return fmt.Errorf("%w: send %s on closed session", ErrIO, command)
	}

	frame, err := Encode(s.sessionID, command, s.replyID, payload)
	if err != nil {
		return err
	}

	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	s.Log.Debugf("[%s] DataSend: CMD:%s SessionID:%d ReplyID:%d RAW:%s", s.conn.RemoteAddr(), command, s.sessionID, s.replyID, hexString(frame))
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, command, err)
	}

	s.replyID++
	return nil
}

// Receive reads one frame and returns its command and payload.
func (s *Session) Receive() (Command, []byte, error) {
	raw, err := s.receiveRaw()
	if err != nil {
		return 0, nil, err
	}
	return Decode(raw)
}

func (s *Session) receiveRaw() ([]byte, error) {
	if s.state == StateDisconnected {
		return nil, fmt.Errorf("%w: receive on closed session", ErrIO)
	}

	if s.timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	preamble := make([]byte, preambleSize)
	if _, err := io.ReadFull(s.conn, preamble); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrIO, err)
	}

	h, err := DecodeHeader(preamble)
	if err != nil {
		return nil, err
	}
	n, err := unpackWord(preamble[HeaderSize:])
	if err != nil {
		return nil, err
	}
	length := int(n)
	frame := make([]byte, preambleSize+length+checksumSize)
	copy(frame, preamble)
	if _, err := io.ReadFull(s.conn, frame[preambleSize:]); err != nil {
		return nil, fmt.Errorf("%w: read %d payload bytes: %v", ErrIO, length, err)
	}

	s.Log.Debugf("[%s] Response[RAW]: %s", s.conn.RemoteAddr(), hexString(frame))
	if h.Marker != StartMarker || !VerifyChecksum(frame) {
		s.Log.Debugf("[%s] frame failed integrity check, accepting anyway", s.conn.RemoteAddr())
	}
	return frame, nil
}

// Watch drops the connection once ctx is done, failing any pending read or
// write. Calling stop ends the watch.
func (s *Session) Watch(ctx context.Context) (stop func() bool) {
	conn := s.conn
	return context.AfterFunc(ctx, func() {
		conn.Close()
	})
}

// Close sends EXIT without waiting for an answer and releases the
// connection. Calling Close twice is a no-op.
func (s *Session) Close() error {
	if s.state == StateDisconnected {
		return nil
	}
	if err := s.Send(CMD_EXIT, nil); err != nil {
		s.Log.Debugf("[%s] exit not delivered: %v", s.conn.RemoteAddr(), err)
	}
	s.state = StateDisconnected
	return s.conn.Close()
}
