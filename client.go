package zkattend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultPort = 4370

	userRecordSize       = 72
	attendanceRecordSize = 16
)

// Client talks to one device. Operations are serialized: the device answers
// exactly one outstanding command at a time.
type Client struct {
	mu      sync.Mutex
	host    string
	port    int
	timeout time.Duration
	loc     *time.Location
	dial    DialFunc
	session *Session
	Log     Logger

	// abort cancels the operation holding mu, if any.
	abortMu sync.Mutex
	abort   context.CancelFunc
}

type Option func(*Client)

// WithPort overrides the default device port 4370.
func WithPort(port int) Option {
	return func(c *Client) { c.port = port }
}

// WithTimeout sets the connect and per-frame I/O timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithTimezone sets the zone attendance timestamps are rendered in.
func WithTimezone(timezone string) Option {
	return func(c *Client) { c.loc = LoadLocation(timezone) }
}

func WithLogger(l Logger) Option {
	return func(c *Client) { c.Log = l }
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) { c.dial = dial }
}

// NewClient returns an unconnected client for the device at host.
func NewClient(host string, opts ...Option) *Client {
	c := &Client{
		host:    host,
		port:    DefaultPort,
		timeout: DefaultIOTimeout,
		loc:     time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Log == nil {
		c.Log = DefaultLogger()
	}
	if c.dial == nil {
		dialer := &net.Dialer{KeepAlive: KeepAlivePeriod}
		c.dial = dialer.DialContext
	}
	return c
}

func (c *Client) Host() string { return c.host }
func (c *Client) Port() int    { return c.port }

// Connect dials the device and performs the CONNECT handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.Log.Error(c.host, " already connected")
		return nil
	}

	sess, err := dialWith(ctx, c.dial, c.host, c.port, c.timeout)
	if err != nil {
		return err
	}
	sess.Log = c.Log

	stop := sess.Watch(ctx)
	err = sess.Handshake()
	stop()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		sess.Close()
		return abandoned(ctx, err)
	}

	c.session = sess
	c.Log.Infof("[%s:%d] Connected with session_id %d", c.host, c.port, sess.SessionID())
	return nil
}

// Disconnect ends the exchange and closes the connection. An operation in
// progress is abandoned first.
func (c *Client) Disconnect() error {
	c.abortMu.Lock()
	interrupted := c.abort != nil
	if interrupted {
		c.abort()
	}
	c.abortMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		if interrupted {
			return nil
		}
		return errors.New("already disconnected")
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// ListUsers enumerates the enrolled users. UIDs are assigned by arrival order.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, done := c.begin(ctx)
	defer done()

	users := []User{}
	_, err := c.stream(ctx, CMD_GET_USER, nil, func(payload []byte) error {
		if len(payload) < userRecordSize {
			c.Log.Debugf("[%s] short user record (%d bytes) skipped", c.host, len(payload))
			return nil
		}
		users = append(users, parseUser(uint32(len(users)+1), payload))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// GetAttendance reads the attendance log. Names are resolved against users.
func (c *Client) GetAttendance(ctx context.Context, users []User) ([]AttendanceRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, done := c.begin(ctx)
	defer done()

	names := make(map[uint32]string, len(users))
	for _, u := range users {
		names[u.UID] = u.Name
	}

	records := []AttendanceRecord{}
	_, err := c.stream(ctx, CMD_ATTLOG_RRQ, nil, func(payload []byte) error {
		if len(payload) < attendanceRecordSize {
			c.Log.Debugf("[%s] short attendance record (%d bytes) skipped", c.host, len(payload))
			return nil
		}
		rec, err := c.parseAttendance(payload, names)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Identify asks an established session for its name, firmware version and
// serial number. Queries the device rejects leave the field empty.
func (c *Client) Identify(ctx context.Context) (*DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, done := c.begin(ctx)
	defer done()

	info := &DeviceInfo{}
	var err error
	if info.DeviceName, err = c.queryOption(ctx, "~DeviceName"); err != nil {
		return nil, err
	}
	if info.FirmwareVersion, err = c.queryString(ctx, CMD_GET_VERSION, nil); err != nil {
		return nil, err
	}
	if info.SerialNumber, err = c.queryOption(ctx, "~SerialNumber"); err != nil {
		return nil, err
	}
	return info, nil
}

// FetchAttendance runs connect, list users, read log and disconnect against
// the client's device.
func (c *Client) FetchAttendance(ctx context.Context) ([]AttendanceRecord, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := c.Disconnect(); err != nil {
			c.Log.Debugf("[%s] disconnect: %v", c.host, err)
		}
	}()

	users, err := c.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	c.Log.Infof("[%s] Total users: %d", c.host, len(users))

	records, err := c.GetAttendance(ctx, users)
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	c.Log.Infof("[%s] Total attendance logs: %d", c.host, len(records))
	return records, nil
}

// QuickIdentify connects to host:port, identifies the device and disconnects,
// all within timeout. Cancelling ctx drops the connection at once.
func QuickIdentify(ctx context.Context, host string, port int, timeout time.Duration, opts ...Option) (*DeviceInfo, error) {
	parent := ctx
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	opts = append([]Option{WithPort(port), WithTimeout(timeout)}, opts...)
	c := NewClient(host, opts...)

	sess, err := dialWith(ctx, c.dial, host, c.port, timeout)
	if err != nil {
		return nil, abandoned(parent, err)
	}
	sess.Log = c.Log
	// one absolute deadline for the whole probe instead of per-frame timeouts
	sess.timeout = 0
	if err := sess.conn.SetDeadline(deadline); err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	stop := sess.Watch(ctx)
	err = sess.Handshake()
	stop()
	if err != nil {
		sess.Close()
		return nil, abandoned(parent, err)
	}

	c.session = sess
	defer c.Disconnect()
	return c.Identify(ctx)
}

// begin derives the context of one operation so Disconnect can cancel it.
// The caller must hold c.mu.
func (c *Client) begin(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.abortMu.Lock()
	c.abort = cancel
	c.abortMu.Unlock()

	return ctx, func() {
		c.abortMu.Lock()
		c.abort = nil
		c.abortMu.Unlock()
		cancel()
	}
}

// stream sends command and feeds every DATA payload to onData until the
// device ends the reply with ACK_OK or ACK_ERROR. The ACK_OK payload is
// returned. If ctx ends first the connection is dropped.
func (c *Client) stream(ctx context.Context, command Command, payload []byte, onData func([]byte) error) ([]byte, error) {
	if c.session == nil {
		return nil, fmt.Errorf("%w: not connected", ErrIO)
	}
	if err := ctx.Err(); err != nil {
		return nil, c.drop(ctx, err)
	}
	stop := c.session.Watch(ctx)
	defer stop()

	if err := c.session.Send(command, payload); err != nil {
		return nil, c.drop(ctx, err)
	}

	for {
		cmd, data, err := c.session.Receive()
		if err != nil {
			return nil, c.drop(ctx, err)
		}

		switch {
		case cmd.IsData():
			if err := onData(data); err != nil {
				return nil, err
			}
		case cmd == CMD_ACK_OK:
			return data, nil
		case cmd == CMD_ACK_ERROR:
			return nil, &DeviceError{Command: command}
		case !cmd.Known():
			c.Log.Debugf("[%s] ignoring unknown frame %s during %s", c.host, cmd, command)
		default:
			c.Log.Debugf("[%s] ignoring %s during %s", c.host, cmd, command)
		}
	}
}

// request sends command and returns the payload of the terminating ACK_OK,
// or of the first DATA frame.
func (c *Client) request(ctx context.Context, command Command, payload []byte) ([]byte, error) {
	var reply []byte
	ack, err := c.stream(ctx, command, payload, func(data []byte) error {
		if reply == nil {
			reply = data
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reply == nil {
		reply = ack
	}
	return reply, nil
}

func (c *Client) queryString(ctx context.Context, command Command, payload []byte) (string, error) {
	reply, err := c.request(ctx, command, payload)
	if errors.Is(err, ErrDevice) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return trimCString(reply), nil
}

// queryOption reads one "~Key" device option. Replies look like "~Key=value".
func (c *Client) queryOption(ctx context.Context, key string) (string, error) {
	value, err := c.queryString(ctx, CMD_OPTIONS_RRQ, append([]byte(key), 0))
	if err != nil || value == "" {
		return "", err
	}
	if i := strings.IndexByte(value, '='); i >= 0 {
		value = strings.TrimSpace(value[i+1:])
	}
	return value, nil
}

// drop tears the connection down after a transport failure or an abandoned
// operation.
func (c *Client) drop(ctx context.Context, err error) error {
	if c.session != nil {
		c.session.state = StateDisconnected
		c.session.conn.Close()
		c.session = nil
	}
	return abandoned(ctx, err)
}

// abandoned reports a failure caused by ctx ending as ErrIO carrying ctx.Err().
func abandoned(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: operation abandoned: %w", ErrIO, ctxErr)
	}
	return err
}

func parseUser(uid uint32, payload []byte) User {
	name := trimCString(payload[8:40])
	if name == "" {
		name = fmt.Sprintf("User %d", uid)
	}
	return User{
		UID:        uid,
		Name:       name,
		ExternalID: strconv.FormatUint(uint64(uid), 10),
	}
}

func (c *Client) parseAttendance(payload []byte, names map[uint32]string) (AttendanceRecord, error) {
	v, err := newBP().UnPack([]string{"I", "I", "B", "B"}, payload[:10])
	if err != nil {
		return AttendanceRecord{}, fmt.Errorf("%w: attendance record: %v", ErrMalformedFrame, err)
	}

	userID := uint32(v[0].(int))
	status := uint8(v[2].(int))

	ts, ok := epochToLocal(int64(uint32(v[1].(int))), c.loc)
	if !ok {
		c.Log.Debugf("[%s] attendance epoch %d out of range, using now", c.host, v[1])
	}

	name, found := names[userID]
	if !found {
		name = fmt.Sprintf("Unknown (ID: %d)", userID)
	}

	return AttendanceRecord{
		UserID:    userID,
		UserName:  name,
		Timestamp: ts,
		Status:    status,
		Punch:     uint8(v[3].(int)),
		Date:      ts.Format(DateLayout),
		Time:      ts.Format(TimeLayout),
		Event:     StatusLabel(status),
	}, nil
}
