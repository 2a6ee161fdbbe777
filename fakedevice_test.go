package zkattend

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type frame struct {
	cmd     Command
	payload []byte
}

// fakeDevice is an in-process terminal on 127.0.0.1. CONNECT is answered
// with ACK_OK carrying sessionID, EXIT closes the connection, and every other
// command is answered by respond.
type fakeDevice struct {
	t         *testing.T
	ln        net.Listener
	sessionID uint16
	respond   func(cmd Command, payload []byte) []frame

	mu       sync.Mutex
	received []frame
	replyIDs []uint16
}

func newFakeDevice(t *testing.T, respond func(cmd Command, payload []byte) []frame) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &fakeDevice{t: t, ln: ln, sessionID: 0x1234, respond: respond}
	t.Cleanup(func() { ln.Close() })
	go d.serve()
	return d
}

func (d *fakeDevice) host() string { return "127.0.0.1" }

func (d *fakeDevice) port() int {
	_, p, _ := net.SplitHostPort(d.ln.Addr().String())
	port, _ := strconv.Atoi(p)
	return port
}

func (d *fakeDevice) client(opts ...Option) *Client {
	opts = append([]Option{WithPort(d.port()), WithTimeout(2 * time.Second), WithLogger(NewNopLogger())}, opts...)
	return NewClient(d.host(), opts...)
}

func (d *fakeDevice) commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Command, 0, len(d.received))
	for _, f := range d.received {
		out = append(out, f.cmd)
	}
	return out
}

func (d *fakeDevice) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		go d.handle(conn)
	}
}

func (d *fakeDevice) handle(conn net.Conn) {
	defer conn.Close()
	for {
		raw, err := readWireFrame(conn)
		if err != nil {
			return
		}
		cmd, payload, err := Decode(raw)
		if err != nil {
			return
		}

		d.mu.Lock()
		d.received = append(d.received, frame{cmd: cmd, payload: payload})
		d.replyIDs = append(d.replyIDs, binary.LittleEndian.Uint16(raw[6:8]))
		d.mu.Unlock()

		var out []frame
		switch cmd {
		case CMD_CONNECT:
			out = []frame{{cmd: CMD_ACK_OK}}
		case CMD_EXIT:
			return
		default:
			if d.respond != nil {
				out = d.respond(cmd, payload)
			}
		}
		for _, f := range out {
			b, err := Encode(d.sessionID, f.cmd, 0, f.payload)
			if err != nil {
				return
			}
			if _, err := conn.Write(b); err != nil {
				return
			}
		}
	}
}

func readWireFrame(r io.Reader) ([]byte, error) {
	pre := make([]byte, preambleSize)
	if _, err := io.ReadFull(r, pre); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(pre[HeaderSize:]))
	raw := make([]byte, preambleSize+n+checksumSize)
	copy(raw, pre)
	if _, err := io.ReadFull(r, raw[preambleSize:]); err != nil {
		return nil, err
	}
	return raw, nil
}

func userPayload(name string) []byte {
	p := make([]byte, userRecordSize)
	copy(p[8:40], name)
	return p
}

func attendancePayload(userID, epoch uint32, status, punch uint8) []byte {
	p := make([]byte, 40)
	binary.LittleEndian.PutUint32(p[0:], userID)
	binary.LittleEndian.PutUint32(p[4:], epoch)
	p[8] = status
	p[9] = punch
	return p
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-accepted
	require.NotNil(t, server)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}
