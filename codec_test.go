package zkattend

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	payloads := map[string][]byte{
		"empty":  nil,
		"option": append([]byte("~DeviceName"), 0),
		"large":  bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 700),
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			frame, err := Encode(0x1234, CMD_ATTLOG_RRQ, 7, payload)
			require.NoError(t, err)
			require.Len(t, frame, HeaderSize+2+len(payload)+2)

			cmd, got, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, CMD_ATTLOG_RRQ, cmd)
			assert.Equal(t, len(payload), len(got))
			if len(payload) > 0 {
				assert.Equal(t, payload, got)
			}

			end := len(frame) - 2
			var sum uint16
			for _, b := range frame[:end] {
				sum += uint16(b)
			}
			assert.Equal(t, sum, binary.LittleEndian.Uint16(frame[end:]))
			assert.True(t, VerifyChecksum(frame))
		})
	}
}

func TestEncodeHeaderLayout(t *testing.T) {
	frame, err := Encode(0xBEEF, CMD_CONNECT, 0x0102, []byte{1, 2, 3})
	require.NoError(t, err)

	assert.Equal(t, uint16(StartMarker), binary.LittleEndian.Uint16(frame[0:]))
	assert.Equal(t, uint16(0xBEEF), binary.LittleEndian.Uint16(frame[2:]))
	assert.Equal(t, uint16(CMD_CONNECT), binary.LittleEndian.Uint16(frame[4:]))
	assert.Equal(t, uint16(0x0102), binary.LittleEndian.Uint16(frame[6:]))
	assert.Equal(t, uint16(3), binary.LittleEndian.Uint16(frame[8:]))
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(0, CMD_DATA, 0, make([]byte, USHRT_MAX+1))
	assert.Error(t, err)
}

func TestDecodeMalformed(t *testing.T) {
	frame, err := Encode(1, CMD_DATA, 1, []byte("abcdef"))
	require.NoError(t, err)

	for n := 0; n < HeaderSize; n++ {
		_, _, err := Decode(frame[:n])
		assert.ErrorIs(t, err, ErrMalformedFrame, "len %d", n)
	}
}

func TestDecodeHeaderOnly(t *testing.T) {
	frame, err := Encode(1, CMD_ACK_OK, 1, nil)
	require.NoError(t, err)

	for _, n := range []int{HeaderSize, HeaderSize + 1} {
		cmd, payload, err := Decode(frame[:n])
		require.NoError(t, err, "len %d", n)
		assert.Equal(t, CMD_ACK_OK, cmd)
		assert.Empty(t, payload)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	frame, err := Encode(1, CMD_DATA, 1, []byte("abcdef"))
	require.NoError(t, err)

	// declared length runs past the buffer
	cmd, payload, err := Decode(frame[:HeaderSize+2+3])
	require.NoError(t, err)
	assert.Equal(t, CMD_DATA, cmd)
	assert.Equal(t, []byte("abc"), payload)
	assert.False(t, VerifyChecksum(frame[:HeaderSize+2+3]))
}

func TestDecodeHeader(t *testing.T) {
	frame, err := Encode(0xBEEF, CMD_ACK_OK, 0x0102, []byte{9})
	require.NoError(t, err)

	h, err := DecodeHeader(frame)
	require.NoError(t, err)
	assert.Equal(t, Header{Marker: StartMarker, SessionID: 0xBEEF, Command: CMD_ACK_OK, ReplyID: 0x0102}, h)

	_, err = DecodeHeader(frame[:HeaderSize-1])
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestChecksumWraps(t *testing.T) {
	data := bytes.Repeat([]byte{0xFF}, 300)
	assert.Equal(t, uint16((300*0xFF)%65536), Checksum(data))
	assert.Equal(t, uint16(0), Checksum(nil))
}

func TestVerifyChecksumDetectsCorruption(t *testing.T) {
	frame, err := Encode(9, CMD_DATA, 3, []byte("payload"))
	require.NoError(t, err)

	frame[12] ^= 0x01
	assert.False(t, VerifyChecksum(frame))

	// checksum mismatch does not stop decoding
	cmd, _, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, CMD_DATA, cmd)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "ACK_OK", CMD_ACK_OK.String())
	assert.Equal(t, "ATTLOG_RRQ", CMD_ATTLOG_RRQ.String())
	assert.Equal(t, "UNKNOWN(4242)", Command(4242).String())

	assert.True(t, CMD_ACK_REPEAT.Known())
	assert.False(t, Command(4242).Known())

	assert.True(t, CMD_DATA.IsData())
	assert.True(t, CMD_ACK_DATA.IsData())
	assert.False(t, CMD_PREPARE_DATA.IsData())
}
