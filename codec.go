package zkattend

import (
	"fmt"
)

const (
	// StartMarker opens every frame on the wire.
	StartMarker = 0x5050

	// HeaderSize covers marker, session id, command and reply id.
	HeaderSize = 8
	// lengthSize is the transport payload-length word that follows the header.
	lengthSize   = 2
	preambleSize = HeaderSize + lengthSize
	checksumSize = 2

	USHRT_MAX = 65535
)

var headerPad = []string{"H", "H", "H", "H"}

// Checksum returns the unsigned sum of every byte truncated to 16 bits.
func Checksum(b []byte) uint16 {
	var sum uint16
	for _, c := range b {
		sum += uint16(c)
	}
	return sum
}

// Encode builds one frame:
//
//	marker | session | command | reply | length | payload | checksum
//
// All words are little-endian uint16. The checksum is the truncated sum of
// every byte that precedes it.
func Encode(sessionID uint16, command Command, replyID uint16, payload []byte) ([]byte, error) {
	if len(payload) > USHRT_MAX {
		return nil, fmt.Errorf("payload too large: %d bytes", len(payload))
	}

	header, err := newBP().Pack(headerPad, []interface{}{StartMarker, int(sessionID), int(command), int(replyID)})
	if err != nil {
		return nil, err
	}

	length, err := newBP().Pack([]string{"H"}, []interface{}{len(payload)})
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, preambleSize+len(payload)+checksumSize)
	frame = append(frame, header...)
	frame = append(frame, length...)
	frame = append(frame, payload...)

	trailer, err := newBP().Pack([]string{"H"}, []interface{}{int(Checksum(frame))})
	if err != nil {
		return nil, err
	}
	return append(frame, trailer...), nil
}

// Header is the fixed 8-byte lead of a frame.
type Header struct {
	Marker    uint16
	SessionID uint16
	Command   Command
	ReplyID   uint16
}

// DecodeHeader unpacks the first HeaderSize bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, need %d", ErrMalformedFrame, len(b), HeaderSize)
	}
	v, err := newBP().UnPack(headerPad, b[:HeaderSize])
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return Header{
		Marker:    uint16(v[0].(int)),
		SessionID: uint16(v[1].(int)),
		Command:   Command(v[2].(int)),
		ReplyID:   uint16(v[3].(int)),
	}, nil
}

// Decode reads the header of b and returns the command and payload it carries.
// Only a buffer shorter than the header is malformed: a bare header decodes
// to an empty payload, and a payload cut short yields the bytes present.
func Decode(b []byte) (Command, []byte, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return 0, nil, err
	}
	if len(b) < preambleSize {
		return h.Command, nil, nil
	}

	length, err := unpackWord(b[HeaderSize:preambleSize])
	if err != nil {
		return 0, nil, err
	}
	end := preambleSize + int(length)
	if end > len(b) {
		end = len(b)
	}
	return h.Command, b[preambleSize:end], nil
}

// VerifyChecksum reports whether the trailing checksum of a complete frame
// matches its contents.
func VerifyChecksum(b []byte) bool {
	if len(b) < preambleSize {
		return false
	}
	length, err := unpackWord(b[HeaderSize:preambleSize])
	if err != nil {
		return false
	}
	end := preambleSize + int(length)
	if len(b) < end+checksumSize {
		return false
	}
	sum, err := unpackWord(b[end : end+checksumSize])
	if err != nil {
		return false
	}
	return sum == Checksum(b[:end])
}

// unpackWord reads one little-endian uint16.
func unpackWord(b []byte) (uint16, error) {
	v, err := newBP().UnPack([]string{"H"}, b)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return uint16(v[0].(int)), nil
}
