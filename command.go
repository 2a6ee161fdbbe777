package zkattend

import "fmt"

// Command is a protocol command or reply code.
type Command uint16

const (
	CMD_GET_USER    Command = 8
	CMD_OPTIONS_RRQ Command = 11
	CMD_ATTLOG_RRQ  Command = 13

	CMD_CONNECT     Command = 1000
	CMD_EXIT        Command = 1001
	CMD_GET_VERSION Command = 1100

	CMD_PREPARE_DATA Command = 1500
	CMD_DATA         Command = 1501

	CMD_ACK_OK     Command = 5000
	CMD_ACK_ERROR  Command = 5001
	CMD_ACK_DATA   Command = 5002
	CMD_ACK_RETRY  Command = 5003
	CMD_ACK_REPEAT Command = 5004
	CMD_ACK_UNAUTH Command = 5005
)

var commandNames = map[Command]string{
	CMD_GET_USER:     "GET_USER",
	CMD_OPTIONS_RRQ:  "OPTIONS_RRQ",
	CMD_ATTLOG_RRQ:   "ATTLOG_RRQ",
	CMD_CONNECT:      "CONNECT",
	CMD_EXIT:         "EXIT",
	CMD_GET_VERSION:  "GET_VERSION",
	CMD_PREPARE_DATA: "PREPARE_DATA",
	CMD_DATA:         "DATA",
	CMD_ACK_OK:       "ACK_OK",
	CMD_ACK_ERROR:    "ACK_ERROR",
	CMD_ACK_DATA:     "ACK_DATA",
	CMD_ACK_RETRY:    "ACK_RETRY",
	CMD_ACK_REPEAT:   "ACK_REPEAT",
	CMD_ACK_UNAUTH:   "ACK_UNAUTH",
}

// Known reports whether c is one of the codes this package names.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// IsData reports whether c carries one streamed record.
func (c Command) IsData() bool {
	return c == CMD_DATA || c == CMD_ACK_DATA
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(c))
}
