package zkattend

import (
	"encoding/hex"
	"strings"
	"time"

	binarypack "github.com/canhlinh/go-binary-pack"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// statusLabels maps the attendance status byte to its event name.
var statusLabels = [...]string{
	0: "Check In",
	1: "Check Out",
	2: "Break Out",
	3: "Break In",
	4: "OT In",
	5: "OT Out",
}

// StatusLabel returns the event name for a status code, or "Unknown".
func StatusLabel(status uint8) string {
	if int(status) < len(statusLabels) {
		return statusLabels[status]
	}
	return "Unknown"
}

// LoadLocation resolves a timezone name, falling back to time.Local.
func LoadLocation(timezone string) *time.Location {
	if timezone == "" || strings.EqualFold(timezone, "local") {
		return time.Local
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Local
	}

	return location
}

// epochToLocal converts UTC epoch seconds into loc. Epochs outside the civil
// calendar range fall back to the current time.
func epochToLocal(secs int64, loc *time.Location) (time.Time, bool) {
	const maxEpoch = 253402300799 // 9999-12-31T23:59:59Z
	if secs < 0 || secs > maxEpoch {
		return time.Now().In(loc), false
	}
	return time.Unix(secs, 0).UTC().In(loc), true
}

// trimCString cuts b at the first NUL and trims surrounding spaces.
func trimCString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

func hexString(buf []byte) string {
	return hex.EncodeToString(buf)
}

func newBP() *binarypack.BinaryPack {
	return &binarypack.BinaryPack{}
}
