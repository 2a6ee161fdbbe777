package zkattend

import (
	"fmt"
	"time"
)

// User is one enrolled user as enumerated by ListUsers.
type User struct {
	UID        uint32 `json:"uid" yaml:"uid"`                 // 1-based rank of arrival in the GET_USER stream
	Name       string `json:"name" yaml:"name"`               // NUL padding trimmed
	ExternalID string `json:"external_id" yaml:"external_id"` // decimal UID, used as lookup key
}

// AttendanceRecord is one punch read from the attendance log.
type AttendanceRecord struct {
	UserID    uint32    `json:"user_id" yaml:"user_id"`
	UserName  string    `json:"user_name" yaml:"user_name"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Status    uint8     `json:"status" yaml:"status"` // raw vendor code
	Punch     uint8     `json:"punch" yaml:"punch"`   // raw vendor code
	Date      string    `json:"date" yaml:"date"`
	Time      string    `json:"time" yaml:"time"`
	Event     string    `json:"event" yaml:"event"`
}

// DeviceInfo holds the identification fields returned by QuickIdentify.
// Empty strings mean the device did not report the field.
type DeviceInfo struct {
	DeviceName      string `json:"device_name,omitempty" yaml:"device_name,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty" yaml:"firmware_version,omitempty"`
	SerialNumber    string `json:"serial_number,omitempty" yaml:"serial_number,omitempty"`
}

// Empty reports whether no field was populated.
func (d DeviceInfo) Empty() bool {
	return d.DeviceName == "" && d.FirmwareVersion == "" && d.SerialNumber == ""
}

func (r AttendanceRecord) String() string {
	return fmt.Sprintf("%d %s %s %s %s", r.UserID, r.UserName, r.Date, r.Time, r.Event)
}
