package scanner

import (
	"fmt"
	"strings"

	"github.com/siwa2904/zkattend"
)

// UnknownMAC is reported for every device; the scanner does not do
// link-layer lookups.
const UnknownMAC = "Unknown"

// BiometricDevice is one host that answered on a biometric port and
// completed the identification probe.
type BiometricDevice struct {
	IP              string  `json:"ip" yaml:"ip"`
	MAC             string  `json:"mac" yaml:"mac"`
	OpenPorts       []int   `json:"open_ports" yaml:"open_ports"`
	DeviceName      *string `json:"device_name,omitempty" yaml:"device_name,omitempty"`
	FirmwareVersion *string `json:"firmware_version,omitempty" yaml:"firmware_version,omitempty"`
	SerialNumber    *string `json:"serial_number,omitempty" yaml:"serial_number,omitempty"`
}

func newBiometricDevice(ip string, openPorts []int, info *zkattend.DeviceInfo) BiometricDevice {
	dev := BiometricDevice{
		IP:        ip,
		MAC:       UnknownMAC,
		OpenPorts: openPorts,
	}
	if info != nil {
		dev.DeviceName = optional(info.DeviceName)
		dev.FirmwareVersion = optional(info.FirmwareVersion)
		dev.SerialNumber = optional(info.SerialNumber)
	}
	return dev
}

// HasPort reports whether port was observed open.
func (d BiometricDevice) HasPort(port int) bool {
	for _, p := range d.OpenPorts {
		if p == port {
			return true
		}
	}
	return false
}

// BiometricPort returns the protocol port to connect to, preferring 4370.
func (d BiometricDevice) BiometricPort() int {
	if d.HasPort(PrimaryPort) || !d.HasPort(SecondaryPort) {
		return PrimaryPort
	}
	return SecondaryPort
}

func (d BiometricDevice) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) ports %v", d.IP, d.MAC, d.OpenPorts)
	if d.DeviceName != nil {
		fmt.Fprintf(&b, " name=%q", *d.DeviceName)
	}
	if d.FirmwareVersion != nil {
		fmt.Fprintf(&b, " firmware=%q", *d.FirmwareVersion)
	}
	if d.SerialNumber != nil {
		fmt.Fprintf(&b, " serial=%q", *d.SerialNumber)
	}
	return b.String()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
