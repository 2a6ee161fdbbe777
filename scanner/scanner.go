// Package scanner sweeps the local /24 for time-attendance terminals.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siwa2904/zkattend"
	"golang.org/x/sync/semaphore"
)

const (
	PrimaryPort   = 4370
	SecondaryPort = 4360

	DefaultConcurrency     = 100
	DefaultPrimaryTimeout  = 300 * time.Millisecond
	DefaultAuxTimeout      = 200 * time.Millisecond
	DefaultIdentifyTimeout = 2 * time.Second
)

// AuxPorts are probed only to enrich OpenPorts.
var AuxPorts = []int{80, 8080}

// probeTarget is the address the UDP socket "connects" to when learning the
// outbound interface. No packet is sent.
var probeTarget = "8.8.8.8:80"

type DialFunc = zkattend.DialFunc

type IdentifyFunc func(ctx context.Context, host string, port int, timeout time.Duration) (*zkattend.DeviceInfo, error)

// Scanner finds devices by TCP reachability on the biometric ports.
// The zero value is not usable; call New.
type Scanner struct {
	Concurrency     int
	PrimaryTimeout  time.Duration
	AuxTimeout      time.Duration
	IdentifyTimeout time.Duration

	Dial      DialFunc
	Identify  IdentifyFunc
	LocalAddr func() (net.IP, error)
	Log       zkattend.Logger
}

// Result is the outcome of one scan. Devices are in completion order.
type Result struct {
	ID         string            `json:"id" yaml:"id"`
	Subnet     string            `json:"subnet" yaml:"subnet"`
	StartedAt  time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time         `json:"finished_at" yaml:"finished_at"`
	Scanned    int               `json:"scanned" yaml:"scanned"`
	Devices    []BiometricDevice `json:"devices" yaml:"devices"`
}

// New returns a Scanner with the default ports, timeouts and ceiling. Its
// Identify runs QuickIdentify over the scanner's own Dial.
func New() *Scanner {
	dialer := &net.Dialer{}
	s := &Scanner{
		Concurrency:     DefaultConcurrency,
		PrimaryTimeout:  DefaultPrimaryTimeout,
		AuxTimeout:      DefaultAuxTimeout,
		IdentifyTimeout: DefaultIdentifyTimeout,
		Dial:            dialer.DialContext,
		LocalAddr:       LocalIPv4,
		Log:             zkattend.DefaultLogger(),
	}
	s.Identify = s.quickIdentify
	return s
}

func (s *Scanner) quickIdentify(ctx context.Context, host string, port int, timeout time.Duration) (*zkattend.DeviceInfo, error) {
	return zkattend.QuickIdentify(ctx, host, port, timeout,
		zkattend.WithDialer(s.Dial),
		zkattend.WithLogger(s.logger()),
	)
}

// LocalIPv4 returns the address of the interface used for outbound traffic.
func LocalIPv4() (net.IP, error) {
	conn, err := net.Dial("udp", probeTarget)
	if err != nil {
		return nil, fmt.Errorf("determine local address: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	ip := addr.IP.To4()
	if ip == nil {
		return nil, errors.New("IPv6 not supported")
	}
	return ip, nil
}

// CandidateHosts lists x.y.z.1 to x.y.z.254 for the /24 containing ip.
func CandidateHosts(ip net.IP) ([]string, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("%v is not an IPv4 address", ip)
	}
	hosts := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		hosts = append(hosts, fmt.Sprintf("%d.%d.%d.%d", ip4[0], ip4[1], ip4[2], i))
	}
	return hosts, nil
}

// Subnet renders the /24 containing ip in CIDR form.
func Subnet(ip net.IP) string {
	ip4 := ip.To4()
	if ip4 == nil {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.0/24", ip4[0], ip4[1], ip4[2])
}

// Scan sweeps the /24 of the local address.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	local, err := s.LocalAddr()
	if err != nil {
		return nil, err
	}
	hosts, err := CandidateHosts(local)
	if err != nil {
		return nil, err
	}

	s.logger().Infof("Scanning network: %s", Subnet(local))
	res, err := s.ScanHosts(ctx, hosts)
	if res != nil {
		res.Subnet = Subnet(local)
	}
	return res, err
}

// ScanHosts probes every host concurrently, at most Concurrency at a time.
// A host that fails any step is left out; it never aborts the scan.
// If ctx is cancelled the devices found so far are returned with ctx.Err().
func (s *Scanner) ScanHosts(ctx context.Context, hosts []string) (*Result, error) {
	res := &Result{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Scanned:   len(hosts),
		Devices:   []BiometricDevice{},
	}

	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	gate := semaphore.NewWeighted(int64(limit))

	found := make(chan BiometricDevice, len(hosts))
	var wg sync.WaitGroup
	for _, host := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			if err := gate.Acquire(ctx, 1); err != nil {
				return
			}
			defer gate.Release(1)

			if dev, ok := s.probeHost(ctx, host); ok {
				found <- dev
			}
		}(host)
	}

	wg.Wait()
	close(found)
	for dev := range found {
		res.Devices = append(res.Devices, dev)
	}
	res.FinishedAt = time.Now()

	s.logger().Infof("[%s] scanned %d hosts, found %d device(s) in %v",
		res.ID, res.Scanned, len(res.Devices), res.FinishedAt.Sub(res.StartedAt).Truncate(time.Millisecond))
	return res, ctx.Err()
}

func (s *Scanner) probeHost(ctx context.Context, host string) (BiometricDevice, bool) {
	var port, other int
	switch {
	case s.reachable(ctx, host, PrimaryPort, s.PrimaryTimeout):
		port, other = PrimaryPort, SecondaryPort
	case s.reachable(ctx, host, SecondaryPort, s.PrimaryTimeout):
		port, other = SecondaryPort, PrimaryPort
	default:
		return BiometricDevice{}, false
	}

	open := []int{port}
	extra := make([]int, 0, len(AuxPorts)+1)
	extra = append(extra, AuxPorts...)
	extra = append(extra, other)
	for _, p := range extra {
		if s.reachable(ctx, host, p, s.AuxTimeout) {
			open = append(open, p)
		}
	}
	sort.Ints(open)

	info, err := s.Identify(ctx, host, port, s.IdentifyTimeout)
	if err != nil {
		s.logger().Debugf("[%s] identify on port %d failed: %v", host, port, err)
		return BiometricDevice{}, false
	}

	dev := newBiometricDevice(host, open, info)
	s.logger().Infof("Biometric device detected: %s", dev)
	return dev, true
}

func (s *Scanner) reachable(ctx context.Context, host string, port int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := s.Dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

var nopLog = zkattend.NewNopLogger()

func (s *Scanner) logger() zkattend.Logger {
	if s.Log == nil {
		return nopLog
	}
	return s.Log
}
