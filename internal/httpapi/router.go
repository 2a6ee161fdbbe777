// Package httpapi exposes scanning and attendance pulls over HTTP.
package httpapi

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/siwa2904/zkattend"
	"github.com/siwa2904/zkattend/internal/store"
	"github.com/siwa2904/zkattend/scanner"
)

// Scanner runs one subnet sweep.
type Scanner interface {
	Scan(ctx context.Context) (*scanner.Result, error)
}

// Device is the part of *zkattend.Client the handlers use.
type Device interface {
	Connect(ctx context.Context) error
	Disconnect() error
	ListUsers(ctx context.Context) ([]zkattend.User, error)
	FetchAttendance(ctx context.Context) ([]zkattend.AttendanceRecord, error)
}

// DeviceFactory builds a client for host:port.
type DeviceFactory func(host string, port int) Device

type Server struct {
	Scanner   Scanner
	NewDevice DeviceFactory
	Store     *store.Store
	Location  *time.Location
	Log       zkattend.Logger
}

// ClientFactory returns a DeviceFactory producing real protocol clients.
func ClientFactory(timeout time.Duration, timezone string, log zkattend.Logger) DeviceFactory {
	return func(host string, port int) Device {
		return zkattend.NewClient(host,
			zkattend.WithPort(port),
			zkattend.WithTimeout(timeout),
			zkattend.WithTimezone(timezone),
			zkattend.WithLogger(log),
		)
	}
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(s *Server) *chi.Mux {
	if s.Log == nil {
		s.Log = zkattend.DefaultLogger()
	}
	if s.Location == nil {
		s.Location = time.Local
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/scans", func(r chi.Router) {
		r.Post("/", s.handleScan)
		r.Get("/latest", s.handleLatestScan)
	})

	r.Route("/devices/{ip}", func(r chi.Router) {
		r.Get("/users", s.handleUsers)
		r.Get("/attendance", s.handleAttendance)
		r.Get("/attendance/stored", s.handleStoredAttendance)
	})

	return r
}
