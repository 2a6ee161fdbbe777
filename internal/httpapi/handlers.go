package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/siwa2904/zkattend"
	"github.com/siwa2904/zkattend/internal/store"
)

type attendanceResponse struct {
	Device   string                      `json:"device"`
	Count    int                         `json:"count"`
	Inserted int                         `json:"inserted"`
	Records  []zkattend.AttendanceRecord `json:"records"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.Scanner == nil {
		respondWithError(w, http.StatusServiceUnavailable, "scanner not configured")
		return
	}

	res, err := s.Scanner.Scan(r.Context())
	if err != nil {
		s.Log.Errorf("scan failed: %v", err)
		respondWithError(w, statusFor(err), err.Error())
		return
	}

	if s.Store != nil {
		if err := s.Store.SaveScan(r.Context(), res); err != nil {
			s.Log.Errorf("[%s] save scan: %v", res.ID, err)
			respondWithError(w, http.StatusInternalServerError, "failed to save scan")
			return
		}
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (s *Server) handleLatestScan(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		respondWithError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}

	res, err := s.Store.LatestScan(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "no scan recorded")
		return
	}
	if err != nil {
		s.Log.Errorf("latest scan: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to load scan")
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	dev, host, ok := s.device(w, r)
	if !ok {
		return
	}

	if err := dev.Connect(r.Context()); err != nil {
		s.Log.Errorf("[%s] connect: %v", host, err)
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	defer dev.Disconnect()

	users, err := dev.ListUsers(r.Context())
	if err != nil {
		s.Log.Errorf("[%s] list users: %v", host, err)
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, users)
}

func (s *Server) handleAttendance(w http.ResponseWriter, r *http.Request) {
	dev, host, ok := s.device(w, r)
	if !ok {
		return
	}

	records, err := dev.FetchAttendance(r.Context())
	if err != nil {
		s.Log.Errorf("[%s] fetch attendance: %v", host, err)
		respondWithError(w, statusFor(err), err.Error())
		return
	}

	resp := attendanceResponse{Device: host, Count: len(records), Records: records}
	if s.Store != nil {
		n, err := s.Store.SaveAttendance(r.Context(), host, records)
		if err != nil {
			s.Log.Errorf("[%s] save attendance: %v", host, err)
			respondWithError(w, http.StatusInternalServerError, "failed to save attendance")
			return
		}
		resp.Inserted = n
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// handleStoredAttendance serves previously pulled records. from and to are
// calendar dates (2006-01-02), both inclusive.
func (s *Server) handleStoredAttendance(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		respondWithError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	host, ok := hostParam(w, r)
	if !ok {
		return
	}

	var from, to time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.ParseInLocation(zkattend.DateLayout, v, s.Location)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid from date")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.ParseInLocation(zkattend.DateLayout, v, s.Location)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid to date")
			return
		}
		to = t.AddDate(0, 0, 1)
	}

	records, err := s.Store.ListAttendance(r.Context(), host, from, to, s.Location)
	if err != nil {
		s.Log.Errorf("[%s] list stored attendance: %v", host, err)
		respondWithError(w, http.StatusInternalServerError, "failed to load attendance")
		return
	}
	respondWithJSON(w, http.StatusOK, attendanceResponse{Device: host, Count: len(records), Records: records})
}

// device validates the {ip} and ?port= parameters and builds a client.
func (s *Server) device(w http.ResponseWriter, r *http.Request) (Device, string, bool) {
	if s.NewDevice == nil {
		respondWithError(w, http.StatusServiceUnavailable, "device client not configured")
		return nil, "", false
	}
	host, ok := hostParam(w, r)
	if !ok {
		return nil, "", false
	}

	port := zkattend.DefaultPort
	if v := r.URL.Query().Get("port"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > 65535 {
			respondWithError(w, http.StatusBadRequest, "invalid port")
			return nil, "", false
		}
		port = p
	}
	return s.NewDevice(host, port), host, true
}

func hostParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	ip := net.ParseIP(chi.URLParam(r, "ip"))
	if ip == nil || ip.To4() == nil {
		respondWithError(w, http.StatusBadRequest, "invalid device address")
		return "", false
	}
	return ip.To4().String(), true
}

// statusFor maps device and transport failures to a gateway status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, zkattend.ErrConnect),
		errors.Is(err, zkattend.ErrHandshakeFailed),
		errors.Is(err, zkattend.ErrIO),
		errors.Is(err, zkattend.ErrMalformedFrame),
		errors.Is(err, zkattend.ErrDevice):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondWithJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}
