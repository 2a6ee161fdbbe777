// Package store keeps scan results and pulled attendance logs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/siwa2904/zkattend"
	"github.com/siwa2904/zkattend/scanner"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS scans (
   id          TEXT PRIMARY KEY,
   subnet      TEXT,
   scanned     INTEGER,
   started_at  DATETIME,
   finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS devices (
   scan_id          TEXT NOT NULL,
   seq              INTEGER NOT NULL,
   ip               TEXT NOT NULL,
   mac              TEXT,
   open_ports       TEXT,
   device_name      TEXT,
   firmware_version TEXT,
   serial_number    TEXT,
   PRIMARY KEY (scan_id, ip)
);
CREATE INDEX IF NOT EXISTS idx_devices_ip ON devices (ip);

CREATE TABLE IF NOT EXISTS attendance (
   device_ip TEXT NOT NULL,
   user_id   INTEGER NOT NULL,
   user_name TEXT,
   ts        BIGINT NOT NULL,
   status    INTEGER,
   punch     INTEGER,
   event     TEXT,
   pulled_at DATETIME DEFAULT CURRENT_TIMESTAMP,
   UNIQUE (device_ip, user_id, ts)
);
CREATE INDEX IF NOT EXISTS idx_attendance_query ON attendance (device_ip, ts);
`

// Open creates the database file if needed and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveScan stores a scan and its devices in completion order.
func (s *Store) SaveScan(ctx context.Context, res *scanner.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scans (id, subnet, scanned, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?)`,
		res.ID, res.Subnet, res.Scanned, res.StartedAt.UTC(), res.FinishedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}

	for i, d := range res.Devices {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO devices (scan_id, seq, ip, mac, open_ports, device_name, firmware_version, serial_number)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			res.ID, i, d.IP, d.MAC, joinPorts(d.OpenPorts),
			nullString(d.DeviceName), nullString(d.FirmwareVersion), nullString(d.SerialNumber),
		); err != nil {
			return fmt.Errorf("insert device %s: %w", d.IP, err)
		}
	}

	return tx.Commit()
}

// LatestScan returns the most recently started scan with its devices.
func (s *Store) LatestScan(ctx context.Context) (*scanner.Result, error) {
	res := &scanner.Result{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, subnet, scanned, started_at, finished_at
		FROM scans ORDER BY started_at DESC LIMIT 1`).Scan(
		&res.ID, &res.Subnet, &res.Scanned, &res.StartedAt, &res.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if res.Devices, err = s.ListDevices(ctx, res.ID); err != nil {
		return nil, err
	}
	return res, nil
}

// ListDevices returns the devices of one scan in completion order.
func (s *Store) ListDevices(ctx context.Context, scanID string) ([]scanner.BiometricDevice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ip, mac, open_ports, device_name, firmware_version, serial_number
		FROM devices WHERE scan_id = ? ORDER BY seq`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []scanner.BiometricDevice{}
	for rows.Next() {
		var (
			d                   scanner.BiometricDevice
			ports               string
			name, fw, serialNum sql.NullString
		)
		if err := rows.Scan(&d.IP, &d.MAC, &ports, &name, &fw, &serialNum); err != nil {
			return nil, err
		}
		if d.OpenPorts, err = splitPorts(ports); err != nil {
			return nil, err
		}
		d.DeviceName = fromNull(name)
		d.FirmwareVersion = fromNull(fw)
		d.SerialNumber = fromNull(serialNum)
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveAttendance stores records pulled from deviceIP. Records already stored
// are skipped; the number of new rows is returned.
func (s *Store) SaveAttendance(ctx context.Context, deviceIP string, records []zkattend.AttendanceRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO attendance (device_ip, user_id, user_name, ts, status, punch, event)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range records {
		result, err := stmt.ExecContext(ctx, deviceIP, r.UserID, r.UserName, r.Timestamp.Unix(), r.Status, r.Punch, r.Event)
		if err != nil {
			return 0, fmt.Errorf("insert attendance: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListAttendance returns stored records for deviceIP with from <= ts < to,
// oldest first. A zero bound is open.
func (s *Store) ListAttendance(ctx context.Context, deviceIP string, from, to time.Time, loc *time.Location) ([]zkattend.AttendanceRecord, error) {
	query := `SELECT user_id, user_name, ts, status, punch, event FROM attendance WHERE device_ip = ?`
	args := []interface{}{deviceIP}
	if !from.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, from.Unix())
	}
	if !to.IsZero() {
		query += ` AND ts < ?`
		args = append(args, to.Unix())
	}
	query += ` ORDER BY ts, user_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if loc == nil {
		loc = time.Local
	}
	out := []zkattend.AttendanceRecord{}
	for rows.Next() {
		var (
			r  zkattend.AttendanceRecord
			ts int64
		)
		if err := rows.Scan(&r.UserID, &r.UserName, &ts, &r.Status, &r.Punch, &r.Event); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(ts, 0).In(loc)
		r.Date = r.Timestamp.Format(zkattend.DateLayout)
		r.Time = r.Timestamp.Format(zkattend.TimeLayout)
		out = append(out, r)
	}
	return out, rows.Err()
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

func splitPorts(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad port list %q: %w", s, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}
