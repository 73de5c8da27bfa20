// Package storage provides SQLite-backed persistence for telemetry records
// and detector cooldown state.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/motionlab-io/motiond/internal/models"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when an append collides with an existing
	// idempotency key. The caller resolves it by looking up the existing row.
	ErrDuplicateKey = errors.New("duplicate idempotency key")
)

// Store wraps a SQLite database. The telemetry table is append-only: rows
// are inserted, never updated, and queries never reorder a device's
// received_at sequence.
type Store struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/motiond/data.db.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "motiond", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS telemetry (
			id              TEXT PRIMARY KEY,
			dedupe_key      TEXT NOT NULL UNIQUE,
			device_id       TEXT NOT NULL,
			kind            TEXT NOT NULL,
			magnitude       REAL NOT NULL,
			accel_x         REAL NOT NULL,
			accel_y         REAL NOT NULL,
			accel_z         REAL NOT NULL,
			gyro_x          REAL NOT NULL DEFAULT 0,
			gyro_y          REAL NOT NULL DEFAULT 0,
			gyro_z          REAL NOT NULL DEFAULT 0,
			activity        TEXT NOT NULL,
			vibration_level TEXT NOT NULL,
			battery_level   INTEGER NOT NULL,
			latitude        REAL NOT NULL DEFAULT 0,
			longitude       REAL NOT NULL DEFAULT 0,
			captured_at     INTEGER NOT NULL,
			received_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_device_time ON telemetry(device_id, received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_received_at ON telemetry(received_at DESC)`,
		`CREATE TABLE IF NOT EXISTS detector_state (
			device_id       TEXT PRIMARY KEY,
			cooldown_until  INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append inserts a record. It never overwrites: a collision on the
// idempotency key returns ErrDuplicateKey.
func (s *Store) Append(record *models.TelemetryRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	_, err := s.db.Exec(`
		INSERT INTO telemetry
			(id, dedupe_key, device_id, kind, magnitude,
			 accel_x, accel_y, accel_z, gyro_x, gyro_y, gyro_z,
			 activity, vibration_level, battery_level, latitude, longitude,
			 captured_at, received_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		record.ID, record.Key(), record.DeviceID, string(record.Kind), record.Magnitude,
		record.Acceleration.X, record.Acceleration.Y, record.Acceleration.Z,
		record.Gyroscope.X, record.Gyroscope.Y, record.Gyroscope.Z,
		record.Activity, string(record.Vibration), record.BatteryLevel,
		record.Location.Latitude, record.Location.Longitude,
		record.CapturedAt.UnixNano(), record.ReceivedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// GetByKey looks up the record stored under an idempotency key.
func (s *Store) GetByKey(key string) (*models.TelemetryRecord, error) {
	row := s.db.QueryRow(`SELECT `+recordCols+` FROM telemetry WHERE dedupe_key = ?`, key)
	r, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return r, nil
}

// RangeQuery returns records whose received_at falls in [start, end),
// ordered by received_at ascending. An empty deviceID matches all devices.
func (s *Store) RangeQuery(deviceID string, start, end time.Time) ([]models.TelemetryRecord, error) {
	query := `SELECT ` + recordCols + ` FROM telemetry WHERE received_at >= ? AND received_at < ?`
	args := []any{start.UnixNano(), end.UnixNano()}
	if deviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY received_at ASC, rowid ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query range: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Recent returns up to limit of the newest records at or after since,
// ordered by received_at ascending. The scan walks the recency index
// backwards before the result is flipped into chronological order.
func (s *Store) Recent(deviceID string, since time.Time, limit int) ([]models.TelemetryRecord, error) {
	query := `SELECT ` + recordCols + ` FROM telemetry WHERE 1=1`
	var args []any
	if !since.IsZero() {
		query += ` AND received_at >= ?`
		args = append(args, since.UnixNano())
	}
	if deviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY received_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent: %w", err)
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Stats folds magnitude aggregates over [start, end). An empty window
// yields all zeroes.
func (s *Store) Stats(deviceID string, start, end time.Time) (models.WindowStats, error) {
	query := `SELECT COUNT(*),
		COALESCE(AVG(magnitude), 0),
		COALESCE(MIN(magnitude), 0),
		COALESCE(MAX(magnitude), 0)
		FROM telemetry WHERE received_at >= ? AND received_at < ?`
	args := []any{start.UnixNano(), end.UnixNano()}
	if deviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, deviceID)
	}

	stats := models.WindowStats{WindowStart: start, WindowEnd: end}
	err := s.db.QueryRow(query, args...).Scan(
		&stats.Count, &stats.AvgMagnitude, &stats.MinMagnitude, &stats.MaxMagnitude,
	)
	if err != nil {
		return models.WindowStats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}

// DeleteAll clears the telemetry table. Idempotent.
func (s *Store) DeleteAll() error {
	if _, err := s.db.Exec(`DELETE FROM telemetry`); err != nil {
		return fmt.Errorf("failed to clear telemetry: %w", err)
	}
	return nil
}

// SaveCooldown checkpoints a device's cooldown deadline.
func (s *Store) SaveCooldown(deviceID string, until time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO detector_state (device_id, cooldown_until, updated_at)
		VALUES (?,?,?)`,
		deviceID, until.UnixNano(), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save cooldown: %w", err)
	}
	return nil
}

// LoadCooldowns returns all persisted cooldown deadlines.
func (s *Store) LoadCooldowns() (map[string]time.Time, error) {
	rows, err := s.db.Query(`SELECT device_id, cooldown_until FROM detector_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cooldowns: %w", err)
	}
	defer rows.Close()

	cooldowns := make(map[string]time.Time)
	for rows.Next() {
		var deviceID string
		var untilNano int64
		if err := rows.Scan(&deviceID, &untilNano); err != nil {
			return nil, fmt.Errorf("failed to scan cooldown: %w", err)
		}
		cooldowns[deviceID] = time.Unix(0, untilNano)
	}
	return cooldowns, rows.Err()
}

const recordCols = `id, device_id, kind, magnitude,
	accel_x, accel_y, accel_z, gyro_x, gyro_y, gyro_z,
	activity, vibration_level, battery_level, latitude, longitude,
	captured_at, received_at`

func scanRecord(scan func(...any) error) (*models.TelemetryRecord, error) {
	var r models.TelemetryRecord
	var kind, vibration string
	var capturedAtNano, receivedAtNano int64
	err := scan(
		&r.ID, &r.DeviceID, &kind, &r.Magnitude,
		&r.Acceleration.X, &r.Acceleration.Y, &r.Acceleration.Z,
		&r.Gyroscope.X, &r.Gyroscope.Y, &r.Gyroscope.Z,
		&r.Activity, &vibration, &r.BatteryLevel,
		&r.Location.Latitude, &r.Location.Longitude,
		&capturedAtNano, &receivedAtNano,
	)
	if err != nil {
		return nil, err
	}
	r.Kind = models.EventKind(kind)
	r.Vibration = models.VibrationLevel(vibration)
	r.CapturedAt = time.Unix(0, capturedAtNano)
	r.ReceivedAt = time.Unix(0, receivedAtNano)
	return &r, nil
}

func collectRecords(rows *sql.Rows) ([]models.TelemetryRecord, error) {
	records := []models.TelemetryRecord{}
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}
