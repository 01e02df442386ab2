package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// database/sql driver names.
const (
	DriverPure = "sqlite"  // modernc.org/sqlite
	DriverCGO  = "sqlite3" // github.com/mattn/go-sqlite3, needs cgo
)

// Store wraps SQLite-backed persistence for sessions, saved stacks, dark
// frame loads and mount commands.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path with the pure-Go driver.
func New(path string) (*Store, error) {
	return Open(DriverPure, path)
}

// Open opens the database at path with the named driver and ensures schema.
func Open(driver, path string) (*Store, error) {
	switch driver {
	case "":
		driver = DriverPure
	case DriverPure, DriverCGO:
	default:
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	// single writer connection
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
            id TEXT PRIMARY KEY,
            camera_driver TEXT NOT NULL,
            mount_driver TEXT,
            motors BOOLEAN DEFAULT FALSE,
            started_at TIMESTAMP NOT NULL,
            stopped_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS stack_saves (
            id TEXT PRIMARY KEY,
            session_id TEXT,
            path TEXT NOT NULL,
            frame_count INTEGER NOT NULL,
            width INTEGER,
            height INTEGER,
            exposure_us INTEGER,
            gain REAL,
            dark_applied BOOLEAN DEFAULT FALSE,
            mean REAL,
            stddev REAL,
            saved_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS dark_frames (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            session_id TEXT,
            path TEXT NOT NULL,
            width INTEGER,
            height INTEGER,
            ok BOOLEAN NOT NULL,
            error_message TEXT,
            loaded_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS mount_commands (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            session_id TEXT,
            axis TEXT NOT NULL,
            action TEXT NOT NULL,
            value REAL,
            issued_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_stack_saves_saved_at ON stack_saves(saved_at);`,
		`CREATE INDEX IF NOT EXISTS idx_mount_commands_session ON mount_commands(session_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// SessionRecord describes one run of the rig.
type SessionRecord struct {
	ID           string
	CameraDriver string
	MountDriver  string
	Motors       bool
	StartedAt    time.Time
	StoppedAt    *time.Time
}

// StackSaveRecord captures a persisted stack.
type StackSaveRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Path        string    `json:"path"`
	FrameCount  int       `json:"frame_count"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	ExposureUS  int64     `json:"exposure_us"`
	Gain        float64   `json:"gain"`
	DarkApplied bool      `json:"dark_applied"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"stddev"`
	SavedAt     time.Time `json:"saved_at"`
}

// DarkFrameRecord captures a dark frame load attempt.
type DarkFrameRecord struct {
	SessionID string
	Path      string
	Width     int
	Height    int
	OK        bool
	Error     string
}

// MountCommandRecord captures an operator command to an axis.
type MountCommandRecord struct {
	SessionID string
	Axis      string
	Action    string
	Value     float64
}

// StartSession inserts a new session and returns its id.
func (s *Store) StartSession(rec SessionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if s == nil {
		return rec.ID, nil
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	_, err := s.DB.Exec(`INSERT INTO sessions (id, camera_driver, mount_driver, motors, started_at) VALUES (?, ?, ?, ?, ?);`,
		rec.ID, rec.CameraDriver, rec.MountDriver, rec.Motors, rec.StartedAt)
	return rec.ID, err
}

// EndSession stamps the stop time.
func (s *Store) EndSession(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE sessions SET stopped_at=? WHERE id=?;`, time.Now().UTC(), id)
	return err
}

// Session fetches one session.
func (s *Store) Session(id string) (SessionRecord, error) {
	if s == nil {
		return SessionRecord{}, errors.New("store not initialized")
	}
	var rec SessionRecord
	var mountDriver sql.NullString
	var stopped sql.NullTime
	err := s.DB.QueryRow(`SELECT id, camera_driver, mount_driver, motors, started_at, stopped_at FROM sessions WHERE id=?;`, id).
		Scan(&rec.ID, &rec.CameraDriver, &mountDriver, &rec.Motors, &rec.StartedAt, &stopped)
	if err != nil {
		return rec, err
	}
	rec.MountDriver = mountDriver.String
	if stopped.Valid {
		rec.StoppedAt = &stopped.Time
	}
	return rec, nil
}

// RecordStackSave inserts a saved stack.
func (s *Store) RecordStackSave(rec StackSaveRecord) error {
	if s == nil {
		return nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	_, err := s.DB.Exec(`INSERT INTO stack_saves (id, session_id, path, frame_count, width, height, exposure_us, gain, dark_applied, mean, stddev, saved_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.SessionID, rec.Path, rec.FrameCount, rec.Width, rec.Height, rec.ExposureUS, rec.Gain, rec.DarkApplied, rec.Mean, rec.StdDev, rec.SavedAt)
	return err
}

// RecentStackSaves returns the latest saves up to limit.
func (s *Store) RecentStackSaves(limit int) ([]StackSaveRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, session_id, path, frame_count, width, height, exposure_us, gain, dark_applied, mean, stddev, saved_at FROM stack_saves ORDER BY saved_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []StackSaveRecord
	for rows.Next() {
		var rec StackSaveRecord
		var session sql.NullString
		if err := rows.Scan(&rec.ID, &session, &rec.Path, &rec.FrameCount, &rec.Width, &rec.Height, &rec.ExposureUS, &rec.Gain, &rec.DarkApplied, &rec.Mean, &rec.StdDev, &rec.SavedAt); err != nil {
			return nil, err
		}
		rec.SessionID = session.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RecordDarkFrame logs a dark frame load attempt.
func (s *Store) RecordDarkFrame(rec DarkFrameRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO dark_frames (session_id, path, width, height, ok, error_message, loaded_at) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.SessionID, rec.Path, rec.Width, rec.Height, rec.OK, rec.Error, time.Now().UTC())
	return err
}

// RecordMountCommand logs an operator command.
func (s *Store) RecordMountCommand(rec MountCommandRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO mount_commands (session_id, axis, action, value, issued_at) VALUES (?, ?, ?, ?, ?);`,
		rec.SessionID, rec.Axis, rec.Action, rec.Value, time.Now().UTC())
	return err
}

// MountCommandCount returns how many commands a session issued.
func (s *Store) MountCommandCount(sessionID string) (int, error) {
	if s == nil {
		return 0, errors.New("store not initialized")
	}
	var n int
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM mount_commands WHERE session_id=?;`, sessionID).Scan(&n)
	return n, err
}
