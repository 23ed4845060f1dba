// Package sqlite persists detection runs and their per-region results.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/facemesh/internal/monitoring"
	"github.com/banshee-data/facemesh/internal/timeutil"
	"github.com/banshee-data/facemesh/internal/vision"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("sqlite: run not found")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Run describes one invocation of the detector on an image.
type Run struct {
	RunID         string           `json:"run_id"`
	ImagePath     string           `json:"image_path"`
	ImageSize     vision.ImageSize `json:"image_size"`
	ModelVariant  string           `json:"model_variant"`
	MinConfidence float32          `json:"min_confidence"`
	Backend       string           `json:"backend"`
	ItemCount     int              `json:"item_count"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Item is the stored result for one region of a run. An item without a
// face has an empty landmark list and a zero rect.
type Item struct {
	Seq           int                           `json:"seq"`
	Region        vision.NormalizedRect         `json:"region"`
	Presence      bool                          `json:"presence"`
	PresenceScore float32                       `json:"presence_score"`
	Landmarks     vision.NormalizedLandmarkList `json:"landmarks"`
	RectNextFrame vision.NormalizedRect         `json:"rect_next_frame"`
}

// Store provides persistence for detection runs.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	s := NewStore(db)
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used for run timestamps and busy backoff.
func (s *Store) SetClock(c timeutil.Clock) { s.clock = c }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// MigrateUp runs all pending embedded migrations.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version. Zero means no
// migration has been applied.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// InsertRun persists run and its items in one transaction. If RunID is
// empty, a UUID is generated; a zero CreatedAt is set to now.
func (s *Store) InsertRun(ctx context.Context, run *Run, items []Item) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.clock.Now()
	}
	run.ItemCount = len(items)

	return retryOnBusy(s.clock, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO detection_runs (
				run_id, image_path, image_width, image_height, model_variant,
				min_confidence, backend, item_count, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.ImagePath, run.ImageSize.Width, run.ImageSize.Height, run.ModelVariant,
			run.MinConfidence, run.Backend, run.ItemCount, run.CreatedAt.UnixNano(),
		); err != nil {
			return err
		}
		for _, it := range items {
			region, landmarks, next, err := encodeItem(it)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO detection_items (
					run_id, seq, region_json, presence, presence_score,
					landmark_count, landmarks_json, rect_next_frame_json
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				run.RunID, it.Seq, region, it.Presence, it.PresenceScore,
				it.Landmarks.Len(), landmarks, next,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func encodeItem(it Item) (region, landmarks, next string, err error) {
	if it.Landmarks.Landmarks == nil {
		it.Landmarks.Landmarks = []vision.NormalizedLandmark{}
	}
	var b []byte
	if b, err = json.Marshal(it.Region); err != nil {
		return
	}
	region = string(b)
	if b, err = json.Marshal(it.Landmarks); err != nil {
		return
	}
	landmarks = string(b)
	if b, err = json.Marshal(it.RectNextFrame); err != nil {
		return
	}
	next = string(b)
	return
}

// GetRun returns the run with the given ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var (
		run       Run
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, image_path, image_width, image_height, model_variant,
			min_confidence, backend, item_count, created_at
		FROM detection_runs WHERE run_id = ?`, runID,
	).Scan(&run.RunID, &run.ImagePath, &run.ImageSize.Width, &run.ImageSize.Height, &run.ModelVariant,
		&run.MinConfidence, &run.Backend, &run.ItemCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	run.CreatedAt = time.Unix(0, createdAt)
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, image_path, image_width, image_height, model_variant,
			min_confidence, backend, item_count, created_at
		FROM detection_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			run       Run
			createdAt int64
		)
		if err := rows.Scan(&run.RunID, &run.ImagePath, &run.ImageSize.Width, &run.ImageSize.Height,
			&run.ModelVariant, &run.MinConfidence, &run.Backend, &run.ItemCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.CreatedAt = time.Unix(0, createdAt)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// ListItems returns the items of a run in region order.
func (s *Store) ListItems(ctx context.Context, runID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, region_json, presence, presence_score, landmarks_json, rect_next_frame_json
		FROM detection_items WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it                      Item
			region, landmarks, next string
		)
		if err := rows.Scan(&it.Seq, &region, &it.Presence, &it.PresenceScore, &landmarks, &next); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		if err := json.Unmarshal([]byte(region), &it.Region); err != nil {
			return nil, fmt.Errorf("item %d region: %w", it.Seq, err)
		}
		if err := json.Unmarshal([]byte(landmarks), &it.Landmarks); err != nil {
			return nil, fmt.Errorf("item %d landmarks: %w", it.Seq, err)
		}
		if err := json.Unmarshal([]byte(next), &it.RectNextFrame); err != nil {
			return nil, fmt.Errorf("item %d next rect: %w", it.Seq, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// isSQLiteBusy reports whether err is a transient lock error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy retries fn with a short linear backoff while SQLite reports
// the database as locked.
func retryOnBusy(clock timeutil.Clock, fn func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); !isSQLiteBusy(err) {
			return err
		}
		if i < attempts-1 {
			clock.Sleep(time.Duration(i+1) * 20 * time.Millisecond)
		}
	}
	return err
}
