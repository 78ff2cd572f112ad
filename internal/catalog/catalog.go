// Package catalog mirrors combined crop rows into a SQLite database so that
// runs can be queried and compared after the CSV has been edited.
package catalog

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/menta2k/painting-cropper/pkg/types"
)

// Run is one orchestrator run recorded in the catalog
type Run struct {
	ID           string
	PaintingsDir string
	StartedAt    time.Time
	Rows         int
}

// Catalog handles SQLite operations
type Catalog struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates and initializes the catalog database
func Open(dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		paintings_dir TEXT NOT NULL,
		started_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS crops (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		crop_idx INTEGER NOT NULL,
		top_left_x INTEGER NOT NULL,
		top_left_y INTEGER NOT NULL,
		bottom_right_x INTEGER NOT NULL,
		bottom_right_y INTEGER NOT NULL,
		frcnn_source BOOLEAN NOT NULL DEFAULT 0,
		bing_source BOOLEAN NOT NULL DEFAULT 0,
		wrong_file BOOLEAN NOT NULL DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE,
		UNIQUE (run_id, original_filename, crop_idx)
	);

	CREATE INDEX IF NOT EXISTS idx_crops_run_id ON crops(run_id);
	CREATE INDEX IF NOT EXISTS idx_crops_filename ON crops(original_filename);
	`

	_, err := c.db.Exec(schema)
	return err
}

// BeginRun records a new run
func (c *Catalog) BeginRun(runID, paintingsDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(`
		INSERT INTO runs (id, paintings_dir, started_at) VALUES (?, ?, ?)
	`, runID, paintingsDir, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// InsertRows stores rows for a run in a single transaction
func (c *Catalog) InsertRows(runID string, rows []types.CombinedRow) error {
	if len(rows) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO crops (run_id, original_filename, crop_idx,
			top_left_x, top_left_y, bottom_right_x, bottom_right_y,
			frcnn_source, bing_source, wrong_file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare crop statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(runID, r.OriginalFilename, r.CropIdx,
			r.TopLeftX, r.TopLeftY, r.BottomRightX, r.BottomRightY,
			r.FRCNNSource, r.BINGSource, r.WrongFile); err != nil {
			return fmt.Errorf("failed to insert crop %s/%d: %w", r.OriginalFilename, r.CropIdx, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rows returns a run's rows ordered by filename and crop index
func (c *Catalog) Rows(runID string) ([]types.CombinedRow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.Query(`
		SELECT original_filename, crop_idx, top_left_x, top_left_y,
			bottom_right_x, bottom_right_y, frcnn_source, bing_source, wrong_file
		FROM crops WHERE run_id = ?
		ORDER BY original_filename, crop_idx
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query crops: %w", err)
	}
	defer rows.Close()

	out := []types.CombinedRow{}
	for rows.Next() {
		var r types.CombinedRow
		if err := rows.Scan(&r.OriginalFilename, &r.CropIdx, &r.TopLeftX, &r.TopLeftY,
			&r.BottomRightX, &r.BottomRightY, &r.FRCNNSource, &r.BINGSource, &r.WrongFile); err != nil {
			return nil, fmt.Errorf("failed to scan crop: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Runs lists recorded runs, newest first, with their row counts
func (c *Catalog) Runs() ([]Run, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.Query(`
		SELECT r.id, r.paintings_dir, r.started_at, COUNT(c.id)
		FROM runs r
		LEFT JOIN crops c ON c.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.PaintingsDir, &r.StartedAt, &r.Rows); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the database connection
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Sink adapts a Catalog to receive one run's rows as they are aggregated
type Sink struct {
	Catalog *Catalog
	RunID   string
}

// WriteRows inserts rows under the sink's run
func (s *Sink) WriteRows(rows []types.CombinedRow) error {
	return s.Catalog.InsertRows(s.RunID, rows)
}
