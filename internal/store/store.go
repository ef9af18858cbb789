// Package store persists a manifest of load sessions in SQLite: which share
// was opened, which instances were loaded into which blob, and the final
// per-series counts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"ikh/dicom-share-loader/internal/models"
	"ikh/dicom-share-loader/internal/progress"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

type Session struct {
	ID         string            `json:"id"`
	ShareToken string            `json:"share_token"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Series     []progress.Series `json:"series,omitempty"`
}

type Instance struct {
	SessionID    string    `json:"session_id"`
	StudyUID     string    `json:"study_uid"`
	SeriesUID    string    `json:"series_uid"`
	SOPUID       string    `json:"sop_uid"`
	BlobURL      string    `json:"blob_url"`
	BlobSize     int64     `json:"blob_size"`
	HasPixelData bool      `json:"has_pixel_data"`
	Rendered     bool      `json:"rendered"`
	LoadedAt     time.Time `json:"loaded_at"`
}

type ManifestStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewManifestStore(dbPath string) (*ManifestStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// tail fetches record concurrently; sqlite takes one writer
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			share_token TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS instances (
			session_id TEXT NOT NULL,
			sop_uid TEXT NOT NULL,
			study_uid TEXT,
			series_uid TEXT,
			blob_url TEXT,
			blob_size INTEGER,
			has_pixel_data BOOLEAN,
			rendered BOOLEAN,
			loaded_at TIMESTAMP,
			PRIMARY KEY (session_id, sop_uid),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE TABLE IF NOT EXISTS series_progress (
			session_id TEXT NOT NULL,
			series_uid TEXT NOT NULL,
			position INTEGER,
			total INTEGER,
			loaded INTEGER,
			failed INTEGER,
			PRIMARY KEY (session_id, series_uid),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &ManifestStore{db: db, now: time.Now}, nil
}

func (s *ManifestStore) Close() error {
	return s.db.Close()
}

// StartSession records a new load session.
func (s *ManifestStore) StartSession(ctx context.Context, id, shareToken string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, share_token, started_at) VALUES (?, ?, ?)`,
		id, shareToken, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to start session %s: %w", id, err)
	}
	return nil
}

// RecordInstance stores one dispatched instance. Recording the same SOP uid
// twice for a session keeps the latest row.
func (s *ManifestStore) RecordInstance(ctx context.Context, sessionID string, inst models.DecodedInstance, rendered bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instances
		(session_id, sop_uid, study_uid, series_uid, blob_url, blob_size, has_pixel_data, rendered, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, sop_uid) DO UPDATE SET
			study_uid = excluded.study_uid,
			series_uid = excluded.series_uid,
			blob_url = excluded.blob_url,
			blob_size = excluded.blob_size,
			has_pixel_data = excluded.has_pixel_data,
			rendered = excluded.rendered OR instances.rendered,
			loaded_at = excluded.loaded_at`,
		sessionID, inst.SOPUID, inst.StudyUID, inst.SeriesUID, inst.Blob.URL, inst.Blob.Size,
		inst.PixelData != nil, rendered, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record instance %s: %w", inst.SOPUID, err)
	}
	return nil
}

// FinishSession stamps the session as finished and stores the final
// progress of every series.
func (s *ManifestStore) FinishSession(ctx context.Context, id string, series []progress.Series) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET finished_at = ? WHERE id = ?`, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	for i, p := range series {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO series_progress (session_id, series_uid, position, total, loaded, failed)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, series_uid) DO UPDATE SET
				total = excluded.total,
				loaded = excluded.loaded,
				failed = excluded.failed`,
			id, p.SeriesUID, i, p.Total, p.Loaded, p.Failed,
		)
		if err != nil {
			return fmt.Errorf("failed to store progress of %s: %w", p.SeriesUID, err)
		}
	}

	return tx.Commit()
}

// GetSession returns a session with its series progress.
func (s *ManifestStore) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, share_token, started_at, finished_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.ShareToken, &sess.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	if finished.Valid {
		t := finished.Time
		sess.FinishedAt = &t
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT series_uid, total, loaded, failed FROM series_progress
		WHERE session_id = ? ORDER BY position`, id)
	if err != nil {
		return Session{}, fmt.Errorf("failed to read series progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p progress.Series
		if err := rows.Scan(&p.SeriesUID, &p.Total, &p.Loaded, &p.Failed); err != nil {
			return Session{}, fmt.Errorf("failed to scan series progress: %w", err)
		}
		sess.Series = append(sess.Series, p)
	}
	return sess, rows.Err()
}

// ListInstances returns the instances of a session, rendered ones first,
// then by load time.
func (s *ManifestStore) ListInstances(ctx context.Context, sessionID string) ([]Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, study_uid, series_uid, sop_uid, blob_url, blob_size, has_pixel_data, rendered, loaded_at
		FROM instances WHERE session_id = ?
		ORDER BY rendered DESC, loaded_at, sop_uid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var out []Instance
	for rows.Next() {
		var inst Instance
		if err := rows.Scan(&inst.SessionID, &inst.StudyUID, &inst.SeriesUID, &inst.SOPUID,
			&inst.BlobURL, &inst.BlobSize, &inst.HasPixelData, &inst.Rendered, &inst.LoadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}
