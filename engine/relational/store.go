// Package relational owns the SQLite-backed relational/spatial store. It is
// the structured half of the dual store: profile rows, the batch audit log,
// the ingested-file checksum ledger, and the committed read view that the SQL
// generation agent queries.
package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/FloatChatAI/floatchat-engine/engine/domain"
)

// QueryTable is the single table exposed to the SQL generation agent. It is a
// view over committed batches only; staged rows are invisible to readers.
const QueryTable = "argo_measurements"

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	source_files TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	seq         INTEGER
);

CREATE TABLE IF NOT EXISTS ingested_files (
	checksum    TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	batch_id    TEXT NOT NULL REFERENCES batches(id),
	ingested_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	id          TEXT NOT NULL,
	batch_id    TEXT NOT NULL REFERENCES batches(id),
	float_id    TEXT NOT NULL,
	cycle       INTEGER NOT NULL,
	juld        TEXT,
	latitude    REAL NOT NULL,
	longitude   REAL NOT NULL,
	source_file TEXT NOT NULL,
	PRIMARY KEY (id, batch_id)
);

CREATE INDEX IF NOT EXISTS idx_profiles_position ON profiles(latitude, longitude);

CREATE TABLE IF NOT EXISTS measurements (
	profile_id TEXT NOT NULL,
	batch_id   TEXT NOT NULL,
	level      INTEGER NOT NULL,
	pres       REAL NOT NULL,
	temp       REAL,
	psal       REAL,
	PRIMARY KEY (profile_id, batch_id, level)
);

-- Committed read view: readers only ever see fully committed batches, and a
-- profile corrected by a later batch resolves to the newest committed copy.
CREATE VIEW IF NOT EXISTS argo_measurements AS
SELECT
	p.id        AS profile_id,
	p.float_id  AS float_id,
	p.cycle     AS cycle,
	p.juld      AS timestamp,
	p.latitude  AS latitude,
	p.longitude AS longitude,
	m.pres      AS pres,
	m.temp      AS temp,
	m.psal      AS psal
FROM profiles p
JOIN measurements m ON m.profile_id = p.id AND m.batch_id = p.batch_id
JOIN batches b ON b.id = p.batch_id
WHERE b.status = 'committed'
AND b.seq = (
	SELECT MAX(b2.seq) FROM profiles p2
	JOIN batches b2 ON b2.id = p2.batch_id
	WHERE p2.id = p.id AND b2.status = 'committed'
);
`

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the store at path. WAL mode keeps the ingestion
// writer from blocking query readers.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("relational: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("relational: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// --- Batch audit log ---

// CreateBatch records a new batch in the audit log.
func (s *Store) CreateBatch(ctx context.Context, b domain.Batch) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (id, status, source_files, started_at, seq)
		 VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM batches))`,
		b.ID, string(b.Status), strings.Join(b.SourceFiles, ","), b.StartedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("relational: create batch %s: %w", b.ID, err)
	}
	return nil
}

// SetBatchStatus advances a batch through its state machine. Terminal states
// also stamp finished_at; a terminal batch is never mutated again.
func (s *Store) SetBatchStatus(ctx context.Context, batchID string, status domain.BatchStatus, detail string) error {
	var res sql.Result
	var err error
	if status.Terminal() {
		res, err = s.db.ExecContext(ctx,
			`UPDATE batches SET status = ?, detail = ?, finished_at = ?
			 WHERE id = ? AND status NOT IN ('committed', 'failed')`,
			string(status), detail, time.Now().UTC().Format(time.RFC3339), batchID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE batches SET status = ? WHERE id = ? AND status NOT IN ('committed', 'failed')`,
			string(status), batchID)
	}
	if err != nil {
		return fmt.Errorf("relational: batch %s -> %s: %w", batchID, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("relational: batch %s is terminal or unknown", batchID)
	}
	return nil
}

// Batches returns the audit log, newest first.
func (s *Store) Batches(ctx context.Context, limit int) ([]domain.Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, source_files, detail, started_at, COALESCE(finished_at, '')
		 FROM batches ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("relational: list batches: %w", err)
	}
	defer rows.Close()

	var out []domain.Batch
	for rows.Next() {
		var b domain.Batch
		var status, files, started, finished string
		if err := rows.Scan(&b.ID, &status, &files, &b.Detail, &started, &finished); err != nil {
			return nil, err
		}
		b.Status = domain.BatchStatus(status)
		if files != "" {
			b.SourceFiles = strings.Split(files, ",")
		}
		b.StartedAt, _ = time.Parse(time.RFC3339, started)
		if finished != "" {
			b.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BatchCommitted reports whether a batch has reached the committed state.
// The vector read path gates matches on this, mirroring the committed-only
// read view on the relational side.
func (s *Store) BatchCommitted(ctx context.Context, batchID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM batches WHERE id = ? AND status = 'committed'`, batchID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("relational: %w: %v", domain.ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// --- Checksum ledger ---

// IsIngested reports whether a source file with this content checksum has
// already been committed. Re-fetching such a file is a no-op.
func (s *Store) IsIngested(ctx context.Context, checksum string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ingested_files f JOIN batches b ON b.id = f.batch_id
		 WHERE f.checksum = ? AND b.status = 'committed'`, checksum).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("relational: checksum lookup: %w", err)
	}
	return n > 0, nil
}

// RecordFile adds a file to the checksum ledger under the given batch. The
// entry only counts once the batch commits.
func (s *Store) RecordFile(ctx context.Context, checksum, filename, batchID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO ingested_files (checksum, filename, batch_id, ingested_at)
		 VALUES (?, ?, ?, ?)`,
		checksum, filename, batchID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("relational: record file %s: %w", filename, err)
	}
	return nil
}

// --- Staging and compensation ---

// StageProfiles writes a batch's records inside one transaction. The rows
// stay invisible to the read view until the batch is marked committed.
func (s *Store) StageProfiles(ctx context.Context, batchID string, records []domain.ProfileRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("relational: %w: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	profStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO profiles (id, batch_id, float_id, cycle, juld, latitude, longitude, source_file)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("relational: %w: %v", domain.ErrStoreUnavailable, err)
	}
	defer profStmt.Close()

	levelStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO measurements (profile_id, batch_id, level, pres, temp, psal)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("relational: %w: %v", domain.ErrStoreUnavailable, err)
	}
	defer levelStmt.Close()

	for _, r := range records {
		var juld any
		if !r.Time.IsZero() {
			juld = r.Time.UTC().Format(time.RFC3339)
		}
		if _, err := profStmt.ExecContext(ctx, r.ID(), batchID, r.FloatID, r.Cycle, juld,
			r.Latitude, r.Longitude, r.SourceFile); err != nil {
			return fmt.Errorf("relational: stage profile %s: %w", r.ID(), err)
		}
		for i, lv := range r.Levels {
			if _, err := levelStmt.ExecContext(ctx, r.ID(), batchID, i,
				lv.Pressure, lv.Temperature, lv.Salinity); err != nil {
				return fmt.Errorf("relational: stage levels for %s: %w", r.ID(), err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("relational: %w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteBatch removes everything staged under a batch id: the compensating
// delete for a failed dual-store commit.
func (s *Store) DeleteBatch(ctx context.Context, batchID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("relational: %w: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()
	for _, q := range []string{
		`DELETE FROM measurements WHERE batch_id = ?`,
		`DELETE FROM profiles WHERE batch_id = ?`,
		`DELETE FROM ingested_files WHERE batch_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, batchID); err != nil {
			return fmt.Errorf("relational: compensate batch %s: %w", batchID, err)
		}
	}
	return tx.Commit()
}

// --- Spatial reads (committed data only) ---

// IDsInRegion returns the profile ids whose location lies inside the region.
// The bounding box narrows candidates in SQL; exact polygon containment is
// checked per point.
func (s *Store) IDsInRegion(ctx context.Context, region domain.Region) ([]string, error) {
	minLat, maxLat, minLon, maxLon := region.Bounds()
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT profile_id, latitude, longitude FROM argo_measurements
		 WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`,
		minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, fmt.Errorf("relational: %w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var lat, lon float64
		if err := rows.Scan(&id, &lat, &lon); err != nil {
			return nil, err
		}
		if region.Contains(lat, lon) {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// ProfilesInRegion returns committed profiles located inside the region,
// newest first, capped at limit.
func (s *Store) ProfilesInRegion(ctx context.Context, region domain.Region, limit int) ([]domain.ProfileRecord, error) {
	ids, err := s.IDsInRegion(ctx, region)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]domain.ProfileRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Profile(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Profile loads one committed profile by id.
func (s *Store) Profile(ctx context.Context, id string) (domain.ProfileRecord, error) {
	var rec domain.ProfileRecord
	var juld sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT DISTINCT float_id, cycle, timestamp, latitude, longitude FROM argo_measurements
		 WHERE profile_id = ?`, id).
		Scan(&rec.FloatID, &rec.Cycle, &juld, &rec.Latitude, &rec.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("relational: profile %s not found", id)
	}
	if err != nil {
		return rec, fmt.Errorf("relational: %w: %v", domain.ErrStoreUnavailable, err)
	}
	if juld.Valid {
		rec.Time, _ = time.Parse(time.RFC3339, juld.String)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT pres, temp, psal FROM argo_measurements WHERE profile_id = ? ORDER BY pres`, id)
	if err != nil {
		return rec, fmt.Errorf("relational: %w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var lv domain.Level
		if err := rows.Scan(&lv.Pressure, &lv.Temperature, &lv.Salinity); err != nil {
			return rec, err
		}
		rec.Levels = append(rec.Levels, lv)
	}
	return rec, rows.Err()
}

// Trajectory returns the committed (time, position) sequence of one float.
func (s *Store) Trajectory(ctx context.Context, floatID string) ([]domain.ProfileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT profile_id, cycle, timestamp, latitude, longitude FROM argo_measurements
		 WHERE float_id = ? ORDER BY timestamp`, floatID)
	if err != nil {
		return nil, fmt.Errorf("relational: %w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var out []domain.ProfileRecord
	for rows.Next() {
		var id string
		var juld sql.NullString
		rec := domain.ProfileRecord{FloatID: floatID}
		if err := rows.Scan(&id, &rec.Cycle, &juld, &rec.Latitude, &rec.Longitude); err != nil {
			return nil, err
		}
		if juld.Valid {
			rec.Time, _ = time.Parse(time.RFC3339, juld.String)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RegionStats aggregates committed measurements inside a region's bounding
// box: the numbers the composer quotes in summaries.
type RegionStats struct {
	Points       int     `json:"points"`
	Floats       int     `json:"floats"`
	AvgTemp      float64 `json:"avg_temp"`
	MinTemp      float64 `json:"min_temp"`
	MaxTemp      float64 `json:"max_temp"`
	AvgSalinity  float64 `json:"avg_psal"`
	MinSalinity  float64 `json:"min_psal"`
	MaxSalinity  float64 `json:"max_psal"`
}

// Stats computes regional aggregates over the committed view.
func (s *Store) Stats(ctx context.Context, region domain.Region) (RegionStats, error) {
	minLat, maxLat, minLon, maxLon := region.Bounds()
	var st RegionStats
	var avgT, minT, maxT, avgS, minS, maxS sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT float_id),
		        AVG(temp), MIN(temp), MAX(temp),
		        AVG(psal), MIN(psal), MAX(psal)
		 FROM argo_measurements
		 WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`,
		minLat, maxLat, minLon, maxLon).
		Scan(&st.Points, &st.Floats, &avgT, &minT, &maxT, &avgS, &minS, &maxS)
	if err != nil {
		return st, fmt.Errorf("relational: %w: %v", domain.ErrStoreUnavailable, err)
	}
	st.AvgTemp, st.MinTemp, st.MaxTemp = avgT.Float64, minT.Float64, maxT.Float64
	st.AvgSalinity, st.MinSalinity, st.MaxSalinity = avgS.Float64, minS.Float64, maxS.Float64
	return st, nil
}

// --- Validated query execution ---

// RowSet is the tabular result of a structured query.
type RowSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// maxQueryRows bounds what a generated query can pull into memory.
const maxQueryRows = 5000

// Query executes an already-validated SELECT against the committed view.
// Callers must run the statement through ValidateQuery first.
func (s *Store) Query(ctx context.Context, query string) (*RowSet, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("relational: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &RowSet{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, vals)
		if len(rs.Rows) >= maxQueryRows {
			break
		}
	}
	return rs, rows.Err()
}
