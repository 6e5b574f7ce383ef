// Package store implements the session store API (spec.md §4.9): the
// session/detection catalog backing the agent's open/close/ingest
// calls and the UI's read surface. Persistence is Postgres via
// database/sql + lib/pq, with golang-migrate managing schema.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
)

var log = logging.L("store")

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by lookups for an unknown session.
var ErrNotFound = errors.New("session not found")

// ErrOpenConflict reports an attempt to open a session on a path that
// already has an open session (spec.md §3 invariant).
var ErrOpenConflict = errors.New("an open session already exists for this path")

// DB wraps the Postgres connection pool and exposes the catalog
// operations spec.md §4.9 names.
type DB struct {
	sql *sql.DB
}

// Open connects to Postgres at dsn and runs pending migrations.
func Open(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}

	if err := runMigrations(sqlDB, dsn); err != nil {
		return nil, err
	}

	return &DB{sql: sqlDB}, nil
}

func runMigrations(sqlDB *sql.DB, dsn string) error {
	srcDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	dbDriver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.sql.Close()
}

// Session mirrors the Session entity of spec.md §3.
type Session struct {
	SessionID               string
	DeviceID                string
	Path                     string
	StartTS                  int64
	EndTS                    sql.NullInt64
	PostrollSec              sql.NullInt64
	Status                   string
	DetectedClasses          []string
	MediaConnectTS           sql.NullInt64
	MediaStartTS             sql.NullInt64
	MediaEndTS               sql.NullInt64
	RecommendedStartOffsetMs sql.NullInt64
}

// uniqueViolation is the Postgres SQLSTATE for a unique_violation error.
const uniqueViolation = "23505"

// OpenSession inserts a new open session. Per spec.md §4.9 this is
// idempotent via ON CONFLICT (sessionId) DO NOTHING: created reports
// whether this call actually inserted the row (true => 201, false =>
// 200 with the existing record).
//
// The one-open-session-per-path invariant (spec.md §3) is enforced two
// ways: a SELECT ... FOR UPDATE locks any existing open row on this path
// before the insert is attempted, closing the ordinary race window, and
// idx_sessions_path_open is a unique partial index so Postgres itself
// rejects the remaining window where no row existed for either
// transaction to lock. Both paths surface as ErrOpenConflict.
func (db *DB) OpenSession(ctx context.Context, sessionID, devID, path string, startTS int64, reason string) (created bool, sess *Session, err error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, err
	}
	defer tx.Rollback()

	var existingPathOpen string
	err = tx.QueryRowContext(ctx, `
		SELECT session_id FROM sessions
		WHERE path = $1 AND status = 'open' AND session_id <> $2
		LIMIT 1 FOR UPDATE`, path, sessionID).Scan(&existingPathOpen)
	if err == nil {
		return false, nil, ErrOpenConflict
	}
	if err != sql.ErrNoRows {
		return false, nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, device_id, path, start_ts, status, detected_classes, open_reason)
		VALUES ($1, $2, $3, $4, 'open', '{}', $5)
		ON CONFLICT (session_id) DO NOTHING`, sessionID, devID, path, startTS, reason)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return false, nil, ErrOpenConflict
		}
		return false, nil, err
	}
	n, _ := res.RowsAffected()
	created = n > 0

	sess, err = scanSession(tx.QueryRowContext(ctx, sessionSelectSQL+" WHERE session_id = $1", sessionID))
	if err != nil {
		return false, nil, err
	}

	if err := tx.Commit(); err != nil {
		return false, nil, err
	}
	return created, sess, nil
}

// CloseSession sets status='closed', end_ts and postroll_sec. Returns
// ErrNotFound if the session does not exist.
func (db *DB) CloseSession(ctx context.Context, sessionID string, endTS int64, postrollSec *int) error {
	res, err := db.sql.ExecContext(ctx, `
		UPDATE sessions SET status = 'closed', end_ts = $2, postroll_sec = COALESCE($3, postroll_sec)
		WHERE session_id = $1`, sessionID, endTS, postrollSec)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const sessionSelectSQL = `
	SELECT session_id, device_id, path, start_ts, end_ts, postroll_sec, status,
	       detected_classes, media_connect_ts, media_start_ts, media_end_ts,
	       recommended_start_offset_ms
	FROM sessions`

func scanSession(row *sql.Row) (*Session, error) {
	var s Session
	if err := row.Scan(
		&s.SessionID, &s.DeviceID, &s.Path, &s.StartTS, &s.EndTS, &s.PostrollSec, &s.Status,
		pqStringArray(&s.DetectedClasses), &s.MediaConnectTS, &s.MediaStartTS, &s.MediaEndTS,
		&s.RecommendedStartOffsetMs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// GetSession fetches one session by id.
func (db *DB) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := db.sql.QueryRowContext(ctx, sessionSelectSQL+" WHERE session_id = $1", sessionID)
	return scanSession(row)
}

// ListSessions returns the most recent sessions, ordered start_ts DESC,
// bounded by limit.
func (db *DB) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	rows, err := db.sql.QueryContext(ctx, sessionSelectSQL+" ORDER BY start_ts DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListSessionsRange returns sessions with start_ts in [from, to], ordered
// start_ts DESC, bounded by limit.
func (db *DB) ListSessionsRange(ctx context.Context, from, to int64, limit int) ([]*Session, error) {
	rows, err := db.sql.QueryContext(ctx, sessionSelectSQL+`
		WHERE start_ts >= $1 AND start_ts <= $2
		ORDER BY start_ts DESC LIMIT $3`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]*Session, error) {
	var out []*Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(
			&s.SessionID, &s.DeviceID, &s.Path, &s.StartTS, &s.EndTS, &s.PostrollSec, &s.Status,
			pqStringArray(&s.DetectedClasses), &s.MediaConnectTS, &s.MediaStartTS, &s.MediaEndTS,
			&s.RecommendedStartOffsetMs,
		); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// EnrichClasses unions newClasses into session.detected_classes.
func (db *DB) EnrichClasses(ctx context.Context, sessionID string, newClasses []string) error {
	_, err := db.sql.ExecContext(ctx, `
		UPDATE sessions
		SET detected_classes = (
			SELECT ARRAY(SELECT DISTINCT UNNEST(detected_classes || $2::text[]))
		)
		WHERE session_id = $1`, sessionID, pqStringArrayValue(newClasses))
	return err
}

// Detection mirrors the DetectionRecord entity of spec.md §3.
type Detection struct {
	SessionID string
	TrackID   string
	Class     string
	Conf      float32
	BBoxX     float64
	BBoxY     float64
	BBoxW     float64
	BBoxH     float64
	URLFrame  string
	FirstTS   int64
	LastTS    int64
}

// UpsertDetections applies the batch upsert policy of spec.md §4.9: the
// unique key is (session_id, track_id); a higher incoming confidence
// replaces conf/bbox/cls/url_frame, and last_ts always extends (first_ts
// set only on insert). Returns the count of rows actually inserted vs
// total processed.
func (db *DB) UpsertDetections(ctx context.Context, dets []Detection, ts int64) (inserted, total int, err error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	for _, d := range dets {
		if d.TrackID == "" {
			// Track-id-less enrichment calls (class-only) don't
			// participate in the unique-key upsert; they're handled
			// via EnrichClasses instead.
			continue
		}
		firstTS, lastTS := d.FirstTS, d.LastTS
		if firstTS == 0 {
			firstTS = ts
		}
		if lastTS == 0 {
			lastTS = ts
		}
		var wasInsert bool
		err := tx.QueryRowContext(ctx, `
			INSERT INTO detections (session_id, track_id, cls, conf, bbox_x, bbox_y, bbox_w, bbox_h, url_frame, first_ts, last_ts)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (session_id, track_id) DO UPDATE SET
				cls = CASE WHEN EXCLUDED.conf > detections.conf THEN EXCLUDED.cls ELSE detections.cls END,
				conf = GREATEST(detections.conf, EXCLUDED.conf),
				bbox_x = CASE WHEN EXCLUDED.conf > detections.conf THEN EXCLUDED.bbox_x ELSE detections.bbox_x END,
				bbox_y = CASE WHEN EXCLUDED.conf > detections.conf THEN EXCLUDED.bbox_y ELSE detections.bbox_y END,
				bbox_w = CASE WHEN EXCLUDED.conf > detections.conf THEN EXCLUDED.bbox_w ELSE detections.bbox_w END,
				bbox_h = CASE WHEN EXCLUDED.conf > detections.conf THEN EXCLUDED.bbox_h ELSE detections.bbox_h END,
				url_frame = CASE WHEN EXCLUDED.conf > detections.conf THEN EXCLUDED.url_frame ELSE detections.url_frame END,
				last_ts = GREATEST(detections.last_ts, EXCLUDED.last_ts)
			RETURNING (xmax = 0)
			`, d.SessionID, d.TrackID, d.Class, d.Conf, d.BBoxX, d.BBoxY, d.BBoxW, d.BBoxH, d.URLFrame, firstTS, lastTS).
			Scan(&wasInsert)
		if err != nil {
			return 0, 0, err
		}
		total++
		if wasInsert {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return inserted, total, nil
}

// MediaHookKind names which MediaMTX hook fired.
type MediaHookKind int

const (
	HookPublish MediaHookKind = iota
	HookRecordStart
	HookRecordComplete
)

// ApplyMediaHook implements spec.md §4.9's media hook semantics:
// media_connect_ts/media_start_ts are set first-seen-only,
// media_end_ts is monotonic nondecreasing via max(existing,new), and
// recommended_start_offset_ms defaults to 200 when previously null.
func (db *DB) ApplyMediaHook(ctx context.Context, sessionID string, kind MediaHookKind, ts int64) error {
	switch kind {
	case HookPublish:
		_, err := db.sql.ExecContext(ctx, `
			UPDATE sessions SET
				media_connect_ts = COALESCE(media_connect_ts, $2),
				recommended_start_offset_ms = COALESCE(recommended_start_offset_ms, 200)
			WHERE session_id = $1`, sessionID, ts)
		return err
	case HookRecordStart:
		_, err := db.sql.ExecContext(ctx, `
			UPDATE sessions SET
				media_start_ts = COALESCE(media_start_ts, $2),
				recommended_start_offset_ms = COALESCE(recommended_start_offset_ms, 200)
			WHERE session_id = $1`, sessionID, ts)
		return err
	case HookRecordComplete:
		_, err := db.sql.ExecContext(ctx, `
			UPDATE sessions SET
				media_end_ts = GREATEST(COALESCE(media_end_ts, 0), $2)
			WHERE session_id = $1`, sessionID, ts)
		return err
	default:
		return errors.New("unknown media hook kind")
	}
}

// HasArchivedSegment reports whether segmentIndex of sessionID already
// has an ArchivedSegment record.
func (db *DB) HasArchivedSegment(ctx context.Context, sessionID string, segmentIndex int) (bool, error) {
	var exists bool
	err := db.sql.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM archived_segments WHERE session_id = $1 AND segment_index = $2)`,
		sessionID, segmentIndex).Scan(&exists)
	return exists, err
}

// RecordArchivedSegment records a successful offload upload.
func (db *DB) RecordArchivedSegment(ctx context.Context, sessionID string, segmentIndex int, remoteURL string) error {
	_, err := db.sql.ExecContext(ctx, `
		INSERT INTO archived_segments (session_id, segment_index, remote_url, uploaded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, segment_index) DO NOTHING`,
		sessionID, segmentIndex, remoteURL, time.Now().UnixMilli())
	return err
}
