// Package db stores calibration run history in SQLite: one row per run
// with its aggregate result, and one row per frame estimate.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/radar-lidar-calib/internal/monitoring"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("db: calibration run not found")

var logf = monitoring.Tagged("db")

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// foreignKeysPragma is applied by the driver to every new connection.
const foreignKeysPragma = "_pragma=foreign_keys(1)"

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + foreignKeysPragma
	}
	return path + "?" + foreignKeysPragma
}

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the database at path and applies any
// pending migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	logf("opened run history %s", path)
	return db, nil
}

// Run is one calibration run. Result fields are nil until CompleteRun.
// A failed run has a completion time, StatusFailed and the error text.
type Run struct {
	RunID        string
	Root         string
	ConfigJSON   string
	Status       string
	Error        string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Rotation     *float64
	RotationStd  *float64
	Inliers      *int
	TranslationX *float64
	TranslationY *float64
	FrameCount   int
}

// FrameRecord is one stored per-frame estimate.
type FrameRecord struct {
	FrameIndex    int
	RadarFile     string
	LidarFile     string
	RotationIndex int
	Rotation      float64
	Peak          float64
	TranslationX  *float64
	TranslationY  *float64
	Duration      time.Duration
}

// RunResult is the aggregate written by CompleteRun.
type RunResult struct {
	Rotation     float64
	RotationStd  float64
	Inliers      int
	TranslationX *float64
	TranslationY *float64
	FrameCount   int
}

// StartRun inserts a new run and returns its generated ID.
func (db *DB) StartRun(root, configJSON string, startedAt time.Time) (string, error) {
	runID := uuid.New().String()
	_, err := db.Exec(`
		INSERT INTO calibration_runs (run_id, root, config_json, started_at_ns)
		VALUES (?, ?, ?, ?)`,
		runID, root, nullString(configJSON), startedAt.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

// RecordFrame stores one frame estimate for runID.
func (db *DB) RecordFrame(runID string, f FrameRecord) error {
	_, err := db.Exec(`
		INSERT INTO frame_estimates (
			run_id, frame_index, radar_file, lidar_file, rotation_index,
			rotation, peak, translation_x, translation_y, duration_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, f.FrameIndex, f.RadarFile, f.LidarFile, f.RotationIndex,
		f.Rotation, f.Peak, nullFloat64(f.TranslationX), nullFloat64(f.TranslationY),
		int64(f.Duration),
	)
	if err != nil {
		return fmt.Errorf("insert frame %d: %w", f.FrameIndex, err)
	}
	return nil
}

// CompleteRun stores the aggregate result and completion time.
func (db *DB) CompleteRun(runID string, r RunResult, completedAt time.Time) error {
	res, err := db.Exec(`
		UPDATE calibration_runs
		SET status = ?, completed_at_ns = ?, rotation = ?, rotation_std = ?,
		    inliers = ?, translation_x = ?, translation_y = ?, frame_count = ?
		WHERE run_id = ?`,
		StatusCompleted, completedAt.UnixNano(), r.Rotation, r.RotationStd, r.Inliers,
		nullFloat64(r.TranslationX), nullFloat64(r.TranslationY), r.FrameCount,
		runID,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return requireRow(res, runID)
}

// FailRun marks runID as failed with cause. Frames already recorded are
// kept.
func (db *DB) FailRun(runID string, cause error, failedAt time.Time) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	res, err := db.Exec(`
		UPDATE calibration_runs
		SET status = ?, error_message = ?, completed_at_ns = ?
		WHERE run_id = ?`,
		StatusFailed, msg, failedAt.UnixNano(), runID,
	)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return requireRow(res, runID)
}

func requireRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Run loads a run by ID.
func (db *DB) Run(runID string) (*Run, error) {
	var (
		r           Run
		configJSON  sql.NullString
		errText     sql.NullString
		startedNs   int64
		completedNs sql.NullInt64
		rotation    sql.NullFloat64
		rotationStd sql.NullFloat64
		inliers     sql.NullInt64
		tx, ty      sql.NullFloat64
	)
	err := db.QueryRow(`
		SELECT run_id, root, config_json, status, error_message, started_at_ns,
		       completed_at_ns, rotation, rotation_std, inliers,
		       translation_x, translation_y, frame_count
		FROM calibration_runs WHERE run_id = ?`, runID,
	).Scan(&r.RunID, &r.Root, &configJSON, &r.Status, &errText, &startedNs,
		&completedNs, &rotation, &rotationStd, &inliers, &tx, &ty, &r.FrameCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	r.ConfigJSON = configJSON.String
	r.Error = errText.String
	r.StartedAt = time.Unix(0, startedNs)
	if completedNs.Valid {
		t := time.Unix(0, completedNs.Int64)
		r.CompletedAt = &t
	}
	r.Rotation = floatPtr(rotation)
	r.RotationStd = floatPtr(rotationStd)
	if inliers.Valid {
		n := int(inliers.Int64)
		r.Inliers = &n
	}
	r.TranslationX = floatPtr(tx)
	r.TranslationY = floatPtr(ty)
	return &r, nil
}

// Frames returns the frame estimates of runID ordered by frame index.
func (db *DB) Frames(runID string) ([]FrameRecord, error) {
	rows, err := db.Query(`
		SELECT frame_index, radar_file, lidar_file, rotation_index, rotation,
		       peak, translation_x, translation_y, duration_ns
		FROM frame_estimates WHERE run_id = ?
		ORDER BY frame_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var (
			f          FrameRecord
			tx, ty     sql.NullFloat64
			durationNs int64
		)
		if err := rows.Scan(&f.FrameIndex, &f.RadarFile, &f.LidarFile, &f.RotationIndex,
			&f.Rotation, &f.Peak, &tx, &ty, &durationNs); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		f.TranslationX = floatPtr(tx)
		f.TranslationY = floatPtr(ty)
		f.Duration = time.Duration(durationNs)
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat64(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
