package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/split.report/internal/passes"
	"github.com/banshee-data/split.report/internal/rssi"
)

const passColumns = `pass_id, beacon_id, engine, state, entry_time_ms, here_time_ms,
	peak_time_ms, exit_time_ms, estimated_rssi, peak_rssi, lowest_rssi,
	sample_count, below_peak_count, last_seen_ms, peak_refined`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPass(s rowScanner) (passes.PassRecord, error) {
	var (
		rec     passes.PassRecord
		engine  string
		state   string
		refined int
	)
	err := s.Scan(&rec.PassID, &rec.BeaconID, &engine, &state, &rec.EntryTimeMs, &rec.HereTimeMs,
		&rec.PeakTimeMs, &rec.ExitTimeMs, &rec.EstimatedRSSI, &rec.PeakRSSI, &rec.LowestRSSI,
		&rec.SampleCount, &rec.BelowPeakCount, &rec.LastSeenMs, &refined)
	if err != nil {
		return rec, err
	}
	rec.Engine = passes.EngineKind(engine)
	rec.State = passes.State(state)
	rec.PeakRefined = refined != 0
	return rec, nil
}

func scanPasses(rows *sql.Rows) ([]passes.PassRecord, error) {
	defer rows.Close()
	var out []passes.PassRecord
	for rows.Next() {
		rec, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertPass(x execer, rec passes.PassRecord) error {
	refined := 0
	if rec.PeakRefined {
		refined = 1
	}
	_, err := x.Exec(`
		INSERT INTO passes (`+passColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CAST(strftime('%s', 'now') AS INTEGER))
		ON CONFLICT(pass_id) DO UPDATE SET
			state = excluded.state,
			here_time_ms = excluded.here_time_ms,
			peak_time_ms = excluded.peak_time_ms,
			exit_time_ms = excluded.exit_time_ms,
			estimated_rssi = excluded.estimated_rssi,
			peak_rssi = excluded.peak_rssi,
			lowest_rssi = excluded.lowest_rssi,
			sample_count = excluded.sample_count,
			below_peak_count = excluded.below_peak_count,
			last_seen_ms = excluded.last_seen_ms,
			peak_refined = excluded.peak_refined,
			updated_at = excluded.updated_at
	`, rec.PassID, rec.BeaconID, string(rec.Engine), string(rec.State), rec.EntryTimeMs, rec.HereTimeMs,
		rec.PeakTimeMs, rec.ExitTimeMs, rec.EstimatedRSSI, rec.PeakRSSI, rec.LowestRSSI,
		rec.SampleCount, rec.BelowPeakCount, rec.LastSeenMs, refined)
	if err != nil {
		return fmt.Errorf("failed to upsert pass %d: %w", rec.PassID, err)
	}
	return nil
}

// UpsertPass inserts a pass or updates its mutable columns.
func (db *DB) UpsertPass(rec passes.PassRecord) error {
	return upsertPass(db, rec)
}

// PassByID returns one pass, or ErrNotFound.
func (db *DB) PassByID(passID int64) (passes.PassRecord, error) {
	row := db.QueryRow(`SELECT `+passColumns+` FROM passes WHERE pass_id = ?`, passID)
	rec, err := scanPass(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("failed to load pass %d: %w", passID, err)
	}
	return rec, nil
}

// OpenPasses returns every pass not yet in a terminal state, oldest first.
func (db *DB) OpenPasses() ([]passes.PassRecord, error) {
	rows, err := db.Query(`SELECT `+passColumns+` FROM passes
		WHERE state NOT IN (?, ?)
		ORDER BY entry_time_ms ASC, pass_id ASC`, string(passes.Logged), string(passes.TimedOut))
	if err != nil {
		return nil, fmt.Errorf("failed to query open passes: %w", err)
	}
	return scanPasses(rows)
}

// RecentPasses returns up to limit passes, newest first.
func (db *DB) RecentPasses(limit int) ([]passes.PassRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+passColumns+` FROM passes
		ORDER BY entry_time_ms DESC, pass_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent passes: %w", err)
	}
	return scanPasses(rows)
}

// FinalizedPasses returns LOGGED passes whose exit time is at or after
// sinceMs, in exit order.
func (db *DB) FinalizedPasses(sinceMs int64) ([]passes.PassRecord, error) {
	rows, err := db.Query(`SELECT `+passColumns+` FROM passes
		WHERE state = ? AND exit_time_ms >= ?
		ORDER BY exit_time_ms ASC, pass_id ASC`, string(passes.Logged), sinceMs)
	if err != nil {
		return nil, fmt.Errorf("failed to query finalized passes: %w", err)
	}
	return scanPasses(rows)
}

// MaxPassID returns the highest stored pass id, or 0 for an empty table.
func (db *DB) MaxPassID() (int64, error) {
	var id sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(pass_id) FROM passes`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to query max pass id: %w", err)
	}
	return id.Int64, nil
}

func insertSample(x execer, passID int64, s rssi.Sample) error {
	_, err := x.Exec(`INSERT INTO pass_samples (pass_id, beacon_id, timestamp_ms, rssi) VALUES (?, ?, ?, ?)`,
		passID, s.BeaconID, s.TimestampMs, s.RSSI)
	if err != nil {
		return fmt.Errorf("failed to insert sample for pass %d: %w", passID, err)
	}
	return nil
}

// InsertSample stores one raw sample against its pass. The pass row must
// already exist.
func (db *DB) InsertSample(passID int64, s rssi.Sample) error {
	return insertSample(db, passID, s)
}

// SamplesForPass returns the raw samples of a pass in timestamp order.
func (db *DB) SamplesForPass(passID int64) ([]rssi.Sample, error) {
	rows, err := db.Query(`SELECT beacon_id, timestamp_ms, rssi FROM pass_samples
		WHERE pass_id = ? ORDER BY timestamp_ms ASC, sample_id ASC`, passID)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples for pass %d: %w", passID, err)
	}
	defer rows.Close()

	var out []rssi.Sample
	for rows.Next() {
		var s rssi.Sample
		if err := rows.Scan(&s.BeaconID, &s.TimestampMs, &s.RSSI); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SampleCounts returns the stored sample count per pass id.
func (db *DB) SampleCounts() (map[int64]int, error) {
	rows, err := db.Query(`SELECT pass_id, COUNT(*) FROM pass_samples GROUP BY pass_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count samples: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// PruneSamples deletes the stored samples of a pass and returns how many
// rows were removed.
func (db *DB) PruneSamples(passID int64) (int64, error) {
	res, err := db.Exec(`DELETE FROM pass_samples WHERE pass_id = ?`, passID)
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples for pass %d: %w", passID, err)
	}
	return res.RowsAffected()
}
