package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// RaceContext describes the race the timing point is recording for and
// where its splits are uploaded.
type RaceContext struct {
	ID                int64  `json:"id"`
	EventName         string `json:"event_name"`
	RaceName          string `json:"race_name"`
	RaceID            int64  `json:"race_id"`
	GunTimeMs         int64  `json:"gun_time_ms"`
	SplitAssignmentID int64  `json:"split_assignment_id"`
	SplitName         string `json:"split_name"`
	AuthToken         string `json:"-"`
	BaseURL           string `json:"base_url"`
	CreatedAtMs       int64  `json:"created_at_ms"`
}

// HasGunTime reports whether the race has started.
func (r RaceContext) HasGunTime() bool {
	return r.GunTimeMs > 0
}

// Racer maps a beacon id to a runner.
type Racer struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	SplitAssignmentID int64  `json:"split_assignment_id"`
}

// SetRaceContext appends a new race context; the latest one wins. The
// assigned id is written back to rc.
func (db *DB) SetRaceContext(rc *RaceContext) error {
	res, err := db.Exec(`
		INSERT INTO race_context (event_name, race_name, race_id, gun_time_ms,
			split_assignment_id, split_name, auth_token, base_url, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rc.EventName, rc.RaceName, rc.RaceID, rc.GunTimeMs,
		rc.SplitAssignmentID, rc.SplitName, rc.AuthToken, rc.BaseURL, rc.CreatedAtMs)
	if err != nil {
		return fmt.Errorf("failed to insert race context: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read race context id: %w", err)
	}
	rc.ID = id
	return nil
}

// LatestRaceContext returns the most recently stored race context, or
// ErrNotFound when none has been set.
func (db *DB) LatestRaceContext() (RaceContext, error) {
	var rc RaceContext
	err := db.QueryRow(`
		SELECT id, event_name, race_name, race_id, gun_time_ms,
			split_assignment_id, split_name, auth_token, base_url, created_at_ms
		FROM race_context ORDER BY id DESC LIMIT 1
	`).Scan(&rc.ID, &rc.EventName, &rc.RaceName, &rc.RaceID, &rc.GunTimeMs,
		&rc.SplitAssignmentID, &rc.SplitName, &rc.AuthToken, &rc.BaseURL, &rc.CreatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return rc, ErrNotFound
	}
	if err != nil {
		return rc, fmt.Errorf("failed to load race context: %w", err)
	}
	return rc, nil
}

// UpsertRacer stores or renames a racer.
func (db *DB) UpsertRacer(r Racer) error {
	if r.ID <= 0 {
		return fmt.Errorf("invalid racer id %d", r.ID)
	}
	_, err := db.Exec(`
		INSERT INTO racers (id, name, split_assignment_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			split_assignment_id = excluded.split_assignment_id
	`, r.ID, r.Name, r.SplitAssignmentID)
	if err != nil {
		return fmt.Errorf("failed to upsert racer %d: %w", r.ID, err)
	}
	return nil
}

// Racers returns all racers keyed by id.
func (db *DB) Racers() (map[int]Racer, error) {
	rows, err := db.Query(`SELECT id, name, split_assignment_id FROM racers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query racers: %w", err)
	}
	defer rows.Close()

	out := make(map[int]Racer)
	for rows.Next() {
		var r Racer
		if err := rows.Scan(&r.ID, &r.Name, &r.SplitAssignmentID); err != nil {
			return nil, err
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}
