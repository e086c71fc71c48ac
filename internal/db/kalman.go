package db

import (
	"fmt"

	"github.com/banshee-data/split.report/internal/rssi"
)

func saveKalmanState(x execer, st rssi.KalmanState) error {
	initialized := 0
	if st.Initialized {
		initialized = 1
	}
	_, err := x.Exec(`
		INSERT INTO kalman_states (beacon_id, q, r, p, x, initialized)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(beacon_id) DO UPDATE SET
			q = excluded.q, r = excluded.r, p = excluded.p,
			x = excluded.x, initialized = excluded.initialized
	`, st.BeaconID, st.Q, st.R, st.P, st.X, initialized)
	if err != nil {
		return fmt.Errorf("failed to save kalman state for beacon %d: %w", st.BeaconID, err)
	}
	return nil
}

// SaveKalmanState stores the latest filter state of a beacon.
func (db *DB) SaveKalmanState(st rssi.KalmanState) error {
	return saveKalmanState(db, st)
}

// DeleteKalmanState forgets a beacon's filter, typically once its pass is
// finalized.
func (db *DB) DeleteKalmanState(beaconID int) error {
	if _, err := db.Exec(`DELETE FROM kalman_states WHERE beacon_id = ?`, beaconID); err != nil {
		return fmt.Errorf("failed to delete kalman state for beacon %d: %w", beaconID, err)
	}
	return nil
}

// KalmanStates returns every stored filter state keyed by beacon id.
func (db *DB) KalmanStates() (map[int]rssi.KalmanState, error) {
	rows, err := db.Query(`SELECT beacon_id, q, r, p, x, initialized FROM kalman_states`)
	if err != nil {
		return nil, fmt.Errorf("failed to query kalman states: %w", err)
	}
	defer rows.Close()

	out := make(map[int]rssi.KalmanState)
	for rows.Next() {
		var st rssi.KalmanState
		var initialized int
		if err := rows.Scan(&st.BeaconID, &st.Q, &st.R, &st.P, &st.X, &initialized); err != nil {
			return nil, err
		}
		st.Initialized = initialized != 0
		out[st.BeaconID] = st
	}
	return out, rows.Err()
}
