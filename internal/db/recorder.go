package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/split.report/internal/monitoring"
	"github.com/banshee-data/split.report/internal/passes"
	"github.com/banshee-data/split.report/internal/rssi"
	"github.com/banshee-data/split.report/internal/timeutil"
)

// Recorder drains tracker events into the database. Each wake-up writes
// the waiting events in one transaction. A failed transaction is retried
// with exponential backoff; after RetryAttempts failures the sample events
// of the batch are dropped and its pass events are carried into the next
// flush.
type Recorder struct {
	DB            *DB
	RetainSamples bool
	BatchSize     int

	Clock         timeutil.Clock
	RetryAttempts int
	RetryBackoff  time.Duration
	MaxBackoff    time.Duration

	commit func(*sql.Tx) error

	mu          sync.RWMutex
	onFinalized []func(passes.PassRecord)

	batches      int64
	written      int64
	lastFlushAt  time.Time
	lastFlushErr error
}

// RecorderStatus is the externally visible state of the recorder.
type RecorderStatus struct {
	Batches       int64     `json:"batches"`
	EventsWritten int64     `json:"events_written"`
	LastFlushAt   time.Time `json:"last_flush_at"`
	LastError     string    `json:"last_error,omitempty"`
	IsHealthy     bool      `json:"is_healthy"`
}

func NewRecorder(db *DB, retainSamples bool) *Recorder {
	return &Recorder{
		DB:            db,
		RetainSamples: retainSamples,
		BatchSize:     256,
		Clock:         timeutil.RealClock{},
		RetryAttempts: 6,
		RetryBackoff:  250 * time.Millisecond,
		MaxBackoff:    10 * time.Second,
	}
}

// OnFinalized registers fn to run after a finalized pass is committed.
// Callbacks run on the recorder goroutine and must not block for long.
func (r *Recorder) OnFinalized(fn func(passes.PassRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFinalized = append(r.onFinalized, fn)
}

// Status returns counters for the admin API.
func (r *Recorder) Status() RecorderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := RecorderStatus{
		Batches:       r.batches,
		EventsWritten: r.written,
		LastFlushAt:   r.lastFlushAt,
		IsHealthy:     r.lastFlushErr == nil,
	}
	if r.lastFlushErr != nil {
		st.LastError = r.lastFlushErr.Error()
	}
	return st
}

// Run consumes events until ctx is cancelled or the channel is closed.
// Write errors are retried and logged; the loop keeps going.
func (r *Recorder) Run(ctx context.Context, events <-chan passes.Event) error {
	monitoring.Logf("[recorder] started: retain_samples=%t batch=%d", r.RetainSamples, r.BatchSize)
	var carry []passes.Event
	for {
		var retry <-chan time.Time
		if len(carry) > 0 {
			retry = r.Clock.After(r.MaxBackoff)
		}
		select {
		case <-ctx.Done():
			monitoring.Logf("[recorder] terminated")
			return ctx.Err()
		case <-retry:
			carry = r.flushOrCarry(ctx, carry)
		case e, ok := <-events:
			if !ok {
				monitoring.Logf("[recorder] event channel closed")
				if len(carry) > 0 {
					if err := r.Flush(ctx, carry); err != nil {
						monitoring.Logf("[recorder] lost %d pass events at shutdown: %v", len(carry), err)
						return err
					}
				}
				return nil
			}
			batch := append(carry, r.collect(e, events)...)
			carry = r.flushOrCarry(ctx, batch)
		}
	}
}

// flushOrCarry writes batch with retries. When every attempt fails it
// returns the transition and finalized events of batch so that no pass
// state change is lost.
func (r *Recorder) flushOrCarry(ctx context.Context, batch []passes.Event) []passes.Event {
	err := r.flushWithRetry(ctx, batch)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	var keep []passes.Event
	for _, e := range batch {
		if e.Kind != passes.EventSample {
			keep = append(keep, e)
		}
	}
	monitoring.Logf("[recorder] giving up on %d events: %v; keeping %d pass events for the next flush", len(batch), err, len(keep))
	return keep
}

func (r *Recorder) flushWithRetry(ctx context.Context, batch []passes.Event) error {
	backoff := r.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := r.Flush(ctx, batch)
		if err == nil || attempt >= r.RetryAttempts {
			return err
		}
		monitoring.Logf("[recorder] flush of %d events failed (attempt %d): %v; retrying in %s", len(batch), attempt, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.Clock.After(backoff):
		}
		backoff = min(2*backoff, r.MaxBackoff)
	}
}

// collect gathers first plus whatever is already buffered, up to BatchSize.
func (r *Recorder) collect(first passes.Event, events <-chan passes.Event) []passes.Event {
	limit := r.BatchSize
	if limit < 1 {
		limit = 1
	}
	batch := []passes.Event{first}
	for len(batch) < limit {
		select {
		case e, ok := <-events:
			if !ok {
				return batch
			}
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

// Flush writes a batch of events in one transaction and then runs the
// finalized callbacks for the passes it committed.
func (r *Recorder) Flush(ctx context.Context, batch []passes.Event) error {
	if len(batch) == 0 {
		return nil
	}
	finalized, err := r.write(ctx, batch)

	r.mu.Lock()
	r.batches++
	r.lastFlushAt = time.Now()
	r.lastFlushErr = err
	if err == nil {
		r.written += int64(len(batch))
	}
	callbacks := append(([]func(passes.PassRecord))(nil), r.onFinalized...)
	r.mu.Unlock()

	if err != nil {
		return err
	}
	for _, rec := range finalized {
		for _, fn := range callbacks {
			fn(rec)
		}
	}
	return nil
}

func (r *Recorder) write(ctx context.Context, batch []passes.Event) ([]passes.PassRecord, error) {
	tx, err := r.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			// ErrTxDone means transaction was already committed/rolled back
			monitoring.Logf("[recorder] warning: failed to rollback transaction: %v", err)
		}
	}()

	var finalized []passes.PassRecord
	for _, e := range batch {
		if err := upsertPass(tx, e.Record); err != nil {
			return nil, err
		}
		switch e.Kind {
		case passes.EventSample:
			if e.Sample != nil {
				if err := insertSample(tx, e.PassID, *e.Sample); err != nil {
					return nil, err
				}
			}
			if e.Kalman != nil {
				if err := saveKalmanState(tx, *e.Kalman); err != nil {
					return nil, err
				}
			}
		case passes.EventFinalized:
			if _, err := tx.Exec(`DELETE FROM kalman_states WHERE beacon_id = ?`, e.BeaconID); err != nil {
				return nil, fmt.Errorf("failed to delete kalman state for beacon %d: %w", e.BeaconID, err)
			}
			if !r.RetainSamples {
				if _, err := tx.Exec(`DELETE FROM pass_samples WHERE pass_id = ?`, e.PassID); err != nil {
					return nil, fmt.Errorf("failed to prune samples for pass %d: %w", e.PassID, err)
				}
			}
			finalized = append(finalized, e.Record)
		}
	}

	commit := r.commit
	if commit == nil {
		commit = (*sql.Tx).Commit
	}
	if err := commit(tx); err != nil {
		return nil, fmt.Errorf("failed to commit events: %w", err)
	}
	return finalized, nil
}

// WarmStart restores the tracker's open passes and Kalman filters from
// the database and moves the pass id counter past every stored pass.
// It returns the number of passes restored.
func (db *DB) WarmStart(t *passes.Tracker) (int, error) {
	maxID, err := db.MaxPassID()
	if err != nil {
		return 0, err
	}
	t.SetNextPassID(maxID + 1)

	open, err := db.OpenPasses()
	if err != nil {
		return 0, err
	}
	states, err := db.KalmanStates()
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, rec := range open {
		samples, err := db.SamplesForPass(rec.PassID)
		if err != nil {
			return restored, err
		}
		var kst *rssi.KalmanState
		if st, ok := states[rec.BeaconID]; ok {
			kst = &st
		}
		if err := t.Restore(rec, kst, samples); err != nil {
			monitoring.Logf("[db] warm start skipped pass %d of beacon %d: %v", rec.PassID, rec.BeaconID, err)
			continue
		}
		restored++
	}
	if restored > 0 {
		monitoring.Logf("[db] warm start restored %d open passes", restored)
	}
	return restored, nil
}
