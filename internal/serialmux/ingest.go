package serialmux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/split.report/internal/monitoring"
	"github.com/banshee-data/split.report/internal/passes"
	"github.com/banshee-data/split.report/internal/rssi"
	"github.com/banshee-data/split.report/internal/timeutil"
)

// SampleProcessor consumes filtered samples. *passes.Tracker implements it.
type SampleProcessor interface {
	Process(s rssi.Sample) (passes.Update, error)
}

// DeviceState holds the latest status values reported by the receiver.
type DeviceState struct {
	mu     sync.RWMutex
	values map[string]any
}

// Merge adds the fields of a JSON status line.
func (d *DeviceState) Merge(payload string) error {
	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return fmt.Errorf("failed to unmarshal status JSON: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.values == nil {
		d.values = make(map[string]any)
	}
	for k, v := range values {
		d.values[k] = v
	}
	return nil
}

// Snapshot returns a copy of the current values.
func (d *DeviceState) Snapshot() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]any, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// IngestStats counts what the ingest loop has seen.
type IngestStats struct {
	Lines     uint64 `json:"lines"`
	Samples   uint64 `json:"samples"`
	Filtered  uint64 `json:"filtered"`
	Malformed uint64 `json:"malformed"`
	Rejected  uint64 `json:"rejected"`
	Status    uint64 `json:"status"`
}

// Ingestor reads receiver lines from a mux, filters the samples and hands
// them to a processor. With a nil Processor it only logs samples, which is
// the calibration mode.
type Ingestor struct {
	Mux       SerialMuxInterface
	Filter    rssi.Filter
	Processor SampleProcessor
	Clock     timeutil.Clock
	State     *DeviceState
	Metrics   *monitoring.Metrics

	lines, samples, filtered, malformed, rejected, status atomic.Uint64
}

// NewIngestor wires a mux to a processor with the default bounds filter.
func NewIngestor(mux SerialMuxInterface, processor SampleProcessor) *Ingestor {
	return &Ingestor{
		Mux:       mux,
		Filter:    rssi.DefaultBoundsFilter(),
		Processor: processor,
		Clock:     timeutil.RealClock{},
		State:     &DeviceState{},
	}
}

// HandleLine processes one receiver line. Malformed lines and tracker
// rejections are returned as errors; the caller decides whether to log.
func (in *Ingestor) HandleLine(line string) error {
	in.lines.Add(1)
	switch ClassifyLine(line) {
	case LineTypeSample:
		return in.handleSample(line)
	case LineTypeStatus:
		in.status.Add(1)
		if in.State == nil {
			return nil
		}
		return in.State.Merge(line)
	case LineTypeComment:
		return nil
	default:
		in.malformed.Add(1)
		in.Metrics.IncRejected("malformed")
		return fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
}

func (in *Ingestor) handleSample(line string) error {
	s, err := ParseSample(line)
	if err != nil {
		in.malformed.Add(1)
		in.Metrics.IncRejected("malformed")
		return err
	}
	if s.TimestampMs == 0 && in.Clock != nil {
		s.TimestampMs = in.Clock.NowMs()
	}
	if in.Filter != nil && !in.Filter.Accept(s) {
		in.filtered.Add(1)
		in.Metrics.IncRejected("out_of_bounds")
		return nil
	}
	in.samples.Add(1)

	if in.Processor == nil {
		monitoring.Logf("[calibrate] %s", s)
		return nil
	}
	if _, err := in.Processor.Process(s); err != nil {
		in.rejected.Add(1)
		return err
	}
	return nil
}

// Stats returns the current counters.
func (in *Ingestor) Stats() IngestStats {
	return IngestStats{
		Lines:     in.lines.Load(),
		Samples:   in.samples.Load(),
		Filtered:  in.filtered.Load(),
		Malformed: in.malformed.Load(),
		Rejected:  in.rejected.Load(),
		Status:    in.status.Load(),
	}
}

// Run subscribes to the mux and handles lines until ctx is done or the mux
// closes the subscription.
func (in *Ingestor) Run(ctx context.Context) error {
	id, lines := in.Mux.Subscribe()
	defer in.Mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := in.HandleLine(line); err != nil {
				if errors.Is(err, ErrMalformedLine) {
					monitoring.Logf("[ingest] skipped line: %v", err)
				} else {
					monitoring.Logf("[ingest] sample rejected: %v", err)
				}
			}
		}
	}
}
