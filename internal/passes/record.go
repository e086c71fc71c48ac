package passes

// PassRecord is the history of one pass of a beacon. PeakTimeMs == 0 means
// no peak has been recorded yet.
type PassRecord struct {
	BeaconID       int        `json:"beacon_id"`
	PassID         int64      `json:"pass_id"`
	Engine         EngineKind `json:"engine"`
	State          State      `json:"state"`
	EntryTimeMs    int64      `json:"entry_time_ms"`
	HereTimeMs     int64      `json:"here_time_ms,omitempty"`
	PeakTimeMs     int64      `json:"peak_time_ms,omitempty"`
	ExitTimeMs     int64      `json:"exit_time_ms,omitempty"`
	EstimatedRSSI  float32    `json:"estimated_rssi"`
	PeakRSSI       float32    `json:"peak_rssi"`
	LowestRSSI     float32    `json:"lowest_rssi"`
	SampleCount    uint32     `json:"sample_count"`
	BelowPeakCount uint32     `json:"below_peak_count"`
	LastSeenMs     int64      `json:"last_seen_ms"`
	PeakRefined    bool       `json:"peak_refined"`
}

// Open reports whether the pass can still change.
func (r PassRecord) Open() bool {
	return !r.State.Terminal()
}

// HasPeak reports whether a peak time has been recorded.
func (r PassRecord) HasPeak() bool {
	return r.PeakTimeMs > 0
}

// trackLowest keeps LowestRSSI as the running minimum of v. The first sample
// of a pass seeds it.
func (r *PassRecord) trackLowest(v float32) {
	if r.SampleCount <= 1 || v < r.LowestRSSI {
		r.LowestRSSI = v
	}
}

// Transition is a single state change of a pass.
type Transition struct {
	From        State `json:"from"`
	To          State `json:"to"`
	TimestampMs int64 `json:"timestamp_ms"`
}

// stepper records transitions made while handling one sample.
type stepper struct {
	rec   *PassRecord
	now   int64
	moves []Transition
}

func (s *stepper) move(to State) {
	if s.rec.State == to {
		return
	}
	s.moves = append(s.moves, Transition{From: s.rec.State, To: to, TimestampMs: s.now})
	s.rec.State = to
}
