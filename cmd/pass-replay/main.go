// Command pass-replay runs a recorded samples CSV through the pass engines
// and prints one JSON result per pass.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/banshee-data/split.report/internal/config"
	"github.com/banshee-data/split.report/internal/export"
	"github.com/banshee-data/split.report/internal/monitoring"
	"github.com/banshee-data/split.report/internal/passes"
	"github.com/banshee-data/split.report/internal/passplot"
	"github.com/banshee-data/split.report/internal/rssi"
	"github.com/banshee-data/split.report/internal/security"
	"github.com/banshee-data/split.report/internal/units"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

// Result is the outcome of one pass under one engine.
type Result struct {
	Engine      passes.EngineKind `json:"engine"`
	BeaconID    int               `json:"beacon_id"`
	PassID      int64             `json:"pass_id"`
	State       passes.State      `json:"state"`
	Cause       string            `json:"cause,omitempty"`
	EntryTimeMs int64             `json:"entry_time_ms"`
	HereTimeMs  int64             `json:"here_time_ms,omitempty"`
	PeakTimeMs  int64             `json:"peak_time_ms,omitempty"`
	ExitTimeMs  int64             `json:"exit_time_ms,omitempty"`
	PeakRSSI    float32           `json:"peak_rssi"`
	Samples     int               `json:"samples"`
	Split       string            `json:"split,omitempty"`
	Transitions []string          `json:"transitions"`
	Plot        string            `json:"plot,omitempty"`
}

type replayOptions struct {
	input    string
	engines  []passes.EngineKind
	tuning   *config.TuningConfig
	gunMs    int64
	flush    bool
	plotDir  string
	rejected int
}

func parseArgs(args []string) (*replayOptions, error) {
	fs := flag.NewFlagSet("pass-replay", flag.ContinueOnError)
	input := fs.String("input", "", "Samples CSV (tagId,timestampMs,rssi columns)")
	engine := fs.String("engine", "both", "Engine: tca, threshold_kalman or both")
	configPath := fs.String("config", "", "Tuning JSON (defaults compiled in)")
	gun := fs.Int64("gun", 0, "Gun time in unix ms; adds split times")
	flush := fs.Bool("flush", true, "Sweep silent passes after the last sample")
	plotDir := fs.String("plot-dir", "", "Write one PNG per pass into this directory")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *input == "" {
		return nil, errors.New("-input is required")
	}

	opts := &replayOptions{input: *input, gunMs: *gun, flush: *flush, plotDir: *plotDir}
	switch *engine {
	case "both":
		opts.engines = []passes.EngineKind{passes.EngineTCA, passes.EngineThresholdKalman}
	default:
		k, err := passes.ParseEngineKind(*engine)
		if err != nil {
			return nil, err
		}
		opts.engines = []passes.EngineKind{k}
	}

	opts.tuning = config.EmptyTuningConfig()
	if *configPath != "" {
		cfg, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			return nil, err
		}
		opts.tuning = cfg
	}
	return opts, nil
}

func run(args []string, out io.Writer) error {
	monitoring.SetLogger(nil)
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	f, err := os.Open(opts.input)
	if err != nil {
		return err
	}
	samples, err := export.ReadSamplesCSV(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.input, err)
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].TimestampMs < samples[j].TimestampMs })

	if opts.plotDir != "" {
		if err := os.MkdirAll(opts.plotDir, 0755); err != nil {
			return err
		}
	}

	var results []Result
	for _, kind := range opts.engines {
		rs, err := replay(opts, kind, samples)
		if err != nil {
			return err
		}
		results = append(results, rs...)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// replay feeds samples through a fresh tracker running kind.
func replay(opts *replayOptions, kind passes.EngineKind, samples []rssi.Sample) ([]Result, error) {
	cfg := passes.ConfigFromTuning(opts.tuning)
	cfg.Engine = kind

	var (
		order     []int64
		byPass    = map[int64]*Result{}
		passTrace = map[int64][]rssi.Sample{}
	)
	sink := passes.SinkFunc(func(e passes.Event) {
		r, ok := byPass[e.PassID]
		if !ok {
			r = &Result{Engine: kind, BeaconID: e.BeaconID, PassID: e.PassID, Transitions: []string{}}
			byPass[e.PassID] = r
			order = append(order, e.PassID)
		}
		switch e.Kind {
		case passes.EventSample:
			if e.Sample != nil {
				passTrace[e.PassID] = append(passTrace[e.PassID], *e.Sample)
			}
		case passes.EventTransition:
			r.Transitions = append(r.Transitions, fmt.Sprintf("%s->%s@%d", e.From, e.To, e.TimestampMs))
		case passes.EventFinalized:
			r.Cause = e.Cause
		}
		fill(r, e.Record)
	})

	tracker := passes.NewTracker(cfg, sink)
	var lastMs int64
	for _, s := range samples {
		if _, err := tracker.Process(s); err != nil {
			opts.rejected++
			continue
		}
		lastMs = s.TimestampMs
	}
	if opts.flush && lastMs > 0 {
		tracker.Sweep(lastMs + cfg.LossTimeoutMs)
	}
	results := make([]Result, 0, len(order))
	for _, id := range order {
		r := byPass[id]
		r.Samples = len(passTrace[id])
		if opts.gunMs > 0 && r.PeakTimeMs > 0 {
			r.Split = units.FormatSplit(r.PeakTimeMs - opts.gunMs)
		}
		if opts.plotDir != "" && r.Samples > 0 {
			path, err := writePlot(opts, kind, r, passTrace[id], cfg.EmaAlpha)
			if err != nil {
				return nil, err
			}
			r.Plot = path
		}
		results = append(results, *r)
	}
	return results, nil
}

func fill(r *Result, rec passes.PassRecord) {
	r.State = rec.State
	r.EntryTimeMs = rec.EntryTimeMs
	r.HereTimeMs = rec.HereTimeMs
	r.PeakTimeMs = rec.PeakTimeMs
	r.ExitTimeMs = rec.ExitTimeMs
	r.PeakRSSI = rec.PeakRSSI
}

func writePlot(opts *replayOptions, kind passes.EngineKind, r *Result, trace []rssi.Sample, alpha float64) (string, error) {
	name := security.SanitizeFilename(fmt.Sprintf("%s_beacon%d_pass%d", kind, r.BeaconID, r.PassID)) + ".png"
	path := filepath.Join(opts.plotDir, name)
	if err := security.ValidatePathWithinDirectory(path, opts.plotDir); err != nil {
		return "", err
	}
	var peak *rssi.Peak
	if r.PeakTimeMs > 0 {
		peak = &rssi.Peak{TimeMs: r.PeakTimeMs, RSSI: r.PeakRSSI}
	}
	title := fmt.Sprintf("%s: beacon %d pass %d (%s)", kind, r.BeaconID, r.PassID, r.State)
	if err := passplot.WritePassPNG(path, title, trace, alpha, peak); err != nil {
		return "", err
	}
	return path, nil
}
