package passplot

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/split.report/internal/rssi"
	"github.com/banshee-data/split.report/internal/testutil"
)

func TestBuildSeries(t *testing.T) {
	samples := testutil.PassSamples(3, 1000)
	s := BuildSeries(samples, 0.3)

	if s.StartMs != 1000 {
		t.Errorf("StartMs = %d, want 1000", s.StartMs)
	}
	if len(s.Seconds) != len(samples) || len(s.ZeroPhase) != len(samples) || len(s.Forward) != len(samples) {
		t.Fatalf("series lengths %d/%d/%d", len(s.Seconds), len(s.Forward), len(s.ZeroPhase))
	}
	if s.Seconds[5] != 1.0 {
		t.Errorf("Seconds[5] = %f, want 1.0", s.Seconds[5])
	}
	if s.Raw[9] != -60 {
		t.Errorf("Raw[9] = %f, want -60", s.Raw[9])
	}

	if got := BuildSeries(nil, 0.3); len(got.Seconds) != 0 {
		t.Errorf("empty input gave %d points", len(got.Seconds))
	}
}

func TestWritePassPNG(t *testing.T) {
	samples := testutil.PassSamples(3, 1000)
	peak, ok := rssi.RefinePeak(samples, 0.3)
	if !ok {
		t.Fatal("RefinePeak not ready")
	}

	path := filepath.Join(t.TempDir(), "pass_3.png")
	if err := WritePassPNG(path, "beacon 3", samples, 0.3, &peak); err != nil {
		t.Fatalf("WritePassPNG failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read plot: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Error("output is not a PNG")
	}
}

func TestWritePassPNGErrors(t *testing.T) {
	dir := t.TempDir()
	if err := WritePassPNG(filepath.Join(dir, "x.svg"), "", testutil.PassSamples(1, 0), 0.3, nil); err == nil {
		t.Error("expected extension error")
	}
	if err := WritePassPNG(filepath.Join(dir, "x.png"), "", nil, 0.3, nil); !errors.Is(err, ErrNoSamples) {
		t.Errorf("err = %v, want ErrNoSamples", err)
	}
}
