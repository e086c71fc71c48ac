package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/split.report/internal/config"
	"github.com/banshee-data/split.report/internal/monitoring"
	"github.com/banshee-data/split.report/internal/rssi"
)

func init() {
	monitoring.SetLogger(nil)
}

func devOptions(t *testing.T) options {
	t.Helper()
	return options{
		DBPath:         filepath.Join(t.TempDir(), "splits.db"),
		Listen:         "127.0.0.1:0",
		Dev:            true,
		ReplayInterval: time.Millisecond,
		Units:          "mps",
	}
}

func TestFlagDefaults(t *testing.T) {
	if *dbPath != "splits.db" {
		t.Errorf("-db default = %q", *dbPath)
	}
	if *listen != ":8080" {
		t.Errorf("-listen default = %q", *listen)
	}
	if *replayInterval != 200*time.Millisecond {
		t.Errorf("-replay-interval default = %v", *replayInterval)
	}
	if *devMode || *calibrate {
		t.Error("-dev and -calibrate must default to false")
	}
}

func TestOptionsValidate(t *testing.T) {
	base := options{DBPath: "x.db", Listen: ":8080", Port: "/dev/ttyUSB0", Units: "mps"}
	if err := base.validate(); err != nil {
		t.Fatalf("base options invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(o *options)
		want   string
	}{
		{"no listen", func(o *options) { o.Listen = "" }, "listen"},
		{"no port", func(o *options) { o.Port = "" }, "serial port"},
		{"no db", func(o *options) { o.DBPath = "" }, "database"},
		{"bad units", func(o *options) { o.Units = "knots" }, "units"},
		{"dev without interval", func(o *options) { o.Dev = true; o.ReplayInterval = 0 }, "replay interval"},
		{"bad framing", func(o *options) { o.Framing = "8X1" }, "parity"},
		{"bad beacon list", func(o *options) { o.Beacons = "3, x" }, "beacon id"},
		{"zero beacon", func(o *options) { o.Beacons = "0" }, "beacon id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base
			tt.mutate(&o)
			err := o.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}

	devNoPort := base
	devNoPort.Dev, devNoPort.Port, devNoPort.ReplayInterval = true, "", time.Second
	if err := devNoPort.validate(); err != nil {
		t.Errorf("dev mode should not need a port: %v", err)
	}
}

func TestSampleFilter(t *testing.T) {
	tuning := config.EmptyTuningConfig()

	all, err := options{}.sampleFilter(tuning)
	if err != nil {
		t.Fatal(err)
	}
	only, err := options{Beacons: "3, 7"}.sampleFilter(tuning)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		s        rssi.Sample
		all, one bool
	}{
		{rssi.Sample{BeaconID: 3, RSSI: -70}, true, true},
		{rssi.Sample{BeaconID: 7, RSSI: -60}, true, true},
		{rssi.Sample{BeaconID: 5, RSSI: -70}, true, false},
		{rssi.Sample{BeaconID: 3, RSSI: -10}, false, false},
		{rssi.Sample{BeaconID: 7, RSSI: -120}, false, false},
	}
	for _, tt := range tests {
		if got := all.Accept(tt.s); got != tt.all {
			t.Errorf("all beacons: Accept(%v) = %t, want %t", tt.s, got, tt.all)
		}
		if got := only.Accept(tt.s); got != tt.one {
			t.Errorf("-beacons 3,7: Accept(%v) = %t, want %t", tt.s, got, tt.one)
		}
	}
}

func TestLoadTuning(t *testing.T) {
	cfg, err := loadTuning("")
	if err != nil {
		t.Fatalf("loadTuning(\"\"): %v", err)
	}
	if cfg.GetEngine() != config.EngineTCA {
		t.Errorf("default engine = %q", cfg.GetEngine())
	}

	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(`{"engine":"threshold_kalman"}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadTuning(path)
	if err != nil {
		t.Fatalf("loadTuning(%s): %v", path, err)
	}
	if cfg.GetEngine() != config.EngineThresholdKalman {
		t.Errorf("engine = %q", cfg.GetEngine())
	}

	if _, err := loadTuning(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRunMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	if code := runMigrate([]string{"-db", path, "up"}); code != 0 {
		t.Errorf("migrate up exit = %d", code)
	}
	if code := runMigrate([]string{"-db", path, "explode"}); code != 1 {
		t.Errorf("unknown action exit = %d, want 1", code)
	}
	if code := runMigrate([]string{"-nope"}); code != 2 {
		t.Errorf("bad flag exit = %d, want 2", code)
	}
}

func TestDaemonHandler(t *testing.T) {
	d, err := newDaemon(devOptions(t))
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	defer d.Close()

	for _, path := range []string{"/api/status", "/api/passes", "/api/sweep", "/metrics"} {
		rec := httptest.NewRecorder()
		d.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d: %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestCalibrateModeHasNoTracker(t *testing.T) {
	opts := devOptions(t)
	opts.Calibrate = true
	d, err := newDaemon(opts)
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	defer d.Close()

	if d.tracker != nil || d.recorder != nil || d.queue != nil {
		t.Error("calibration mode must not track or record passes")
	}
	if d.ingestor.Processor != nil {
		t.Error("calibration ingestor must have no processor")
	}
	rec := httptest.NewRecorder()
	d.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d", rec.Code)
	}
}

func TestDaemonRunIngestsReplay(t *testing.T) {
	d, err := newDaemon(devOptions(t))
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for d.ingestor.Stats().Samples < 20 {
		if time.Now().After(deadline) {
			t.Fatalf("ingested only %d samples", d.ingestor.Stats().Samples)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if d.recorder.Status().EventsWritten == 0 {
		t.Error("recorder wrote no events")
	}
}
