package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/split.report/internal/api"
	"github.com/banshee-data/split.report/internal/config"
	"github.com/banshee-data/split.report/internal/db"
	"github.com/banshee-data/split.report/internal/export"
	"github.com/banshee-data/split.report/internal/httputil"
	"github.com/banshee-data/split.report/internal/monitoring"
	"github.com/banshee-data/split.report/internal/passes"
	"github.com/banshee-data/split.report/internal/rssi"
	"github.com/banshee-data/split.report/internal/serialmux"
	"github.com/banshee-data/split.report/internal/units"
)

// options are the parsed command line settings.
type options struct {
	ConfigPath     string
	DBPath         string
	Port           string
	BaudRate       int
	Framing        string
	Listen         string
	Dev            bool
	ReplayInterval time.Duration
	Calibrate      bool
	Units          string
	Beacons        string
}

func (o options) validate() error {
	if o.Listen == "" {
		return errors.New("listen address is required")
	}
	if !o.Dev && o.Port == "" {
		return errors.New("serial port is required")
	}
	if o.DBPath == "" {
		return errors.New("database path is required")
	}
	if !units.IsValid(o.Units) {
		return fmt.Errorf("invalid units %q: must be one of %s", o.Units, units.GetValidUnitsString())
	}
	if o.Dev && o.ReplayInterval <= 0 {
		return errors.New("replay interval must be positive")
	}
	if _, err := o.portOptions(); err != nil {
		return err
	}
	if _, err := o.beaconSet(); err != nil {
		return err
	}
	return nil
}

// beaconSet parses the -beacons list. An empty list means every beacon.
func (o options) beaconSet() (map[int]bool, error) {
	if strings.TrimSpace(o.Beacons) == "" {
		return nil, nil
	}
	set := make(map[int]bool)
	for _, field := range strings.Split(o.Beacons, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid beacon id %q in -beacons", field)
		}
		set[id] = true
	}
	return set, nil
}

// sampleFilter drops readings outside the tuned RSSI bounds and, when
// -beacons is set, readings from beacons not in the list.
func (o options) sampleFilter(tuning *config.TuningConfig) (rssi.Filter, error) {
	bounds := rssi.BoundsFilter{Min: int32(tuning.GetFilterMinRSSI()), Max: int32(tuning.GetFilterMaxRSSI())}
	set, err := o.beaconSet()
	if err != nil || set == nil {
		return bounds, err
	}
	return rssi.Chain{bounds, rssi.FilterFunc(func(s rssi.Sample) bool { return set[s.BeaconID] })}, nil
}

func (o options) portOptions() (serialmux.PortOptions, error) {
	return serialmux.ParsePortOptions(o.BaudRate, o.Framing)
}

// loadTuning reads the tuning file, or the compiled defaults when path is
// empty.
func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// daemon owns every long-running component of the receiver.
type daemon struct {
	opts     options
	tuning   *config.TuningConfig
	store    *db.DB
	mux      serialmux.SerialMuxInterface
	metrics  *monitoring.Metrics
	queue    *passes.Queue
	tracker  *passes.Tracker
	sweeper  *passes.LossSweeper
	recorder *db.Recorder
	uploader *export.Uploader
	ingestor *serialmux.Ingestor
	server   *http.Server
}

func newDaemon(opts options) (*daemon, error) {
	tuning, err := loadTuning(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	d := &daemon{opts: opts, tuning: tuning, metrics: monitoring.NewMetrics()}

	d.store, err = db.NewDB(opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.Dev {
		d.mux = serialmux.NewReplaySerialMux(serialmux.SyntheticPassLines(1), opts.ReplayInterval)
	} else {
		portOpts, _ := opts.portOptions()
		d.mux, err = serialmux.NewRealSerialMux(opts.Port, portOpts)
		if err != nil {
			d.store.Close()
			return nil, fmt.Errorf("failed to open receiver on %s: %w", opts.Port, err)
		}
		monitoring.Logf("[receiver] opened %s at %s", opts.Port, portOpts)
	}

	filter, err := opts.sampleFilter(tuning)
	if err != nil {
		d.Close()
		return nil, err
	}
	if opts.Calibrate {
		d.ingestor = serialmux.NewIngestor(d.mux, nil)
	} else {
		d.queue = passes.NewQueue(tuning.GetEventQueueSize())
		d.queue.SetMetrics(d.metrics)
		d.tracker = passes.NewTracker(passes.ConfigFromTuning(tuning), d.queue)
		d.tracker.SetMetrics(d.metrics)

		restored, err := d.store.WarmStart(d.tracker)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to warm start: %w", err)
		}
		if restored > 0 {
			log.Printf("restored %d open passes", restored)
		}

		d.sweeper = passes.NewLossSweeper(d.tracker, nil)
		d.recorder = db.NewRecorder(d.store, tuning.GetRetainSamples())

		client := httputil.NewClient(tuning.GetUploadTimeout())
		d.uploader = export.NewUploader(client, d.store, tuning.GetUploadURL(), tuning.GetUploadTimeout())
		d.uploader.Metrics = d.metrics
		d.recorder.OnFinalized(d.uploader.Notify)

		d.ingestor = serialmux.NewIngestor(d.mux, d.tracker)
	}
	d.ingestor.Filter = filter
	d.ingestor.Metrics = d.metrics

	d.server = &http.Server{Addr: opts.Listen, Handler: d.handler()}
	return d, nil
}

func (d *daemon) handler() http.Handler {
	mux := http.NewServeMux()
	if d.tracker != nil {
		srv := api.NewServer(d.store, d.tracker, d.opts.Units)
		srv.Sweeper = d.sweeper
		srv.Recorder = d.recorder
		srv.Ingestor = d.ingestor
		srv.Uploader = d.uploader
		srv.Queue = d.queue
		srv.Metrics = d.metrics
		srv.Mux = d.mux
		srv.AttachRoutes(mux)
	} else {
		mux.Handle("GET /metrics", d.metrics.Handler())
	}
	d.mux.AttachAdminRoutes(mux)
	if err := d.store.AttachAdminRoutes(mux); err != nil {
		log.Printf("database admin routes unavailable: %v", err)
	}
	return api.LoggingMiddleware(mux)
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (d *daemon) Run(ctx context.Context) error {
	if err := d.mux.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize receiver: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := d.mux.Monitor(ctx)
		log.Print("monitor routine terminated")
		return ignoreCanceled(err)
	})
	g.Go(func() error {
		err := d.ingestor.Run(ctx)
		if d.queue != nil {
			// No more samples reach the tracker once ingest stops.
			d.queue.Close()
		}
		log.Print("ingest routine terminated")
		return ignoreCanceled(err)
	})

	if d.tracker != nil {
		g.Go(func() error {
			// Drains whatever is queued after ctx ends, so it gets its own context.
			err := d.recorder.Run(context.WithoutCancel(ctx), d.queue.Events())
			log.Print("recorder routine terminated")
			return err
		})
		g.Go(func() error {
			return ignoreCanceled(d.sweeper.Run(ctx))
		})
		g.Go(func() error {
			return ignoreCanceled(d.uploader.Run(ctx))
		})
	}

	g.Go(func() error {
		log.Printf("listening on %s", d.opts.Listen)
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			log.Printf("failed to shut down HTTP server: %v", err)
			d.server.Close()
		}
		return nil
	})

	return g.Wait()
}

// Close releases the receiver and the database.
func (d *daemon) Close() {
	if d.mux != nil {
		d.mux.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
