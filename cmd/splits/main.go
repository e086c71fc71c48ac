package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/split.report/internal/db"
	"github.com/banshee-data/split.report/internal/serialmux"
	"github.com/banshee-data/split.report/internal/units"
	"github.com/banshee-data/split.report/internal/version"
)

var (
	configPath     = flag.String("config", "", "Path to tuning JSON (defaults compiled in)")
	dbPath         = flag.String("db", "splits.db", "SQLite database path")
	port           = flag.String("port", "/dev/ttyUSB0", "Serial port of the BLE receiver (ignored in dev mode)")
	baudRate       = flag.Int("baud", 0, "Receiver baud rate (0 = receiver default)")
	framing        = flag.String("framing", serialmux.DefaultFraming, "Receiver framing: data bits, parity, stop bits")
	listen         = flag.String("listen", ":8080", "Listen address")
	devMode        = flag.Bool("dev", false, "Replay a synthetic pass instead of opening the receiver")
	replayInterval = flag.Duration("replay-interval", 200*time.Millisecond, "Line interval in dev mode")
	calibrate      = flag.Bool("calibrate", false, "Log samples only; no passes are tracked or recorded")
	beacons        = flag.String("beacons", "", "Comma-separated beacon ids to track (empty = all)")
	speedUnits     = flag.String("units", units.MPS, "Speed units for live estimates ("+units.GetValidUnitsString()+")")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		os.Exit(runMigrate(os.Args[2:]))
	}

	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	opts := options{
		ConfigPath:     *configPath,
		DBPath:         *dbPath,
		Port:           *port,
		BaudRate:       *baudRate,
		Framing:        *framing,
		Listen:         *listen,
		Dev:            *devMode,
		ReplayInterval: *replayInterval,
		Calibrate:      *calibrate,
		Units:          *speedUnits,
		Beacons:        *beacons,
	}
	if err := opts.validate(); err != nil {
		log.Fatal(err)
	}
	log.Printf("starting %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(opts)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer d.Close()

	if err := d.Run(ctx); err != nil {
		log.Fatalf("stopped with error: %v", err)
	}
	log.Print("graceful shutdown complete")
}

// runMigrate implements `splits migrate [-db path] <action>`.
func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	path := fs.String("db", "splits.db", "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cli := &db.MigrateCLI{
		DBPath:     *path,
		Migrations: db.MigrationsFS(),
		Out:        os.Stdout,
		In:         os.Stdin,
	}
	if err := cli.Run(fs.Args()); err != nil {
		log.Printf("migrate: %v", err)
		return 1
	}
	return 0
}
