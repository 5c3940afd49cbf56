// Command counter counts people through a doorway with a two-zone
// time-of-flight sensor and serves the count over HTTP.
//
//	counter [flags]
//	counter [-db path] migrate <action>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/occupancy.report/internal/api"
	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/crossing"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/doorway"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/version"
	"github.com/banshee-data/occupancy.report/internal/zone"
)

var (
	configPath  = flag.String("config", "", "Path to the counter config JSON (default "+config.DefaultCounterConfigPath+" if present)")
	sourceKind  = flag.String("source", "i2c", "Range source: i2c, serial or replay")
	fixturePath = flag.String("fixture", "fixtures/doorway.csv", "Replay fixture (with -source=replay)")
	loopReplay  = flag.Bool("loop", true, "Restart the replay fixture when it ends")
	listen      = flag.String("listen", ":8080", "Listen address")
	dbPath      = flag.String("db", "occupancy.db", "Path to the journal database")
	debugMode   = flag.Bool("debug", false, "Log every zone reading and state change")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

// restartDelay is the pause before recalibrating an unresponsive sensor.
const restartDelay = 5 * time.Second

func loadConfig(path string) (*config.CounterConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultCounterConfigPath); err != nil {
			log.Printf("no config file, using defaults")
			return config.EmptyCounterConfig(), nil
		}
		path = config.DefaultCounterConfigPath
	}
	cfg, err := config.LoadCounterConfig(path)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded config from %s", path)
	return cfg, nil
}

func newMonitor(cfg *config.CounterConfig, src zone.RangeSource) (*doorway.Monitor, error) {
	est, err := zone.NewEstimator(cfg.EstimatorConfig())
	if err != nil {
		return nil, err
	}
	counter := crossing.NewCounter(cfg.GetDefaultOccupancyLimit(), crossing.LogNotifier{})
	return doorway.NewMonitor(est, counter, src, cfg.MonitorConfig()), nil
}

// runMonitor calibrates and runs the monitor until ctx is done. An
// unresponsive sensor is recalibrated after restartDelay.
func runMonitor(ctx context.Context, m *doorway.Monitor) error {
	for {
		err := m.Calibrate(ctx)
		if err == nil {
			err = m.Run(ctx)
		}
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, doorway.ErrSensorUnresponsive), errors.Is(err, doorway.ErrNotClear):
			log.Printf("%v; recalibrating in %v", err, restartDelay)
		default:
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.Clock.After(restartDelay):
		}
	}
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("counter %s\n", version.String())
		return
	}

	if args := flag.Args(); len(args) > 0 {
		if args[0] != "migrate" {
			log.Fatalf("unknown command %q", args[0])
		}
		if err := db.RunMigrateCommand(args[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	monitoring.SetDebug(*debugMode || cfg.GetDebug())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := openSource(ctx, *sourceKind, cfg, *fixturePath, *loopReplay)
	if err != nil {
		log.Fatalf("failed to open %s source: %v", *sourceKind, err)
	}
	defer src.Close()

	journal, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer journal.Close()

	monitor, err := newMonitor(cfg, src)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	monitor.Recorder = journal

	if err := monitor.SetCount(ctx, cfg.GetInitialCount(), "startup"); err != nil {
		log.Printf("failed to journal starting count: %v", err)
	}

	// Create a wait group for the HTTP server, serial monitor, and counting routines
	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := src.mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("serial monitor routine terminated")
	}()

	if err := src.mux.Initialise(); err != nil {
		log.Fatalf("failed to initialise device: %v", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runMonitor(ctx, monitor); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("counting stopped: %v", err)
			stop()
		}
		log.Print("counting routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(monitor, journal, src.mux).ServeMux()
		src.mux.AttachAdminRoutes(mux)
		if err := journal.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach journal admin routes: %v", err)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
