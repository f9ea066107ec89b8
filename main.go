package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configFile  = flag.String("config", "config.json", "Path to the JSON tile-layout configuration file")
	outputFile  = flag.String("o", "", "Output file path override (defaults to output_path from config)")
	noFuse      = flag.Bool("no-fuse", false, "Run alignment and solving only; skip the Fuser and write no mosaic")
	copyStaging = flag.Bool("copy", false, "Stage tile files into a local scratch directory before reading them")
	fuseMode    = flag.String("fuse-mode", "", "Override the configured fuse mode (overwrite, min, max, average, linear, center-priority)")
	profilePath = flag.String("profile", "", "Optional YAML threshold-profile sidecar, takes precedence over config thresholds")
	workers     = flag.Int("workers", 0, "Worker pool size for alignment and fusion (default: number of CPUs)")
	httpMode    = flag.Bool("http", false, "Run an HTTP status server alongside the pipeline")
	httpPort    = flag.Int("http-port", 8080, "HTTP status server port")
	vizPath     = flag.String("viz", "", "Write a debug SVG of the resolved tile layout to this path")
)

func main() {
	flag.Parse()
	fmt.Printf("tilestitch version: %s\n", Version)

	app := NewApp()
	app.ApplyOptions(AppOptions{
		ConfigFile:  *configFile,
		OutputFile:  *outputFile,
		NoFuse:      *noFuse,
		CopyStaging: *copyStaging,
		FuseMode:    *fuseMode,
		ProfilePath: *profilePath,
		Workers:     *workers,
		VizPath:     *vizPath,
	})

	if *httpMode {
		runService(app)
		return
	}

	if _, err := app.Run(); err != nil {
		log.Fatalf("pipeline failed: %v", err)
	}
}

// runService runs the pipeline once, then serves the status HTTP server
// until interrupted, mirroring the combined MQTT+HTTP service mode the
// original CLI offered.
func runService(app *App) {
	if _, err := app.Run(); err != nil {
		log.Printf("[PIPELINE] initial run failed: %v", err)
	}

	srv := &http.Server{Addr: fmt.Sprintf(":%d", *httpPort), Handler: newHTTPServer(app)}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[HTTP] status server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-sig
	log.Println("[HTTP] shutting down")
	srv.Close()
}
