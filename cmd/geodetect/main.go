package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/openterrain/geodetect/internal/config"
	"github.com/openterrain/geodetect/internal/pipeline"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("geodetect %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			usage()
			return
		}
	}
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	// Configure logging to stderr (stdout stays clean for piping)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	run, err := config.Load(os.Args[1])
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	assembler := pipeline.Assembler{
		Config:     run,
		AppName:    "geodetect",
		AppVersion: Version,
	}
	build, err := assembler.Assemble()
	if err != nil {
		log.Fatalf("Assembly error: %v", err)
	}

	monitor := pipeline.Monitor{Build: build}
	if !run.Quiet {
		monitor.Display = &pipeline.TerminalDisplay{Out: os.Stderr}
	}

	// First interrupt requests a cooperative stop; a second one kills the
	// process the usual way.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		build.Graph.Stop()
		stop()
	}()

	result, err := monitor.Run(context.Background())
	if err != nil {
		log.Fatalf("Run error: %v", err)
	}
	if result.Stopped {
		os.Exit(3)
	}
}

func usage() {
	fmt.Println("geodetect - sliding-window object detection over geospatial imagery")
	fmt.Println()
	fmt.Println("Usage: geodetect <run-config.yaml>")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version, -v    Print version information")
	fmt.Println("  --help, -h       Print this help message")
	fmt.Println()
	fmt.Println("The run configuration selects the image or map-service source, the")
	fmt.Println("model package, windowing, filtering and the GeoJSON output. Progress")
	fmt.Println("is reported on stderr; pass quiet: true to disable it.")
	fmt.Println()
	fmt.Println("A single interrupt (Ctrl-C) stops the run cooperatively and flushes")
	fmt.Println("the features detected so far.")
}
