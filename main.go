package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dotbot-ai/scenario-engine/generator"
	"github.com/dotbot-ai/scenario-engine/logger"
	"github.com/dotbot-ai/scenario-engine/model"
	"github.com/dotbot-ai/scenario-engine/runner"
	"github.com/dotbot-ai/scenario-engine/version"
)

const (
	AppName = "scenario-engine"
)

func main() {
	suitePath := flag.String("f", "", "Path to the scenario suite file (YAML)")
	transcriptPath := flag.String("t", "", "Path to a replay transcript file (YAML)")
	outputDir := flag.String("o", "", "Directory for report artifacts (default: results)")
	logPath := flag.String("l", "", "Path to the log file (if not set, logs to stdout)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	showVersion := flag.Bool("v", false, "Show version and exit")
	generate := flag.String("g", "", "Scaffold a starter suite for a category (happy-path, edge-case, adversarial, jailbreak) and exit")
	generateCount := flag.Int("n", 3, "Number of scenarios to scaffold with -g")

	flag.Parse()

	fmt.Printf("Version: %s\nCommit: %s\nBuildDate: %s\n",
		version.Version, version.Commit, version.BuildDate)
	if *showVersion {
		return
	}

	// Initialize Logger
	logWriter, logFile, err := logger.SetupLogWriter(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to setup logging: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.SetupLogger(logWriter, *verbose)

	if *generate != "" {
		suite, err := generator.Scaffold(generator.Settings{
			Category:      model.ScenarioCategory(*generate),
			ScenarioCount: *generateCount,
		})
		if err != nil {
			logger.Logger.Error("Scaffold generation failed", "error", err)
			os.Exit(1)
		}
		path, err := generator.WriteSuite(suite, *outputDir)
		if err != nil {
			logger.Logger.Error("Failed to write scaffold suite", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Scaffold suite written to %s\n", path)
		return
	}

	if *suitePath == "" {
		fmt.Fprintf(os.Stderr, "Error: -f <suite-file> is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *transcriptPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -t <transcript-file> is required (the CLI runs in replay mode; live hosts embed the runner package)\n\n")
		flag.Usage()
		os.Exit(1)
	}

	logger.Logger.Info("Starting application",
		"app", AppName,
		"suite", *suitePath,
		"transcript", *transcriptPath,
		"output", *outputDir,
		"logfile", *logPath,
		"verbose", *verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	suiteReport, err := runner.Run(ctx, runner.Options{
		SuitePath:      *suitePath,
		TranscriptPath: *transcriptPath,
		OutputDir:      *outputDir,
	})
	if err != nil {
		logger.Logger.Error("Suite run failed", "error", err)
		os.Exit(1)
	}

	fmt.Print(suiteReport.RenderConsole())

	if _, err := suiteReport.Save(*outputDir); err != nil {
		logger.Logger.Error("Failed to write reports", "error", err)
		os.Exit(1)
	}

	if suiteReport.Failed > 0 {
		os.Exit(2)
	}
}
