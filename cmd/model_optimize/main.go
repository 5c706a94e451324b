package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/model-forge/model-forge/internal/app"
	"github.com/model-forge/model-forge/internal/config"
	"github.com/model-forge/model-forge/internal/constants"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/pipeline"
	"github.com/model-forge/model-forge/internal/validation"
	"github.com/model-forge/model-forge/pkg/api"
)

var (
	// Version can be set during the compilation
	Version string = "0.0.1"
	// Build is set during the compilation
	Build string
	// BuildDate is set during the compilation
	BuildDate string
)

func main() {
	flags := flag.NewFlagSet("model_optimize", flag.ExitOnError)
	model := flags.String("model", "", "path to the portable graph to optimize (required)")
	output := flags.String("output", constants.DefaultOutputModel, "base name of the optimized and quantized graphs")
	quantize := flags.Bool("quantize", false, "quantize the optimized graph")
	benchmark := flags.Bool("test", false, "benchmark the inference latency of the final graph")
	publishDir := flags.String("publish", "", "directory the final graph is published to")
	jsonOutput := flags.Bool("json", false, "print the final report as JSON")
	configDirs := flags.StringSlice("config-dir", nil, "directories searched for config.yaml")
	_ = flags.Parse(os.Args[1:])

	if *model == "" {
		fmt.Fprintln(os.Stderr, "--model is required")
		flags.Usage()
		os.Exit(2)
	}

	logger, logShutdown, err := logging.NewLogger()
	if err != nil {
		// we do this as no point trying to continue
		startUpFailed(nil, err, "Failed to create logger", logging.FallbackLogger())
	}

	conf, err := config.LoadConfig(logger, Version, Build, BuildDate, *configDirs...)
	if err != nil {
		startUpFailed(nil, err, "Failed to load config", logger)
	}

	validate, err := validation.NewValidator()
	if err != nil {
		startUpFailed(conf, err, "Failed to create validator", logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	options := app.Options{RunName: constants.DefaultRunName}
	if !*jsonOutput {
		options.Reports = os.Stdout
	}
	a, err := app.New(ctx, logger, conf, validate, options)
	if err != nil {
		startUpFailed(conf, err, "Failed to set up the pipeline", logger)
	}

	logger.Info("Optimization starting",
		"model", *model,
		"output", *output,
		"quantize", *quantize,
		"benchmark", *benchmark,
		"publish_dir", *publishDir,
		"version", conf.Pipeline.Version,
		"build", conf.Pipeline.Build,
		"build_date", conf.Pipeline.BuildDate,
	)

	plan := pipeline.OptimizePlan(*model, *output, *quantize, *benchmark, *publishDir)
	report := a.Orchestrator().Run(ctx, plan)

	if *jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			logger.Error("Failed to write the report", "error", err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("Failed to shut down cleanly", "error", err.Error())
	}

	if report.Status != api.StatusSuccess {
		if err := app.SetTerminationMessage(app.GetTerminationFile(conf, logger), app.TerminationMessage(report), logger); err != nil {
			logger.Warn("Failed to set termination message", "error", err.Error())
		}
		_ = logShutdown() // ignore the error
		os.Exit(1)
	}
	_ = logShutdown() // ignore the error
}

func startUpFailed(conf *config.Config, err error, msg string, logger *slog.Logger) {
	termErr := app.SetTerminationMessage(app.GetTerminationFile(conf, logger), fmt.Sprintf("%s: %s", msg, err.Error()), logger)
	if termErr != nil {
		logger.Error("Failed to set termination message", "message", msg, "error", termErr.Error())
		log.Println(termErr.Error())
	}
	log.Fatal(err)
}
