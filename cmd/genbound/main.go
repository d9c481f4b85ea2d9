// Package main provides the genbound CLI.
//
// genbound loads a trained classifier from a .born checkpoint, rebuilds the
// dataset it was trained on and prints the generalization measures. A file
// name of "-" reads the checkpoint from standard input:
//
//	genbound [-d dir] [-f file] [-config path] [-device auto|cpu|webgpu] [-metrics-addr host:port]
//	genbound summarize [-o out.csv] log...
//	genbound version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/born-ml/genbound/internal/checkpoint"
	"github.com/born-ml/genbound/internal/config"
	"github.com/born-ml/genbound/internal/dataset"
	"github.com/born-ml/genbound/internal/device"
	"github.com/born-ml/genbound/internal/logging"
	"github.com/born-ml/genbound/internal/loss"
	"github.com/born-ml/genbound/internal/measures"
	"github.com/born-ml/genbound/internal/metrics"
	"github.com/born-ml/genbound/internal/model"
	"github.com/born-ml/genbound/internal/norms"
	"github.com/born-ml/genbound/internal/params"
	"github.com/born-ml/genbound/internal/paths"
	"github.com/born-ml/genbound/internal/report"
)

const version = "v0.1.0"

const (
	defaultDir  = "/storage/checkpoints/"
	defaultFile = "solver_e_reached_100.born"
	dirEnv      = "GENBOUND_CHECKPOINT_DIR"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch args[0] {
		case "version":
			fmt.Fprintf(stdout, "genbound %s\n", version)
			return 0
		case "summarize":
			return summarize(args[1:], stdout, stderr)
		}
	}
	return measure(args, stdin, stdout, stderr)
}

func measure(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	dir := os.Getenv(dirEnv)
	if dir == "" {
		dir = defaultDir
	}

	fs := flag.NewFlagSet("genbound", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&dir, "d", dir, "checkpoint directory (env "+dirEnv+")")
	fs.StringVar(&dir, "dir", dir, "checkpoint directory (env "+dirEnv+")")
	file := fs.String("f", defaultFile, "checkpoint file name, - for stdin")
	fs.StringVar(file, "file", defaultFile, "checkpoint file name, - for stdin")
	configPath := fs.String("config", "", "config file path (defaults apply when empty or absent)")
	deviceName := fs.String("device", "", "compute device: auto, cpu or webgpu (overrides config)")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *deviceName != "" {
		cfg.Device = *deviceName
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(stderr, "Invalid device: %v\n", err)
			return 1
		}
	}

	logger, runID, err := logging.NewWithWriter(stderr, cfg.Log)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to configure logging: %v\n", err)
		return 1
	}

	if *metricsAddr != "" {
		serveMetrics(*metricsAddr, logger)
	}

	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	path := dir + *file
	logger.Info("loading checkpoint", "path", path, "version", version)

	var (
		ps     *params.Set
		header checkpoint.Header
	)
	if *file == "-" {
		ps, header, err = checkpoint.ReadFrom(stdin, checkpoint.ReaderOptions{})
	} else {
		ps, header, err = checkpoint.Load(path)
	}
	if err != nil {
		logger.Error("failed to load checkpoint", "path", path, "error", err)
		return 1
	}
	tc, err := header.Context()
	switch {
	case errors.Is(err, checkpoint.ErrMissingMetadata):
		logger.Warn("incomplete checkpoint metadata, relying on config", "path", path, "error", err)
	case err != nil:
		logger.Error("invalid checkpoint metadata", "path", path, "error", err)
		return 1
	}

	// Measures are taken on the training split.
	dsCfg := tc.Dataset
	dsCfg.Train = true
	dsCfg.Seed = cfg.Seed
	dsCfg = cfg.Dataset.Apply(dsCfg)

	criterion := tc.Criterion
	if cfg.Criterion != "" {
		criterion = cfg.Criterion
	}
	crit, err := loss.Lookup(criterion)
	if err != nil {
		logger.Error("no training criterion", "criterion", criterion, "error", err)
		return 1
	}
	activation, err := model.ParseActivation(tc.Activation)
	if err != nil {
		logger.Error("unsupported activation", "activation", tc.Activation, "error", err)
		return 1
	}

	dev, err := device.Select(cfg.Device, logger)
	if err != nil {
		logger.Error("failed to open device", "device", cfg.Device, "error", err)
		return 1
	}
	defer dev.Close()

	m, err := model.New(ps, activation, dev)
	if err != nil {
		logger.Error("failed to build model", "error", err)
		return 1
	}
	logger.Info("model ready",
		"inputs", m.InFeatures(),
		"classes", m.NumClasses(),
		"activation", m.Activation(),
		"device", m.Device().Kind())
	data, err := dataset.Open(dsCfg, logger)
	if err != nil {
		logger.Error("failed to load dataset", "error", err)
		return 1
	}

	enum := paths.NewEnumerator(cfg.EnumeratorOptions(logger))
	defer enum.Close()

	out := report.NewWriter(stdout)
	if err := out.Header(path); err != nil {
		logger.Error("failed to write report", "error", err)
		return 1
	}

	runner := measures.NewRunner(cfg.MeasuresConfig(), norms.NewAggregator(enum, logger), out, logger)
	res, err := runner.Run(context.Background(), m, crit, data)
	if err != nil {
		logger.Warn("run finished with missing measures", "error", err)
	}
	logger.Info("run finished",
		"run_id", runID,
		"device", dev.Kind().String(),
		"gamma", res.Gamma,
		"computed", len(res.Values),
		"missing", len(res.Errors))
	return 0
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		logger.Info("serving metrics", "addr", addr)
		//nolint:gosec // G114: metrics endpoint, no timeouts needed
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
}

func summarize(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("summarize", flag.ContinueOnError)
	fs.SetOutput(stderr)
	output := fs.String("o", "", "write the CSV here instead of stdout")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: genbound summarize [-o out.csv] log...")
		return 1
	}

	records := make([]*report.Record, 0, fs.NArg())
	for _, path := range fs.Args() {
		rec, err := report.ParseFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to parse report: %v\n", err)
			return 1
		}
		records = append(records, rec)
	}

	w := stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to create output: %v\n", err)
			return 1
		}
		defer f.Close()
		w = f
	}
	if err := report.WriteSummaryCSV(w, records, nil); err != nil {
		fmt.Fprintf(stderr, "Failed to write summary: %v\n", err)
		return 1
	}
	return 0
}
