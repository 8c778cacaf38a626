// Command roisep separates neuropil contamination from every ROI of an
// extracted-signal MAT-file and writes the separated and matched signals to a
// new MAT-file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/roisep/internal/config"
	"github.com/banshee-data/roisep/internal/fsutil"
	"github.com/banshee-data/roisep/internal/monitoring"
	"github.com/banshee-data/roisep/internal/pipeline"
	"github.com/banshee-data/roisep/internal/report"
	"github.com/banshee-data/roisep/internal/roierr"
	"github.com/banshee-data/roisep/internal/runlog"
	"github.com/banshee-data/roisep/internal/separation"
	"github.com/banshee-data/roisep/internal/version"
)

// Exit codes.
const (
	exitOK          = 0
	exitInputFormat = 1
	exitSeparation  = 2
	exitIO          = 3
	exitUsage       = 4
	exitPartial     = 5
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath string
	key        string
	workers    int
	roiTimeout time.Duration
	bestEffort bool
	compress   bool
	ledgerPath string
	reportDir  string
	reportMax  int
	verbose    bool
	trace      bool
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	var o options
	fs := flag.NewFlagSet("roisep", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Path to a JSON separation config (see "+config.DefaultConfigPath+")")
	fs.StringVar(&o.key, "key", "", "Input variable name (default \""+config.DefaultInputKey+"\")")
	fs.IntVar(&o.workers, "workers", 1, "Number of ROIs separated concurrently")
	fs.DurationVar(&o.roiTimeout, "roi-timeout", 0, "Time limit for one ROI's separation (0 disables)")
	fs.BoolVar(&o.bestEffort, "best-effort", false, "Keep going when a ROI fails; write the partial result and exit 5")
	fs.BoolVar(&o.compress, "compress", true, "Write a compressed (v7) MAT-file")
	fs.StringVar(&o.ledgerPath, "ledger", "", "SQLite run ledger to record the run in")
	fs.StringVar(&o.reportDir, "report", "", "Directory for a diagnostics report (PNG plots and index.html)")
	fs.IntVar(&o.reportMax, "report-max", 50, "Maximum number of ROIs plotted in the report (0 = all)")
	fs.BoolVar(&o.verbose, "v", false, "Log per-run and per-ROI diagnostics to stderr")
	fs.BoolVar(&o.trace, "trace", false, "Log separator iteration telemetry to stderr")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: roisep [flags] <input.mat> <output.mat>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return &o, fs, nil
}

// loadConfig merges the config file, if any, with explicitly set flags.
func loadConfig(o *options, fs *flag.FlagSet) (*config.SeparationConfig, error) {
	cfg := config.DefaultSeparationConfig()
	if o.configPath != "" {
		loaded, err := config.LoadSeparationConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "key":
			cfg.InputKey = &o.key
		case "workers":
			cfg.Workers = &o.workers
		case "roi-timeout":
			if o.roiTimeout < 0 {
				err = fmt.Errorf("-roi-timeout must be non-negative, got %s", o.roiTimeout)
			}
			s := o.roiTimeout.String()
			cfg.ROITimeout = &s
		case "best-effort":
			failFast := !o.bestEffort
			cfg.FailFast = &failFast
		case "compress":
			cfg.CompressOutput = &o.compress
		}
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, fs, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if o.version {
		fmt.Fprintf(stdout, "roisep %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return exitOK
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return exitUsage
	}
	inPath, outPath := fs.Arg(0), fs.Arg(1)

	var diag, trace io.Writer
	if o.verbose {
		diag = stderr
	}
	if o.trace {
		trace = stderr
	}
	monitoring.SetLogWriters(stderr, diag, trace)

	cfg, err := loadConfig(o, fs)
	if err != nil {
		fmt.Fprintf(stderr, "Error: UsageError: %v\n", err)
		return exitUsage
	}
	nmf, err := separation.NewNMF(cfg.NMFParams())
	if err != nil {
		fmt.Fprintf(stderr, "Error: UsageError: %v\n", err)
		return exitUsage
	}

	var ledger *runlog.Store
	if o.ledgerPath != "" {
		if ledger, err = runlog.Open(o.ledgerPath); err != nil {
			return fail(stderr, &roierr.IOError{Op: "open ledger", Path: o.ledgerPath, Err: err})
		}
		defer ledger.Close()
	}

	runner := &pipeline.Runner{
		FS:        fsutil.OSFileSystem{},
		Separator: nmf,
		InputKey:  cfg.GetInputKey(),
		Options: pipeline.Options{
			Workers:    cfg.GetWorkers(),
			ROITimeout: cfg.GetROITimeout(),
			FailFast:   cfg.GetFailFast(),
		},
		Compress: cfg.GetCompressOutput(),
	}

	var rec *runlog.Run
	if ledger != nil {
		cfgJSON, _ := json.Marshal(cfg)
		rec = &runlog.Run{
			InputPath:  inPath,
			OutputPath: outPath,
			InputKey:   runner.InputKey,
			Workers:    runner.Options.Workers,
			ConfigJSON: cfgJSON,
			Version:    version.Version,
		}
		if err := ledger.StartRun(rec); err != nil {
			monitoring.Opsf("ledger: %v", err)
			rec = nil
		}
	}

	oc, runErr := runner.Run(ctx, inPath, outPath)

	if rec != nil {
		recordRun(ledger, rec, oc, runErr)
	}
	if o.reportDir != "" && oc != nil {
		w := &report.Writer{Dir: o.reportDir, MaxPlots: o.reportMax}
		if sum, err := w.Write(filepath.Base(inPath), report.Traces(oc)); err != nil {
			monitoring.Opsf("report: %v", err)
		} else {
			monitoring.Diagf("report written to %s", sum.Index)
		}
	}

	if runErr != nil {
		return fail(stderr, runErr)
	}
	fmt.Fprintf(stdout, "Separated signals saved to %s\n", outPath)
	if oc.Partial() {
		fmt.Fprintf(stderr, "Error: %s: %d of %d ROIs failed (%v); their slots are zero-filled\n",
			roierr.KindSeparation, len(oc.Failed), oc.Input.ROIs, oc.FailedROIs())
		return exitPartial
	}
	return exitOK
}

func recordRun(ledger *runlog.Store, rec *runlog.Run, oc *pipeline.Outcome, runErr error) {
	status := runlog.StatusSucceeded
	switch {
	case runErr != nil:
		status = runlog.StatusFailed
	case oc.Partial():
		status = runlog.StatusPartial
	}
	if oc != nil {
		in := oc.Input
		if err := ledger.SetShape(rec.RunID, in.Array().Dims(), in.ROIs); err != nil {
			monitoring.Opsf("ledger: %v", err)
		}
		if err := ledger.InsertROIResults(runlog.ROIResults(rec.RunID, oc.Diagnostics)); err != nil {
			monitoring.Opsf("ledger: %v", err)
		}
	}
	if err := ledger.FinishRun(rec.RunID, status, runErr); err != nil {
		monitoring.Opsf("ledger: %v", err)
	}
	monitoring.Diagf("ledger run %s recorded as %s", rec.RunID, status)
}

// fail prints err in the "Error: <kind>: <message>" form and maps its kind
// to an exit code.
func fail(stderr io.Writer, err error) int {
	kind := roierr.KindOf(err)
	fmt.Fprintf(stderr, "Error: %s: %v\n", kind, err)
	switch kind {
	case roierr.KindInputFormat:
		return exitInputFormat
	case roierr.KindIO:
		return exitIO
	default:
		return exitSeparation
	}
}
