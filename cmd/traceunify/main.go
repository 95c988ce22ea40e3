// Package main implements traceunify, a command-line tool that normalizes
// basic-block execution traces against a reference set of valid block
// addresses.
//
// Usage:
//
//	traceunify [flags] <valid_bb_file> <trace_file_or_dir>...
//
// The first positional argument is the file of valid basic-block addresses
// (one hex address per line); every following argument is a trace file or a
// directory of trace files. Each trace file is unified independently against
// the same reference set: entries referencing addresses outside the set are
// dropped and the survivors are renumbered into a dense sequence. Output is
// written one file per input as <stem>.unified (or <stem>.stripped with
// -strip), beside the input or under -o.
//
// Files are processed in parallel; one file's failure never stops the others.
// The process exits non-zero if the reference set cannot be loaded or any
// input file fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"traceunify/internal/metrics"
	"traceunify/internal/metrics/datadog"
	"traceunify/internal/metrics/prompush"
	"traceunify/internal/refset"
	"traceunify/internal/report"
	"traceunify/internal/unify"

	// register all report sinks with the report factory.
	_ "traceunify/internal/report/all"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(),
		"usage: %s [flags] <valid_bb_file> <trace_file_or_dir>...\n\nflags:\n", os.Args[0])
	flag.PrintDefaults()
}

// main parses flags, loads the reference set, optionally initializes metrics
// and report sinks, and executes the batch run.
func main() {
	var (
		outDir            string
		strip             bool
		workers           int
		jobName           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		statsdAddrFlg     string
		reportDest        string
	)

	flag.StringVar(&outDir, "o", "", "output directory (default: write next to each input file)")
	flag.BoolVar(&strip, "strip", false, "omit the identifier field and use extension .stripped")
	flag.IntVar(&workers, "workers", 0, "number of files to process concurrently (default: NumCPU)")
	flag.StringVar(&jobName, "job", "unify", "job name used for metrics and the run report")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (pushgateway, datadog, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&statsdAddrFlg, "statsd-addr", "", "DogStatsD address (overrides env STATSD_ADDR)")
	flag.StringVar(&reportDest, "report", "", "run report destination, e.g. sqlite:unify.db or postgres://...")
	verbose := flag.Bool("v", false, "enable verbose logs")
	flag.BoolVar(verbose, "verbose", false, "enable verbose logs")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}
	validBBPath, inputs := args[0], args[1:]

	setupMetrics(jobName, metricsBackendFlg, pushGatewayURLFlg, statsdAddrFlg, *verbose)
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}()

	ctx := context.Background()
	start := time.Now()

	set, err := refset.Load(validBBPath)
	if err != nil {
		fatalf("load reference set: %v", err)
	}
	if *verbose {
		log.Printf("reference set: %d valid basic blocks from %s", set.Len(), validBBPath)
	}

	summary, err := unify.Run(ctx, set, unify.Options{
		Inputs:  inputs,
		OutDir:  outDir,
		Strip:   strip,
		Verbose: *verbose,
		Workers: workers,
	})
	if err != nil {
		fatalf("%v", err)
	}

	for _, w := range summary.Warnings {
		log.Printf("warning: %s", w)
	}

	if reportDest != "" {
		if err := writeReport(ctx, reportDest, jobName, summary); err != nil {
			// The unified outputs are already on disk; a broken report sink
			// should not retroactively fail the run.
			log.Printf("report: %v", err)
		}
	}

	failed := summary.Failed()
	for _, o := range failed {
		log.Printf("error: %v", o.Err)
	}

	totals := summary.Totals()
	log.Printf("unified %d/%d files: %d lines kept, %d dropped in %s",
		len(summary.Outcomes)-len(failed), len(summary.Outcomes),
		totals.Kept, totals.Dropped, time.Since(start).Truncate(time.Millisecond))

	if len(failed) > 0 {
		// os.Exit skips deferred calls, so flush metrics here.
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
		os.Exit(1)
	}
}

// setupMetrics installs the requested metrics backend. Selection follows
// flag → environment → default for both the backend and its endpoint.
func setupMetrics(jobName, backendFlg, gatewayFlg, statsdFlg string, verbose bool) {
	backendName := backendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}

	switch backendName {
	case "pushgateway":
		gwURL := gatewayFlg
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(jobName, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return
		}
		if verbose {
			log.Printf("metrics: backend=pushgateway url=%s job=%s", gwURL, jobName)
		}
		metrics.SetBackend(b)

	case "datadog":
		addr := statsdFlg
		if addr == "" {
			addr = os.Getenv("STATSD_ADDR")
		}
		if addr == "" {
			addr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: addr, Namespace: jobName + "."})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return
		}
		if verbose {
			log.Printf("metrics: backend=datadog addr=%s job=%s", addr, jobName)
		}
		metrics.SetBackend(b)

	case "", "none":
		// metrics disabled; nop backend remains
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}

// writeReport persists one manifest row per outcome to the configured sink.
func writeReport(ctx context.Context, dest, jobName string, summary unify.Summary) error {
	sink, err := report.Open(ctx, dest)
	if err != nil {
		return err
	}
	defer sink.Close()

	if err := sink.EnsureSchema(ctx); err != nil {
		return err
	}

	rows := make([]report.FileReport, 0, len(summary.Outcomes))
	for _, o := range summary.Outcomes {
		row := report.FileReport{
			Input:      o.Input,
			Output:     o.Output,
			Lines:      o.Stats.Lines,
			Kept:       o.Stats.Kept,
			Dropped:    o.Stats.Dropped,
			Status:     "success",
			DurationMS: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			row.Status = "failure"
			row.Error = o.Err.Error()
			row.Output = ""
		} else {
			row.Digest = fmt.Sprintf("%016x", o.Digest)
		}
		rows = append(rows, row)
	}
	return sink.Insert(ctx, jobName, rows)
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
