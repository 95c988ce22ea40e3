// Package unify drives the trace unification pipeline over batches of trace
// files.
//
// Each resolved input file is an independent unit of work: open, parse and
// filter against the shared read-only reference set, remap identifiers, and
// write the unified output. Units share no mutable state, so they fan out
// across a fixed-size worker pool and may complete in any order. A unit's
// failure is captured in its Outcome instead of aborting the batch; the run
// reports an aggregate result at the end.
package unify

import (
	"log"
	"time"

	"traceunify/internal/metrics"
	"traceunify/internal/refset"
	"traceunify/internal/trace"
)

// Options configures one batch run.
type Options struct {
	// Inputs are the trace file or directory paths to process. Directories
	// are expanded to their immediate entries, non-recursively.
	Inputs []string

	// OutDir is the output directory. When empty, each output is written
	// beside its input file. When set, Run creates it (and parents) if
	// missing.
	OutDir string

	// Strip omits the identifier field from output lines and switches the
	// output extension from "unified" to "stripped".
	Strip bool

	// Verbose enables per-file drop-count diagnostics on the standard logger.
	Verbose bool

	// Workers caps the number of files processed concurrently. Values < 1
	// mean runtime.NumCPU().
	Workers int
}

// Outcome is the result of processing a single trace file. Err is nil on
// success; on failure the other result fields are zero except Input (and
// Output when the failure happened at write time).
type Outcome struct {
	Input    string
	Output   string
	Stats    trace.Stats
	Digest   uint64 // xxh3 of the written output bytes
	Duration time.Duration
	Err      error
}

// Summary aggregates a whole batch run.
type Summary struct {
	// Outcomes holds one entry per unit of work, in completion order. Inputs
	// that failed before dispatch (e.g. unreadable directories) appear here
	// too, with Err set.
	Outcomes []Outcome

	// Warnings lists non-fatal oddities seen while expanding input paths,
	// such as directory entries that were skipped.
	Warnings []string

	Elapsed time.Duration
}

// Failed returns the outcomes that carry an error.
func (s *Summary) Failed() []Outcome {
	var failed []Outcome
	for _, o := range s.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Totals sums line accounting across all successful outcomes.
func (s *Summary) Totals() trace.Stats {
	var t trace.Stats
	for _, o := range s.Outcomes {
		if o.Err != nil {
			continue
		}
		t.Lines += o.Stats.Lines
		t.Kept += o.Stats.Kept
		t.Dropped += o.Stats.Dropped
	}
	return t
}

// processFile runs the full pipeline for one trace file: unify against set,
// then serialize to output. It never panics on data problems; only the
// internal accounting assertion inside trace.Unify is allowed to.
func processFile(input, output string, set *refset.Set, strip, verbose bool) Outcome {
	start := time.Now()
	out := Outcome{Input: input, Output: output}

	tr, stats, err := trace.UnifyFile(input, set)
	if err != nil {
		out.Err = err
		out.Duration = time.Since(start)
		metrics.RecordFile("unify", err)
		metrics.RecordStep("unify", "file", err, out.Duration)
		return out
	}
	out.Stats = stats

	digest, err := trace.WriteFile(output, tr, strip)
	out.Duration = time.Since(start)
	if err != nil {
		out.Err = err
		metrics.RecordFile("unify", err)
		metrics.RecordStep("unify", "file", err, out.Duration)
		return out
	}
	out.Digest = digest

	if verbose {
		log.Printf("%s: dropped %d of %d lines -> %s (xxh3 %016x)",
			input, stats.Dropped, stats.Lines, output, digest)
	}

	metrics.RecordFile("unify", nil)
	metrics.RecordLines("unify", "parsed", int64(stats.Lines))
	metrics.RecordLines("unify", "kept", int64(stats.Kept))
	metrics.RecordLines("unify", "dropped", int64(stats.Dropped))
	metrics.RecordStep("unify", "file", nil, out.Duration)
	return out
}
