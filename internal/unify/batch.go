package unify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"traceunify/internal/refset"
)

// expansion is the flattened work list derived from the raw input paths.
type expansion struct {
	files    []string
	warnings []string
	failed   []Outcome // inputs that could not be expanded at all
}

// expand resolves the raw input paths into a flat list of trace files.
//
// A path naming a directory is replaced by its immediate entries;
// subdirectories and other non-regular entries inside it are skipped with a
// warning rather than silently, and a directory that cannot be enumerated is
// recorded as a failed outcome for that input. Anything else is taken as a
// single file path and left for the worker to open (so a missing file shows
// up as that file's failure, not the run's).
func expand(inputs []string) expansion {
	var ex expansion
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil || !info.IsDir() {
			ex.files = append(ex.files, input)
			continue
		}

		entries, err := os.ReadDir(input)
		if err != nil {
			ex.failed = append(ex.failed, Outcome{
				Input: input,
				Err:   fmt.Errorf("expand directory %s: %w", input, err),
			})
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				ex.warnings = append(ex.warnings,
					fmt.Sprintf("skipping nested directory %s", filepath.Join(input, entry.Name())))
				continue
			}
			if _, err := entry.Info(); err != nil {
				ex.warnings = append(ex.warnings,
					fmt.Sprintf("skipping unreadable entry %s: %v", filepath.Join(input, entry.Name()), err))
				continue
			}
			ex.files = append(ex.files, filepath.Join(input, entry.Name()))
		}
	}
	return ex
}

// outputPath maps an input trace file to its output location:
// <outDir>/<stem>.<unified|stripped>, where the stem is the input's base name
// without extension and outDir defaults to the input's own directory.
func outputPath(input, outDir string, strip bool) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	ext := "unified"
	if strip {
		ext = "stripped"
	}
	dir := outDir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	return filepath.Join(dir, stem+"."+ext)
}

// Run executes the batch: expands inputs, resolves output paths, and fans the
// per-file pipeline out across a worker pool sharing the one immutable
// reference set.
//
// Run returns a non-nil error only for run-level problems that make dispatch
// itself impossible: the output directory cannot be created, no input files
// resolve at all, or two inputs collide on the same output path (two units
// writing one file would corrupt it nondeterministically, so this is refused
// up front). Per-file failures are reported through the Summary instead.
func Run(ctx context.Context, set *refset.Set, opts Options) (Summary, error) {
	start := time.Now()

	if opts.OutDir != "" {
		if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
			return Summary{}, fmt.Errorf("create output directory: %w", err)
		}
	}

	ex := expand(opts.Inputs)
	summary := Summary{Outcomes: ex.failed, Warnings: ex.warnings}
	if len(ex.files) == 0 && len(ex.failed) == 0 {
		return Summary{}, fmt.Errorf("no trace files resolved from inputs")
	}

	// Distinct inputs must map to distinct outputs before any worker starts.
	outputs := make(map[string]string, len(ex.files))
	for _, input := range ex.files {
		out := outputPath(input, opts.OutDir, opts.Strip)
		if prev, dup := outputs[out]; dup {
			return Summary{}, fmt.Errorf(
				"inputs %s and %s both map to output %s", prev, input, out)
		}
		outputs[out] = input
	}

	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers > len(ex.files) && len(ex.files) > 0 {
		workers = len(ex.files)
	}

	jobs := make(chan string)
	results := make(chan Outcome)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for input := range jobs {
				out := outputPath(input, opts.OutDir, opts.Strip)
				results <- processFile(input, out, set, opts.Strip, opts.Verbose)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for _, input := range ex.files {
			select {
			case jobs <- input:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	// Gather outcomes while the workers run, then close the results channel
	// once every worker has exited.
	var gather sync.WaitGroup
	gather.Add(1)
	go func() {
		defer gather.Done()
		for o := range results {
			summary.Outcomes = append(summary.Outcomes, o)
		}
	}()

	err := g.Wait()
	close(results)
	gather.Wait()

	summary.Elapsed = time.Since(start)
	if err != nil {
		return summary, err
	}
	return summary, nil
}
