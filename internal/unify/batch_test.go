package unify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"traceunify/internal/refset"
	"traceunify/internal/trace"
)

// testSet covers the addresses used throughout these tests.
func testSet() *refset.Set {
	return refset.FromAddrs([]uint64{0x1000, 0x2000})
}

func writeTrace(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

// TestRun_SingleFile drives the whole pipeline over one file and checks the
// written output against the documented scenario.
func TestRun_SingleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := writeTrace(t, dir, "run1.trace", "0000 1000 5\n0001 3000 2\n0002 2000 7\n")

	summary, err := Run(context.Background(), testSet(), Options{Inputs: []string{input}})
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if len(summary.Outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(summary.Outcomes))
	}
	o := summary.Outcomes[0]
	if o.Err != nil {
		t.Fatalf("outcome error = %v, want nil", o.Err)
	}
	if want := filepath.Join(dir, "run1.unified"); o.Output != want {
		t.Fatalf("output path = %q, want %q", o.Output, want)
	}
	if got, want := readFile(t, o.Output), "0000 1000 5\n0001 2000 7\n"; got != want {
		t.Errorf("output contents = %q, want %q", got, want)
	}
	if o.Digest == 0 {
		t.Error("outcome digest is zero for non-empty output")
	}
}

// TestRun_DirectoryExpansion verifies that a directory input processes each
// contained file independently, producing one output per input beside it.
func TestRun_DirectoryExpansion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTrace(t, dir, "a.trace", "0000 1000 1\n")
	writeTrace(t, dir, "b.trace", "0000 2000 2\n")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	summary, err := Run(context.Background(), testSet(), Options{Inputs: []string{dir}})
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if failed := summary.Failed(); len(failed) != 0 {
		t.Fatalf("failed outcomes = %v, want none", failed)
	}
	if len(summary.Outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(summary.Outcomes))
	}
	if got := readFile(t, filepath.Join(dir, "a.unified")); got != "0000 1000 1\n" {
		t.Errorf("a.unified = %q", got)
	}
	if got := readFile(t, filepath.Join(dir, "b.unified")); got != "0000 2000 2\n" {
		t.Errorf("b.unified = %q", got)
	}
	// The nested directory is skipped with a warning, not treated as a file.
	if len(summary.Warnings) != 1 {
		t.Errorf("warnings = %v, want exactly one for the nested directory", summary.Warnings)
	}
}

// TestRun_OutputDirAndStrip verifies -o and -strip behavior together: outputs
// land in the (created) output directory with the "stripped" extension and
// without identifier columns.
func TestRun_OutputDirAndStrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := writeTrace(t, dir, "run.trace", "0000 1000 5\n0001 3000 2\n0002 2000 7\n")
	outDir := filepath.Join(dir, "out", "deeper")

	summary, err := Run(context.Background(), testSet(), Options{
		Inputs: []string{input},
		OutDir: outDir,
		Strip:  true,
	})
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if len(summary.Failed()) != 0 {
		t.Fatalf("failed outcomes: %v", summary.Failed())
	}

	got := readFile(t, filepath.Join(outDir, "run.stripped"))
	if want := "1000 5\n2000 7\n"; got != want {
		t.Errorf("stripped output = %q, want %q", got, want)
	}
}

// TestRun_PerFileIsolation verifies the failure policy: a file with a parse
// error fails alone while its siblings still produce output, and the summary
// carries exactly the failed unit.
func TestRun_PerFileIsolation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := writeTrace(t, dir, "good.trace", "0000 1000 1\n")
	bad := writeTrace(t, dir, "bad.trace", "zzzz 1000 1\n")
	missing := filepath.Join(dir, "missing.trace")

	summary, err := Run(context.Background(), testSet(), Options{
		Inputs:  []string{good, bad, missing},
		Workers: 2,
	})
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}

	failed := summary.Failed()
	if len(failed) != 2 {
		t.Fatalf("got %d failed outcomes, want 2: %+v", len(failed), failed)
	}
	for _, o := range failed {
		switch o.Input {
		case bad:
			var perr *trace.ParseError
			if !errors.As(o.Err, &perr) {
				t.Errorf("%s: error = %v, want *trace.ParseError", bad, o.Err)
			}
		case missing:
			if !errors.Is(o.Err, os.ErrNotExist) {
				t.Errorf("%s: error = %v, want not-exist", missing, o.Err)
			}
		default:
			t.Errorf("unexpected failed input %s", o.Input)
		}
	}

	// The good sibling still wrote its output.
	if got := readFile(t, filepath.Join(dir, "good.unified")); got != "0000 1000 1\n" {
		t.Errorf("good.unified = %q", got)
	}
	// And no output exists for the failed parse.
	if _, err := os.Stat(filepath.Join(dir, "bad.unified")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("bad.unified stat err = %v, want not-exist", err)
	}
}

// TestRun_EmptyTraceFile verifies that a zero-line input produces a zero-line
// output file, not an error.
func TestRun_EmptyTraceFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := writeTrace(t, dir, "empty.trace", "")

	summary, err := Run(context.Background(), testSet(), Options{Inputs: []string{input}})
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if len(summary.Failed()) != 0 {
		t.Fatalf("failed outcomes: %v", summary.Failed())
	}
	if got := readFile(t, filepath.Join(dir, "empty.unified")); got != "" {
		t.Errorf("empty.unified = %q, want empty", got)
	}
}

// TestRun_OutputCollision verifies that two inputs mapping to the same output
// path refuse to run at all rather than racing on the file.
func TestRun_OutputCollision(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeTrace(t, dir, "same.trace", "0000 1000 1\n")
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	b := writeTrace(t, sub, "same.trace", "0000 2000 1\n")

	_, err := Run(context.Background(), testSet(), Options{
		Inputs: []string{a, b},
		OutDir: filepath.Join(dir, "out"),
	})
	if err == nil {
		t.Fatal("Run with colliding output stems returned nil error")
	}
}

// TestRun_NoInputs verifies that a run resolving zero files is a run-level
// error instead of a silent no-op.
func TestRun_NoInputs(t *testing.T) {
	t.Parallel()

	empty := t.TempDir()
	if _, err := Run(context.Background(), testSet(), Options{Inputs: []string{empty}}); err == nil {
		t.Fatal("Run over an empty directory returned nil error")
	}
}

// TestRun_ManyFilesParallel pushes enough files through a small worker pool
// to exercise the fan-out/gather path, then checks the aggregate accounting.
func TestRun_ManyFilesParallel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	const n = 40
	for i := 0; i < n; i++ {
		writeTrace(t, dir, traceName(i), "0000 1000 1\n0001 3000 1\n0002 2000 1\n")
	}

	summary, err := Run(context.Background(), testSet(), Options{
		Inputs:  []string{dir},
		Workers: 4,
	})
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if len(summary.Outcomes) != n {
		t.Fatalf("got %d outcomes, want %d", len(summary.Outcomes), n)
	}
	totals := summary.Totals()
	if totals.Lines != 3*n || totals.Kept != 2*n || totals.Dropped != n {
		t.Errorf("totals = %+v, want {Lines:%d Kept:%d Dropped:%d}", totals, 3*n, 2*n, n)
	}
}

// traceName names the i-th generated trace file; stems must stay distinct so
// output paths do not collide.
func traceName(i int) string {
	const digits = "0123456789"
	return "t" + string(digits[i/10]) + string(digits[i%10]) + ".trace"
}

// TestOutputPath locks in the stem/extension mapping.
func TestOutputPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		outDir string
		strip  bool
		want   string
	}{
		{
			name:  "beside input by default",
			input: filepath.Join("traces", "run1.trace"),
			want:  filepath.Join("traces", "run1.unified"),
		},
		{
			name:   "into output dir",
			input:  filepath.Join("traces", "run1.trace"),
			outDir: "out",
			want:   filepath.Join("out", "run1.unified"),
		},
		{
			name:  "stripped extension",
			input: filepath.Join("traces", "run1.trace"),
			strip: true,
			want:  filepath.Join("traces", "run1.stripped"),
		},
		{
			name:  "no input extension",
			input: filepath.Join("traces", "run1"),
			want:  filepath.Join("traces", "run1.unified"),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := outputPath(tt.input, tt.outDir, tt.strip); got != tt.want {
				t.Errorf("outputPath(%q, %q, %v) = %q, want %q",
					tt.input, tt.outDir, tt.strip, got, tt.want)
			}
		})
	}
}
