package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"traceunify/internal/refset"
)

// Reader buffer for trace files; traces from long-running instrumented
// programs regularly reach hundreds of megabytes.
const readBufSize = 256 * 1024

// UnifyFile opens the trace file at path and unifies it against the given
// reference set. See Unify for the algorithm and error semantics.
func UnifyFile(path string, set *refset.Set) (Trace, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Trace{}, Stats{}, fmt.Errorf("open trace %s: %w", path, err)
	}
	defer f.Close()
	adviseSequential(f)

	return Unify(bufio.NewReaderSize(f, readBufSize), path, set)
}

// Unify performs a single pass over the trace records read from r, filtering
// them against set and compacting the identifiers of the survivors.
//
// Per line, the three fields are split at the first two spaces and parsed
// strictly: identifier (hex), program counter (hex), hit counter (decimal).
// Any field that fails to parse is a *ParseError carrying name and the
// 1-based line number, and aborts the whole file; there are no partial
// results. The same applies when a source identifier does not equal its
// zero-based line index: the compaction arithmetic is meaningless for traces
// that violate the contiguous-from-zero numbering, so they are rejected
// rather than silently misnumbered.
//
// Records whose program counter is not in set are dropped; each retained
// record's identifier is reduced by the number of records dropped before it,
// which keeps the output identifiers dense. An empty input yields an empty
// Trace, as does an input where every record is filtered out.
//
// name is used for error and diagnostic messages only; it is typically the
// source file path.
func Unify(r io.Reader, name string, set *refset.Set) (Trace, Stats, error) {
	var (
		entries []Entry
		stats   Stats
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, readBufSize), readBufSize)
	for scanner.Scan() {
		line := scanner.Text()
		stats.Lines++

		id, pc, hits, err := parseLine(line)
		if err != nil {
			return Trace{}, Stats{}, &ParseError{Path: name, Line: stats.Lines, Err: err}
		}

		// The remapping below assumes source identifiers are ascending and
		// gap-free from zero, i.e. equal to their zero-based line index.
		if want := uint64(stats.Lines - 1); id != want {
			return Trace{}, Stats{}, &ParseError{
				Path: name,
				Line: stats.Lines,
				Err:  fmt.Errorf("identifier %#x out of sequence, want %#x", id, want),
			}
		}

		if !set.Contains(pc) {
			stats.Dropped++
			continue
		}
		entries = append(entries, Entry{
			ID:   id - uint64(stats.Dropped),
			PC:   pc,
			Hits: hits,
		})
		stats.Kept++
	}
	if err := scanner.Err(); err != nil {
		return Trace{}, Stats{}, fmt.Errorf("read trace %s: %w", name, err)
	}

	// Retained-count accounting is an internal invariant; a mismatch means
	// the filter loop itself is broken and nothing downstream can be trusted.
	if len(entries) != stats.Kept || stats.Kept+stats.Dropped != stats.Lines {
		panic(fmt.Sprintf(
			"trace: integrity violation unifying %s: %d entries, %d kept, %d dropped, %d lines",
			name, len(entries), stats.Kept, stats.Dropped, stats.Lines,
		))
	}

	return Trace{Entries: entries}, stats, nil
}

// parseLine splits one raw trace line into its three fields and parses each
// in its expected base. The split happens at the first two spaces only; a hit
// counter containing spaces is not supported by the format.
func parseLine(line string) (id, pc, hits uint64, err error) {
	idField, rest, ok := strings.Cut(line, " ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("want 3 fields, got %q", line)
	}
	pcField, hitField, ok := strings.Cut(rest, " ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("want 3 fields, got %q", line)
	}

	if id, err = strconv.ParseUint(idField, 16, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("identifier %q: %w", idField, err)
	}
	if pc, err = strconv.ParseUint(pcField, 16, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("program counter %q: %w", pcField, err)
	}
	if hits, err = strconv.ParseUint(hitField, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("hit counter %q: %w", hitField, err)
	}
	return id, pc, hits, nil
}
