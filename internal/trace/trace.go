// Package trace parses basic-block execution traces, filters them against a
// reference set of valid block addresses, and serializes the unified result.
//
// A trace file contains one record per line in the form
//
//	<identifier:hex> <program counter:hex> <hit counter:decimal>
//
// with exactly three fields separated by single spaces. Identifiers are
// assigned by the instrumented program in ascending, gap-free order starting
// at zero. Unification drops every record whose program counter is not in the
// reference set and renumbers the survivors so their identifiers are dense
// again.
package trace

import (
	"fmt"
)

// Entry is one retained basic-block record. Entries are immutable once
// constructed.
type Entry struct {
	// ID is the compacted identifier: the source identifier minus the number
	// of records dropped before it.
	ID uint64

	// PC is the block's program counter, the address of its entry
	// instruction. It is the key checked against the reference set.
	PC uint64

	// Hits is the recorded execution count.
	Hits uint64
}

// Trace is the ordered result of unifying one trace file. Entry order matches
// the line order of the source file.
type Trace struct {
	Entries []Entry
}

// Stats summarizes one unification pass over a trace file.
type Stats struct {
	// Lines is the number of input lines consumed.
	Lines int

	// Kept is the number of entries whose program counter was in the
	// reference set.
	Kept int

	// Dropped is the number of entries filtered out. Lines = Kept + Dropped
	// always holds for a successful pass.
	Dropped int
}

// ParseError describes a trace line that could not be parsed, or a source
// identifier that violates the contiguous-from-zero numbering the remapping
// algorithm depends on. It is fatal to the file being parsed; sibling files
// are unaffected.
type ParseError struct {
	Path string // source file
	Line int    // 1-based line number
	Err  error  // underlying cause
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
