// Package refset loads and holds the set of valid basic-block addresses used
// to unify trace files.
//
// The set is built once at startup from a text file containing one
// hexadecimal address per line (no "0x" prefix) and is immutable afterwards,
// which makes it safe to share across all concurrently running per-file
// pipelines without synchronization.
//
// Membership is consulted once per trace line, so it must be sub-linear: the
// addresses are kept in a sorted slice and looked up with binary search. For
// the set sizes seen in practice (tens of thousands to a few million blocks)
// this is compact and cache-friendly.
package refset

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Set is an immutable membership set of basic-block addresses.
//
// The zero value is an empty set. A Set must not be modified after Load
// returns it; all methods are safe for concurrent use.
type Set struct {
	addrs []uint64 // sorted, deduplicated
}

// Load reads the valid-block-address file at path and builds a Set.
//
// Each line is interpreted as a base-16 integer address. Lines that do not
// parse as hexadecimal are skipped without error. Duplicate addresses
// collapse into a single entry.
//
// An error opening or reading the file is returned wrapped with the path.
func Load(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference set %s: %w", path, err)
	}
	defer f.Close()

	var addrs []uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		addr, err := strconv.ParseUint(line, 16, 64)
		if err != nil {
			// Unparseable address lines are dropped, not errors.
			continue
		}
		addrs = append(addrs, addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read reference set %s: %w", path, err)
	}

	slices.Sort(addrs)
	addrs = slices.Compact(addrs)
	return &Set{addrs: addrs}, nil
}

// FromAddrs builds a Set directly from a slice of addresses. It is intended
// for tests and callers that already hold the addresses in memory.
func FromAddrs(addrs []uint64) *Set {
	sorted := slices.Clone(addrs)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return &Set{addrs: sorted}
}

// Contains reports whether addr is a member of the set.
func (s *Set) Contains(addr uint64) bool {
	_, ok := slices.BinarySearch(s.addrs, addr)
	return ok
}

// Len returns the number of distinct addresses in the set.
func (s *Set) Len() int { return len(s.addrs) }
