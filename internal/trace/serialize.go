package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/xxh3"
)

// Buffered writer for output files to amortize syscalls.
const writeBufSize = 256 * 1024

// Render writes the unified trace to w, one entry per line with a trailing
// newline.
//
// The full format is "<id> <pc> <hits>" with the identifier as lower-hex
// zero-padded to 4 digits, the program counter as unpadded lower-hex, and the
// hit counter in decimal. With strip set, the identifier field is omitted
// entirely; stripped output carries only the (address, hit count) pairs.
func Render(w io.Writer, tr Trace, strip bool) error {
	for _, e := range tr.Entries {
		var err error
		if strip {
			_, err = fmt.Fprintf(w, "%x %d\n", e.PC, e.Hits)
		} else {
			_, err = fmt.Fprintf(w, "%04x %x %d\n", e.ID, e.PC, e.Hits)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteFile renders tr to a new file at path, overwriting any existing file.
// Parent directories are not created; that is the caller's responsibility.
//
// The returned digest is the xxh3 hash of the exact bytes written. It gives
// batch runs a cheap way to record and compare outputs without re-reading
// them.
func WriteFile(path string, tr Trace, strip bool) (digest uint64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create output %s: %w", path, err)
	}

	h := xxh3.New()
	w := bufio.NewWriterSize(f, writeBufSize)
	if err := Render(io.MultiWriter(w, h), tr, strip); err != nil {
		f.Close()
		return 0, fmt.Errorf("write output %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, fmt.Errorf("write output %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close output %s: %w", path, err)
	}
	return h.Sum64(), nil
}
