package smaps

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoMapping is returned by SeekTo when no mapping contains the address.
var ErrNoMapping = errors.New("no mapping contains address")

// Reader iterates over the mappings of an smaps stream, one full mapping
// (header plus detail block) per call to Next.
type Reader struct {
	br      *bufio.Reader
	pending string // header line read ahead while scanning a detail block
	havePen bool
	eof     bool
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next returns the next mapping, with its detail block parsed.
// It returns io.EOF when the input is exhausted.
// Lines that parse as neither a header nor a known detail are skipped.
func (r *Reader) Next() (*Mapping, error) {
	for {
		line, err := r.nextLine()
		if err != nil {
			return nil, err
		}

		m, ok := ParseHeader(line)
		if !ok {
			// Stray detail or malformed line outside a mapping.
			continue
		}

		if err := r.readDetails(&m); err != nil {
			return nil, err
		}
		return &m, nil
	}
}

// readDetails consumes detail lines for m until the next header or EOF.
// The header that terminates the block is kept for the following Next call.
func (r *Reader) readDetails(m *Mapping) error {
	for {
		line, err := r.nextLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, ok := ParseHeader(line); ok {
			r.pending = line
			r.havePen = true
			return nil
		}
		parseDetail(line, m)
	}
}

func (r *Reader) nextLine() (string, error) {
	if r.havePen {
		r.havePen = false
		return r.pending, nil
	}
	if r.eof {
		return "", io.EOF
	}

	line, err := r.br.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading smaps: %w", err)
		}
		r.eof = true
		if line == "" {
			return "", io.EOF
		}
	}
	return strings.TrimRight(line, "\n"), nil
}

// SeekTo scans r line by line until the first mapping header whose range
// contains addr. It returns the parsed header and a reader positioned at
// the start of that mapping's detail block. Malformed lines are skipped.
// When no mapping contains addr the input is exhausted and ErrNoMapping
// is returned.
func SeekTo(r io.Reader, addr uintptr) (*Mapping, *bufio.Reader, error) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if m, ok := ParseHeader(strings.TrimRight(line, "\n")); ok && m.Contains(addr) {
				return &m, br, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil, ErrNoMapping
			}
			return nil, nil, fmt.Errorf("reading smaps: %w", err)
		}
	}
}

// ReadDetails fills m's detail fields from br, which must be positioned at
// the start of m's detail block (as returned by SeekTo). Reading stops at
// the next mapping header or EOF.
func ReadDetails(br *bufio.Reader, m *Mapping) error {
	for {
		peek, err := br.Peek(1)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading smaps: %w", err)
		}

		// Detail lines start with an uppercase tag; headers start with a
		// hex digit. Peeking avoids consuming the next mapping's header.
		c := peek[0]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') {
			return nil
		}

		line, err := br.ReadString('\n')
		if line != "" {
			parseDetail(strings.TrimRight(line, "\n"), m)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading smaps: %w", err)
		}
	}
}

// Snapshot reads and parses all mappings of pid. Pid 0 means the current
// process.
func Snapshot(pid int) ([]Mapping, error) {
	f, err := Open(pid)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // Read-only file, defer cleanup
	}()

	var mappings []Mapping
	r := NewReader(f)
	for {
		m, err := r.Next()
		if errors.Is(err, io.EOF) {
			return mappings, nil
		}
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, *m)
	}
}

// SeekToAddr opens the smaps file for pid and seeks to the mapping
// containing addr. On success the caller owns the returned file; its detail
// block can be consumed from the returned reader. On any failure, including
// ErrNoMapping, the file is closed before returning.
func SeekToAddr(pid int, addr uintptr) (*Mapping, *bufio.Reader, *os.File, error) {
	f, err := Open(pid)
	if err != nil {
		return nil, nil, nil, err
	}

	m, br, err := SeekTo(f, addr)
	if err != nil {
		_ = f.Close() //nolint:errcheck // Already failing, nothing to report
		return nil, nil, nil, err
	}
	return m, br, f, nil
}
