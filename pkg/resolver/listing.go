package resolver

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const headerMarker = ">:"

// Listing is an open disassembly listing that can be scanned repeatedly
// from its beginning.
type Listing struct {
	path string
	file afero.File
	r    *bufio.Reader
}

// OpenListing opens the listing at path. Failure to open, and later failures
// to read or rewind, are reported as a *FileAccessError.
func OpenListing(fs afero.Fs, path string) (*Listing, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, &FileAccessError{Path: path, Err: err}
	}
	return &Listing{
		path: path,
		file: f,
		r:    bufio.NewReader(f),
	}, nil
}

// Path returns the path the listing was opened from.
func (l *Listing) Path() string { return l.path }

// Rewind positions the listing back at its first line.
func (l *Listing) Rewind() error {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return &FileAccessError{Path: l.path, Err: errors.Wrapf(err, "rewinding listing %s", l.path)}
	}
	l.r.Reset(l.file)
	return nil
}

// Scan calls fn for every line from the current position, with its 1-based
// number counted from the last Rewind. The line keeps its trailing newline,
// if any. Scanning stops early when fn returns false.
func (l *Listing) Scan(fn func(lineNo int, line string) bool) error {
	for lineNo := 1; ; lineNo++ {
		line, err := l.r.ReadString('\n')
		if len(line) > 0 && !fn(lineNo, line) {
			return nil
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &FileAccessError{Path: l.path, Err: errors.Wrapf(err, "reading listing %s", l.path)}
		}
	}
}

func (l *Listing) Close() error {
	return l.file.Close()
}

// IsHeader reports whether line is a function header line.
func IsHeader(line string) bool {
	return strings.Contains(line, headerMarker)
}

// HeaderName extracts the function name from a header line: the text
// between the first '<' and the first '>' of the line. A missing '<' makes
// the name start at the beginning of the line, and a '>' that comes before
// the first '<' yields an empty name.
//
// Both brackets are searched across the whole line rather than next to the
// ">:" marker, so a header with angle brackets ahead of the symbol (for
// instance inside a C++ template argument list) may be cut short. Resolution
// results depend on this rule; keep it as is.
func HeaderName(line string) string {
	start := strings.IndexByte(line, '<') + 1
	end := strings.IndexByte(line, '>')
	if end < start {
		return ""
	}
	return line[start:end]
}

// MatchesAddress reports whether line carries the address label "token:".
// An empty token, produced by consecutive spaces in a backtrace, never
// matches.
func MatchesAddress(line, token string) bool {
	return token != "" && strings.Contains(line, token+":")
}
