// Package resolver maps backtrace addresses to the enclosing function by
// scanning a textual disassembly listing.
//
// A listing is expected to look like objdump output: function headers of
// the form "9b008716 <my_function>:" followed by instruction lines labelled
// "9b008716:". A token resolves to the last header seen before the first
// line that contains "token:".
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/samber/lo"
	"github.com/spf13/afero"
)

type Mode string

const (
	// ModeRescan reads the listing from its start once per token.
	ModeRescan Mode = "rescan"
	// ModeSinglePass reads the listing once and tracks all tokens at the
	// same time.
	ModeSinglePass Mode = "single-pass"
)

var Modes = []Mode{ModeRescan, ModeSinglePass}

func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown resolve mode %q, expected one of %v", s, Modes)
}

// Result is the resolution of a single backtrace token.
type Result struct {
	Token    string
	Function string
	// Line is the 1-based listing line of the first address match.
	Line     int
	Resolved bool
}

// EmitFunc receives results in token order. Unresolved tokens are passed
// with Resolved set to false; callers that follow the default behaviour
// simply skip them.
type EmitFunc func(Result)

type Resolver struct {
	logger log.Logger
	fs     afero.Fs
	mode   Mode
}

func New(logger log.Logger, fs afero.Fs, mode Mode) *Resolver {
	if mode == "" {
		mode = ModeRescan
	}
	return &Resolver{
		logger: logger,
		fs:     fs,
		mode:   mode,
	}
}

// SplitBacktrace splits a backtrace on single spaces. Consecutive spaces
// produce empty tokens, which are kept and never resolve.
func SplitBacktrace(backtrace string) []string {
	return strings.Split(backtrace, " ")
}

// Resolve opens the listing at path and resolves every token, calling emit
// once per token in order. If the listing cannot be opened a
// *FileAccessError is returned and emit is never called.
func (r *Resolver) Resolve(ctx context.Context, path string, tokens []string, emit EmitFunc) error {
	listing, err := OpenListing(r.fs, path)
	if err != nil {
		return err
	}
	defer listing.Close()

	var (
		resolved int
		logger   = log.With(r.logger, "listing", path, "mode", r.mode)
	)
	count := func(res Result) {
		if res.Resolved {
			resolved++
		}
		emit(res)
	}

	switch r.mode {
	case ModeSinglePass:
		err = resolveSinglePass(ctx, logger, listing, tokens, count)
	default:
		err = resolveRescan(ctx, logger, listing, tokens, count)
	}
	if err != nil {
		return err
	}

	level.Debug(logger).Log("msg", "backtrace resolved", "tokens", len(tokens), "resolved", resolved)
	return nil
}

func resolveRescan(ctx context.Context, logger log.Logger, listing *Listing, tokens []string, emit EmitFunc) error {
	for _, token := range tokens {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := resolveToken(listing, token)
		if err != nil {
			return err
		}
		level.Debug(logger).Log("msg", "token scanned", "token", token, "resolved", res.Resolved, "function", res.Function, "line", res.Line)
		emit(res)
	}
	return nil
}

func resolveToken(listing *Listing, token string) (Result, error) {
	res := Result{Token: token}
	if err := listing.Rewind(); err != nil {
		return res, err
	}
	var current string
	err := listing.Scan(func(lineNo int, line string) bool {
		if IsHeader(line) {
			current = HeaderName(line)
		}
		if MatchesAddress(line, token) {
			res.Function = current
			res.Line = lineNo
			res.Resolved = true
			return false
		}
		return true
	})
	return res, err
}

// resolveSinglePass produces the same results as resolveRescan with a single
// read of the listing. Duplicate tokens share the first match.
func resolveSinglePass(ctx context.Context, logger log.Logger, listing *Listing, tokens []string, emit EmitFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := listing.Rewind(); err != nil {
		return err
	}

	found := make(map[string]Result, len(tokens))
	pending := lo.Uniq(tokens)
	var current string
	err := listing.Scan(func(lineNo int, line string) bool {
		if IsHeader(line) {
			current = HeaderName(line)
		}
		pending = lo.Filter(pending, func(token string, _ int) bool {
			if !MatchesAddress(line, token) {
				return true
			}
			found[token] = Result{Token: token, Function: current, Line: lineNo, Resolved: true}
			return false
		})
		return len(pending) > 0
	})
	if err != nil {
		return err
	}

	level.Debug(logger).Log("msg", "listing scanned", "unique_tokens", len(found)+len(pending), "unresolved", len(pending))
	for _, token := range tokens {
		res, ok := found[token]
		if !ok {
			res = Result{Token: token}
		}
		emit(res)
	}
	return nil
}
