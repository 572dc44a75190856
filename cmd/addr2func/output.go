package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/firmware-tools/addr2func/pkg/config"
	"github.com/firmware-tools/addr2func/pkg/resolver"
)

// resultWriter prints results as they are emitted by the resolver. Write
// errors are kept and returned by Flush.
type resultWriter interface {
	Write(resolver.Result)
	Flush() error
}

func newResultWriter(format string, stdout, stderr io.Writer, reportUnresolved bool) resultWriter {
	switch format {
	case config.OutputJSON:
		return &jsonWriter{
			enc:              jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(stdout),
			reportUnresolved: reportUnresolved,
		}
	case config.OutputTable:
		return &tableWriter{
			out:              stdout,
			reportUnresolved: reportUnresolved,
		}
	default:
		warn := color.New(color.FgYellow)
		if isTerminal(stderr) {
			warn.EnableColor()
		} else {
			warn.DisableColor()
		}
		return &consoleWriter{
			out:              stdout,
			errOut:           stderr,
			warn:             warn,
			reportUnresolved: reportUnresolved,
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// consoleWriter prints one function name per line. Unresolved addresses go
// to stderr so that stdout only ever carries names.
type consoleWriter struct {
	out, errOut      io.Writer
	warn             *color.Color
	reportUnresolved bool
	err              error
}

func (w *consoleWriter) Write(res resolver.Result) {
	if w.err != nil {
		return
	}
	if !res.Resolved {
		if w.reportUnresolved {
			_, w.err = w.warn.Fprintf(w.errOut, "%s: unresolved\n", res.Token)
		}
		return
	}
	_, w.err = fmt.Fprintln(w.out, res.Function)
}

func (w *consoleWriter) Flush() error { return w.err }

type jsonResult struct {
	Address  string `json:"address"`
	Function string `json:"function"`
	Line     int    `json:"line,omitempty"`
	Resolved bool   `json:"resolved"`
}

// jsonWriter prints one JSON object per line.
type jsonWriter struct {
	enc              *jsoniter.Encoder
	reportUnresolved bool
	err              error
}

func (w *jsonWriter) Write(res resolver.Result) {
	if w.err != nil || (!res.Resolved && !w.reportUnresolved) {
		return
	}
	w.err = w.enc.Encode(jsonResult{
		Address:  res.Token,
		Function: res.Function,
		Line:     res.Line,
		Resolved: res.Resolved,
	})
}

func (w *jsonWriter) Flush() error { return w.err }

// tableWriter collects results and renders them once the backtrace is done,
// or has failed. Nothing is printed when there are no rows.
type tableWriter struct {
	out              io.Writer
	reportUnresolved bool
	rows             [][]string
}

func (w *tableWriter) Write(res resolver.Result) {
	if !res.Resolved && !w.reportUnresolved {
		return
	}
	w.rows = append(w.rows, []string{
		res.Token,
		lo.Ternary(res.Resolved, res.Function, "?"),
		lo.Ternary(res.Resolved, strconv.Itoa(res.Line), "-"),
	})
}

func (w *tableWriter) Flush() error {
	if len(w.rows) == 0 {
		return nil
	}
	table := tablewriter.NewWriter(w.out)
	table.SetHeader([]string{"Address", "Function", "Line"})
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(w.rows)
	table.Render()
	return nil
}
