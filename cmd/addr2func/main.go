package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/version"
	"github.com/spf13/afero"

	a2fcontext "github.com/firmware-tools/addr2func/pkg/addr2func/context"
	"github.com/firmware-tools/addr2func/pkg/config"
	"github.com/firmware-tools/addr2func/pkg/resolver"
)

type params struct {
	File       string
	Backtrace  string
	ConfigFile string
	Overrides  config.Overrides
}

type commander interface {
	Flag(name, help string) *kingpin.FlagClause
}

func addParams(cmd commander) *params {
	p := new(params)
	cmd.Flag("file", "Disassembly listing to search, e.g. the output of objdump -d.").Short('f').Required().StringVar(&p.File)
	cmd.Flag("backtrace", "Space separated backtrace addresses, e.g. \"9b008716 9b00776a\".").Short('b').Required().StringVar(&p.Backtrace)
	cmd.Flag("config.file", "Optional YAML configuration file. Command line flags take precedence.").StringVar(&p.ConfigFile)
	cmd.Flag("output", "How to output the result: console, json or table.").Short('o').EnumVar(&p.Overrides.Output, config.Outputs...)
	cmd.Flag("mode", "Resolve mode: rescan reads the listing once per address, single-pass reads it once.").EnumVar(&p.Overrides.Mode, string(resolver.ModeRescan), string(resolver.ModeSinglePass))
	addBoolOverride(cmd.Flag("report-unresolved", "Report addresses that were not found in the listing."), &p.Overrides.ReportUnresolved)
	addBoolOverride(cmd.Flag("fail-on-error", "Exit with a non-zero status when the listing cannot be read."), &p.Overrides.FailOnError)
	addBoolOverride(cmd.Flag("verbose", "Enable verbose logging.").Short('v'), &p.Overrides.Verbose)
	return p
}

func addBoolOverride(f *kingpin.FlagClause, o *config.BoolOverride) {
	f.IsSetByUser(&o.Set).BoolVar(&o.Value)
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, afero.NewOsFs()))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, fs afero.Fs) int {
	app := kingpin.New(filepath.Base(os.Args[0]), "Resolve crash backtrace addresses to function names using a disassembly listing.").
		UsageWriter(stdout).
		ErrorWriter(stderr)
	app.Version(version.Print("addr2func"))
	app.HelpFlag.Short('h')
	p := addParams(app)

	if _, err := app.Parse(args); err != nil {
		app.Errorf("%s, try --help", err)
		return 1
	}

	cfg, err := config.Load(fs, p.ConfigFile)
	if err == nil {
		p.Overrides.Apply(&cfg)
		err = cfg.Validate()
	}
	if err != nil {
		app.Errorf("%s", err)
		return 1
	}

	logger := log.NewLogfmtLogger(stderr)
	if !cfg.Verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	ctx = a2fcontext.WithLogger(ctx, logger)
	ctx = a2fcontext.WithOutput(ctx, stdout)

	if err := resolve(ctx, cfg, p, fs, stderr); err != nil {
		return checkError(ctx, cfg, err)
	}
	return 0
}

func resolve(ctx context.Context, cfg config.Config, p *params, fs afero.Fs, stderr io.Writer) error {
	logger := a2fcontext.Logger(ctx)
	mode, err := resolver.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}

	out := newResultWriter(cfg.Output, a2fcontext.Output(ctx), stderr, cfg.ReportUnresolved)
	tokens := resolver.SplitBacktrace(p.Backtrace)
	level.Debug(logger).Log("msg", "resolving backtrace", "file", p.File, "tokens", len(tokens), "mode", mode, "output", cfg.Output)

	r := resolver.New(logger, fs, mode)
	err = r.Resolve(ctx, p.File, tokens, out.Write)
	// results collected before a failure are still printed
	if flushErr := out.Flush(); err == nil {
		err = flushErr
	}
	return err
}

// checkError prints err to the result output and maps it to an exit code.
// Failures exit 0 unless fail_on_error is set.
func checkError(ctx context.Context, cfg config.Config, err error) int {
	fmt.Fprintln(a2fcontext.Output(ctx), err)
	level.Debug(a2fcontext.Logger(ctx)).Log("msg", "resolution failed", "err", err, "file_access", resolver.IsFileAccess(err))
	if cfg.FailOnError {
		return 1
	}
	return 0
}
