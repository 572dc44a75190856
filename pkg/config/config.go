// Package config loads the optional addr2func configuration file.
//
// The file is YAML. Environment variables written as ${VAR} are expanded
// before parsing. Values set on the command line take precedence over the
// file.
package config

import (
	"bytes"
	"fmt"
	"io"

	"github.com/drone/envsubst"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/firmware-tools/addr2func/pkg/resolver"
)

const (
	OutputConsole = "console"
	OutputJSON    = "json"
	OutputTable   = "table"
)

var Outputs = []string{OutputConsole, OutputJSON, OutputTable}

type Config struct {
	Output           string `yaml:"output"`
	Mode             string `yaml:"mode"`
	ReportUnresolved bool   `yaml:"report_unresolved"`
	FailOnError      bool   `yaml:"fail_on_error"`
	Verbose          bool   `yaml:"verbose"`
}

func Default() Config {
	return Config{
		Output: OutputConsole,
		Mode:   string(resolver.ModeRescan),
	}
}

// Load reads the configuration file at path on top of the defaults. An empty
// path returns the defaults.
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	buf, err := afero.ReadFile(fs, path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config file %s", path)
	}
	expanded, err := envsubst.EvalEnv(string(buf))
	if err != nil {
		return cfg, errors.Wrapf(err, "expanding environment variables in %s", path)
	}
	if err := unmarshalStrict([]byte(expanded), &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config file %s", path)
	}
	return cfg, nil
}

func unmarshalStrict(buf []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	// an empty document leaves the defaults in place
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (cfg *Config) Validate() error {
	var err error
	if !lo.Contains(Outputs, cfg.Output) {
		err = multierror.Append(err, fmt.Errorf("invalid output %q, expected one of %v", cfg.Output, Outputs))
	}
	if _, modeErr := resolver.ParseMode(cfg.Mode); modeErr != nil {
		err = multierror.Append(err, modeErr)
	}
	return err
}

// BoolOverride is a boolean flag together with whether the user gave it,
// so that --no-<flag> can switch off a value set in the file.
type BoolOverride struct {
	Value bool
	Set   bool
}

func (b BoolOverride) apply(dst *bool) {
	if b.Set {
		*dst = b.Value
	}
}

// Overrides holds the values given on the command line. Empty strings and
// booleans the user did not set leave the configuration untouched.
type Overrides struct {
	Output           string
	Mode             string
	ReportUnresolved BoolOverride
	FailOnError      BoolOverride
	Verbose          BoolOverride
}

func (o Overrides) Apply(cfg *Config) {
	if o.Output != "" {
		cfg.Output = o.Output
	}
	if o.Mode != "" {
		cfg.Mode = o.Mode
	}
	o.ReportUnresolved.apply(&cfg.ReportUnresolved)
	o.FailOnError.apply(&cfg.FailOnError)
	o.Verbose.apply(&cfg.Verbose)
}
