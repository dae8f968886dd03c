// CHANWATCH - A ground data system client tracking telemetry channel values.
// Copyright (C) 2023 The chanwatch Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/fprime-tools/chanwatch/framing"
	"github.com/fprime-tools/chanwatch/pipeline"
)

// EnvPrefix precedes the upper-cased flag name in override variables, e.g.
// CHANWATCH_IP_PORT for --ip-port.
const EnvPrefix = "CHANWATCH_"

const requiredAnnotation = "chanwatch_required"

// An ArgumentParser contributes flags to a combined flag set and then gets
// a chance to validate or derive values from them.
type ArgumentParser interface {
	RegisterFlags(fs *pflag.FlagSet)
	HandleFlags() error
}

// MarkRequired makes ParseArgs reject a command line that leaves the flag
// unset by every configuration source.
func MarkRequired(fs *pflag.FlagSet, name string) {
	if err := fs.SetAnnotation(name, requiredAnnotation, []string{"true"}); err != nil {
		panic(err)
	}
}

// ParseArgs composes parsers onto one flag set and parses args. Values not
// given on the command line come from the environment, then from the YAML
// file named by --config, then from flag defaults.
func ParseArgs(name string, args []string, parsers ...ArgumentParser) (*pflag.FlagSet, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false

	var configFile string
	fs.StringVar(&configFile, "config", "", "YAML file of flag values, keyed by flag name")

	for _, p := range parsers {
		p.RegisterFlags(fs)
	}

	if err := fs.Parse(args); err != nil {
		return fs, err
	}

	if err := EnvOverride(fs); err != nil {
		return fs, err
	}

	if configFile != "" {
		if err := ConfigOverride(fs, configFile); err != nil {
			return fs, err
		}
	}

	// Asking for the version short-circuits validation.
	if v := fs.Lookup("version"); v != nil && v.Value.String() == "true" {
		return fs, nil
	}

	var missing []string
	fs.VisitAll(func(f *pflag.Flag) {
		if _, required := f.Annotations[requiredAnnotation]; required && !f.Changed {
			missing = append(missing, "--"+f.Name)
		}
	})
	if len(missing) > 0 {
		return fs, errors.Errorf("the following arguments are required: %s", strings.Join(missing, ", "))
	}

	for _, p := range parsers {
		if err := p.HandleFlags(); err != nil {
			return fs, err
		}
	}

	return fs, nil
}

func envName(flagName string) string {
	return EnvPrefix + strings.ToUpper(strings.Replace(flagName, "-", "_", -1))
}

// EnvOverride sets every flag not given on the command line from its
// environment variable, when present.
func EnvOverride(fs *pflag.FlagSet) (err error) {
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}

		env := envName(f.Name)
		value, ok := os.LookupEnv(env)
		if !ok || value == "" {
			return
		}

		if serr := fs.Set(f.Name, value); serr != nil {
			err = errors.Wrapf(serr, "environment variable %s", env)
			return
		}
		logrus.Debugf("Environment variable %q overrides flag %q with %q", env, f.Name, value)
	})
	return err
}

// ConfigOverride sets flags not yet set from a YAML mapping of flag name to
// value.
func ConfigOverride(fs *pflag.FlagSet, path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading config")
	}

	values := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &values); err != nil {
		return errors.Wrapf(err, "parsing config %s", path)
	}

	for key, value := range values {
		f := fs.Lookup(key)
		if f == nil {
			return errors.Errorf("%s: unknown config key %q", path, key)
		}
		if f.Changed {
			continue
		}

		if err := fs.Set(key, fmt.Sprint(value)); err != nil {
			return errors.Wrapf(err, "%s: %s", path, key)
		}
	}

	return nil
}

// ChannelNameParser adds the channel to track.
type ChannelNameParser struct {
	ChannelName string
}

func (p *ChannelNameParser) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&p.ChannelName, "channel-name", "", "Name of channel to filter on")
	MarkRequired(fs, "channel-name")
}

// HandleFlags does no processing; presence is enforced by ParseArgs.
func (p *ChannelNameParser) HandleFlags() error {
	return nil
}

// StandardPipelineParser adds the options needed to connect to a GDS and
// builds pipelines from them.
type StandardPipelineParser struct {
	Config pipeline.Config
}

func (p *StandardPipelineParser) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&p.Config.Address, "ip-address", "127.0.0.1", "address of the GDS TCP server")
	fs.IntVar(&p.Config.Port, "ip-port", 50050, "port of the GDS TCP server")
	fs.StringVar(&p.Config.Dictionary, "dictionary", "", "path to the deployment's JSON dictionary")
	fs.StringVar(&p.Config.Framing, "framing", "packet", "stream framing: "+strings.Join(framing.Names, ", "))
	fs.DurationVar(&p.Config.ConnectTimeout, "connect-timeout", 5*time.Second, "time allowed to connect to the GDS")
	fs.IntVar(&p.Config.MaxPacketLength, "max-packet-length", framing.DefaultMaxLength, "largest packet accepted, in bytes")
	MarkRequired(fs, "dictionary")
}

func (p *StandardPipelineParser) HandleFlags() error {
	if p.Config.Port <= 0 || p.Config.Port > 65535 {
		return errors.Errorf("invalid --ip-port: %d", p.Config.Port)
	}

	for _, name := range framing.Names {
		if p.Config.Framing == name {
			return nil
		}
	}
	return errors.Errorf("invalid --framing: %q", p.Config.Framing)
}

// PipelineFactory returns a factory connecting with the parsed options.
func (p *StandardPipelineParser) PipelineFactory(log logrus.FieldLogger) PipelineFactory {
	return func(ctx context.Context) (Pipeline, error) {
		pl, err := pipeline.New(ctx, p.Config, log)
		if err != nil {
			return nil, err
		}
		return pl, nil
	}
}

// Output formats.
var formats = []string{"plain", "csv", "json"}

// OutputParser adds the options controlling what is printed and logged.
type OutputParser struct {
	DumpInterval    time.Duration
	Duration        time.Duration
	Format          string
	TimestampFormat string
	Follow          bool
	LogLevel        string
	LogFile         string
	Version         bool
}

func (p *OutputParser) RegisterFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&p.DumpInterval, "dump-interval", 60*time.Second, "time between dumps of the last received values")
	fs.DurationVar(&p.Duration, "duration", 0, "time to run for, 0 for infinite, ex. 1h5m10s")
	fs.StringVar(&p.Format, "format", "plain", "output format: "+strings.Join(formats, ", "))
	fs.StringVar(&p.TimestampFormat, "timestamp-format", "%Y-%m-%d %H:%M:%S", "strftime format of plain output timestamps")
	fs.BoolVar(&p.Follow, "follow", false, "print the filtered channel each time it is received")
	fs.StringVar(&p.LogLevel, "log-level", "warning", "diagnostic log level: debug, info, warning, error")
	fs.StringVar(&p.LogFile, "logfile", "", "rotated log file, standard error when empty")
	fs.BoolVar(&p.Version, "version", false, "display build date and commit hash")
}

func (p *OutputParser) HandleFlags() error {
	if p.DumpInterval <= 0 {
		return errors.Errorf("invalid --dump-interval: %s", p.DumpInterval)
	}
	if p.Duration < 0 {
		return errors.Errorf("invalid --duration: %s", p.Duration)
	}

	p.Format = strings.ToLower(p.Format)
	valid := false
	for _, f := range formats {
		valid = valid || f == p.Format
	}
	if !valid {
		return errors.Errorf("invalid --format: %q", p.Format)
	}

	if _, err := strftime.New(p.TimestampFormat); err != nil {
		return errors.Wrap(err, "invalid --timestamp-format")
	}

	if _, err := logrus.ParseLevel(p.LogLevel); err != nil {
		return errors.Wrap(err, "invalid --log-level")
	}

	return nil
}
