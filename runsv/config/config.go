// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides the configuration of the runsv command line.
//
// Values come from three layers. Compiled-in defaults are overridden by an
// optional TOML file named by --config, which is in turn overridden by flags
// given on the command line.
package config

import (
	"flag"
	"fmt"
	"reflect"
	"strconv"

	"github.com/BurntSushi/toml"
	"rvsentry.dev/rvsentry/pkg/apps"
	"rvsentry.dev/rvsentry/pkg/log"
	"rvsentry.dev/rvsentry/pkg/sentry/kernel"
	"rvsentry.dev/rvsentry/pkg/sentry/platform"
)

// Config holds configuration that is not part of the kernel library API.
// Every field with a flag tag is registered by RegisterFlags.
type Config struct {
	// ConfigFile is the TOML file the other fields were loaded from.
	ConfigFile string `flag:"config" toml:"-"`

	// Platform names the platform the kernel runs on.
	Platform string `flag:"platform" toml:"platform"`

	// MemorySize is the size of simulated physical memory in bytes.
	MemorySize uint64 `flag:"memory-size" toml:"memory_size"`

	// ReservedPages is the number of frames kept for the kernel image.
	ReservedPages uint64 `flag:"reserved-pages" toml:"reserved_pages"`

	// ClockFreq is the time counter frequency in Hz.
	ClockFreq uint64 `flag:"clock-freq" toml:"clock_freq"`

	// TicksPerSec is the number of scheduling time slices per second.
	TicksPerSec uint64 `flag:"ticks-per-sec" toml:"ticks_per_sec"`

	// DefaultPriority is the stride priority of new tasks.
	DefaultPriority uint64 `flag:"default-priority" toml:"default_priority"`

	// Init is the application started as pid 0.
	Init string `flag:"init" toml:"init"`

	// Debug enables debug logging.
	Debug bool `flag:"debug" toml:"debug"`

	// LogLevel is the minimum level logged when Debug is not set.
	LogLevel string `flag:"log-level" toml:"log_level"`

	// LogFormat is the format of log lines: text or json.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// LogFilename is where logs are written. Empty means stderr.
	LogFilename string `flag:"log" toml:"log"`

	// AlsoLogToStderr copies logs to stderr when LogFilename is set.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// MetricsFile receives the Prometheus metrics after the kernel stops.
	MetricsFile string `flag:"metrics-file" toml:"metrics_file"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	kc := kernel.DefaultConfig()
	return &Config{
		Platform:        kc.Platform,
		MemorySize:      kc.MemorySize,
		ReservedPages:   kc.ReservedPages,
		ClockFreq:       kc.ClockFreq,
		TicksPerSec:     kc.TicksPerSec,
		DefaultPriority: kc.DefaultPriority,
		Init:            apps.InitName,
		LogLevel:        "warning",
		LogFormat:       "text",
	}
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	def := Default()
	flagSet.String("config", "", "TOML file with configuration defaults. Flags given on the command line take precedence.")

	// Machine flags.
	flagSet.String("platform", def.Platform, "specifies which platform to use.")
	flagSet.Uint64("memory-size", def.MemorySize, "size of physical memory in bytes.")
	flagSet.Uint64("reserved-pages", def.ReservedPages, "number of frames at the start of memory reserved for the kernel.")
	flagSet.Uint64("clock-freq", def.ClockFreq, "time counter frequency in Hz.")
	flagSet.Uint64("ticks-per-sec", def.TicksPerSec, "number of time slices per second.")
	flagSet.Uint64("default-priority", def.DefaultPriority, "stride priority of new tasks.")
	flagSet.String("init", def.Init, "name of the application started first.")

	// Debugging flags.
	flagSet.Bool("debug", def.Debug, "enable debug logging.")
	flagSet.String("log-level", def.LogLevel, "log level: warning (default), info, or debug. Ignored if --debug is set.")
	flagSet.String("log-format", def.LogFormat, "log format: text (default) or json.")
	flagSet.String("log", def.LogFilename, "file path where internal debug information is written, default is stderr.")
	flagSet.Bool("alsologtostderr", def.AlsoLogToStderr, "send log messages to stderr as well as to --log.")
	flagSet.String("metrics-file", def.MetricsFile, "file path where metrics are written in Prometheus text format when the kernel stops.")
}

// NewFromFlags creates a new Config with values coming from the given flag
// set, the file it names, and the defaults, in that order of precedence.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := Default()
	if fl := flagSet.Lookup("config"); fl != nil && fl.Value.String() != "" {
		if err := conf.load(fl.Value.String()); err != nil {
			return nil, err
		}
	}

	var err error
	flagSet.Visit(func(fl *flag.Flag) {
		if err == nil {
			err = conf.set(fl)
		}
	})
	if err != nil {
		return nil, err
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) load(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("loading config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %q: unknown keys %v", path, undecoded)
	}
	c.ConfigFile = path
	return nil
}

// set copies the value of fl into the field tagged with its name.
func (c *Config) set(fl *flag.Flag) error {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		if name, ok := st.Field(i).Tag.Lookup("flag"); !ok || name != fl.Name {
			continue
		}
		getter, ok := fl.Value.(flag.Getter)
		if !ok {
			return fmt.Errorf("flag %q has no typed value", fl.Name)
		}
		obj.Field(i).Set(reflect.ValueOf(getter.Get()).Convert(st.Field(i).Type))
		return nil
	}
	// Flags of the command line that do not configure anything.
	return nil
}

func (c *Config) validate() error {
	if _, err := platform.Lookup(c.Platform); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.Init == "" {
		return fmt.Errorf("init application name is empty")
	}
	kc := c.KernelConfig()
	return kc.Validate()
}

// Level returns the log level selected by c.
func (c *Config) Level() log.Level {
	if c.Debug {
		return log.Debug
	}
	l, _ := log.ParseLevel(c.LogLevel)
	return l
}

// KernelConfig returns the part of c consumed by the kernel.
func (c *Config) KernelConfig() kernel.Config {
	kc := kernel.DefaultConfig()
	kc.Platform = c.Platform
	kc.MemorySize = c.MemorySize
	kc.ReservedPages = c.ReservedPages
	kc.ClockFreq = c.ClockFreq
	kc.TicksPerSec = c.TicksPerSec
	kc.DefaultPriority = c.DefaultPriority
	return kc
}

// ToFlags returns the flags that reproduce c on a command line. Values equal
// to the default are omitted.
func (c *Config) ToFlags() []string {
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	var rv []string
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val := getVal(obj.Field(i)); val != fl.DefValue {
			rv = append(rv, fmt.Sprintf("--%s=%s", name, val))
		}
	}
	return rv
}

// Log logs the configuration.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		log.Infof("\t%s: %s", st.Field(i).Name, getVal(obj.Field(i)))
	}
}

func getVal(field reflect.Value) string {
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Uint64:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
