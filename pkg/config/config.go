// Package config parses the idle-watch command line.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Defaults for the reported lines and the idle timeout.
const (
	DefaultTimeout       uint32 = 1000
	DefaultIdleMessage          = "[Idle] Seat has gone idle"
	DefaultResumeMessage        = "[Resume] Activity resumed"
)

// ErrHelp is returned by Parse when --help or -h was given.
var ErrHelp = flag.ErrHelp

// Config holds all configuration for idle-watch
type Config struct {
	// Milliseconds of inactivity before the seat counts as idle
	Timeout uint32 `yaml:"timeout_ms"`

	// Output settings
	IdleMessage   string  `yaml:"idle"`
	ResumeMessage string  `yaml:"resume"`
	InitialOutput *string `yaml:"initial_output,omitempty"` // nil prints nothing at startup
	Timestamp     bool    `yaml:"timestamp"`

	// Debug logging on stderr
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout:       DefaultTimeout,
		IdleMessage:   DefaultIdleMessage,
		ResumeMessage: DefaultResumeMessage,
	}
}

// String renders the configuration as YAML
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%#v", *c)
	}
	return string(out)
}

// Parse builds a Config from command line arguments, excluding the
// program name. Every flag is optional. It returns ErrHelp for --help.
func Parse(args []string) (*Config, error) {
	cfg := DefaultConfig()

	var (
		initial string
		help    bool
	)
	fs := newFlagSet(cfg, &initial, &help)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, ErrHelp
		}
		return nil, err
	}
	if help {
		return nil, ErrHelp
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if fs.Changed("initial-output") {
		cfg.InitialOutput = &initial
	}

	return cfg, nil
}

// Usage writes the usage text to w.
func Usage(w io.Writer, program string) {
	fs := newFlagSet(DefaultConfig(), new(string), new(bool))
	_, _ = fmt.Fprintf(w, "Usage: %s [--timestamp] [--idle <string>] [--resume <string>] [--timeout <ms>] [--initial-output <string>]\n", program)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Options:")
	_, _ = fmt.Fprint(w, fs.FlagUsages())
}

func newFlagSet(cfg *Config, initial *string, help *bool) *flag.FlagSet {
	fs := flag.NewFlagSet("idle-watch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	fs.SortFlags = false

	fs.BoolVar(&cfg.Timestamp, "timestamp", false, "Prefix each line with the local time")
	fs.StringVar(&cfg.IdleMessage, "idle", cfg.IdleMessage, "Line printed when the seat goes idle")
	fs.StringVar(&cfg.ResumeMessage, "resume", cfg.ResumeMessage, "Line printed when activity resumes")
	fs.Var((*timeoutValue)(&cfg.Timeout), "timeout", "Idle timeout in milliseconds")
	fs.StringVar(initial, "initial-output", "", "Line printed once at startup")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Log protocol activity to stderr")
	fs.BoolVar(help, "help", false, "Show help message")

	return fs
}

// timeoutValue parses like C atoi: leading digits only, anything else is 0.
type timeoutValue uint32

func (t *timeoutValue) Set(s string) error {
	*t = timeoutValue(ParseTimeout(s))
	return nil
}

func (t *timeoutValue) String() string {
	return strconv.FormatUint(uint64(*t), 10)
}

func (t *timeoutValue) Type() string {
	return "ms"
}

// ParseTimeout never fails. It skips leading whitespace, accepts one sign
// and then as many digits as follow; "abc" is 0 and "250ms" is 250. The
// result saturates at the int64 range and is then truncated to 32 bits,
// so "-1" becomes math.MaxUint32.
func ParseTimeout(s string) uint32 {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}

	negative := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		negative = s[i] == '-'
		i++
	}

	var n int64
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		d := int64(s[i] - '0')
		if negative {
			if n < (math.MinInt64+d)/10 {
				n = math.MinInt64
				break
			}
			n = n*10 - d
		} else {
			if n > (math.MaxInt64-d)/10 {
				n = math.MaxInt64
				break
			}
			n = n*10 + d
		}
	}

	return uint32(n)
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
