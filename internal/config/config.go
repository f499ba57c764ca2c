// Package config implements the otrkit configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"otrkit/internal/domain/types"
	"otrkit/internal/log"
)

const (
	defaultLogLevel   = "NOTICE"
	defaultSeparator  = "@"
	defaultWorkers    = 4
	defaultRelayURL   = "http://127.0.0.1:8080"
	defaultDataDirTag = ".otrkit"
)

// DefaultMaxMessageSizes are the classic per-network limits on one
// transport message.
var DefaultMaxMessageSizes = map[string]int{
	"prpl-aim":    2343,
	"prpl-icq":    2343,
	"prpl-msn":    1409,
	"prpl-yahoo":  832,
	"prpl-irc":    417,
	"prpl-gg":     1999,
	"prpl-oscar":  2343,
	"prpl-novell": 1792,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool
	// File specifies the log file, if omitted stdout will be used.
	File string
	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	if !log.ValidLevel(lvl) {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Pipeline tunes message processing.
type Pipeline struct {
	// Workers bounds concurrent async operations.
	Workers int
	// FragmentRetentionSeconds drops incomplete fragment sets after this
	// many idle seconds. Zero keeps them.
	FragmentRetentionSeconds int
	// SMPRequestTimeoutSeconds cancels SMP requests left unanswered. Zero
	// waits forever.
	SMPRequestTimeoutSeconds int
}

// Protocol sets the largest message a transport can carry.
type Protocol struct {
	Name           string
	MaxMessageSize int
}

// Relay is the chat relay the CLI talks to.
type Relay struct {
	URL string
}

// Metrics enables the Prometheus endpoint.
type Metrics struct {
	// Address to listen on, for example "127.0.0.1:9100". Empty disables.
	Address string
}

// Config is the top level otrkit configuration.
type Config struct {
	DataDir              string
	Policy               string
	AccountNameSeparator string

	Logging   *Logging
	Pipeline  *Pipeline
	Protocols []*Protocol
	Relay     *Relay
	Metrics   *Metrics
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections.
func (c *Config) FixupAndValidate() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("config: DataDir is not set: %w", err)
		}
		c.DataDir = filepath.Join(home, defaultDataDirTag)
	}
	if !filepath.IsAbs(c.DataDir) {
		return fmt.Errorf("config: DataDir '%v' is not an absolute path", c.DataDir)
	}
	if c.Policy == "" {
		c.Policy = types.PolicyDefault.String()
	}
	if _, ok := types.ParsePolicy(c.Policy); !ok {
		return fmt.Errorf("config: Policy '%v' is invalid", c.Policy)
	}
	if c.AccountNameSeparator == "" {
		c.AccountNameSeparator = defaultSeparator
	}

	if c.Logging == nil {
		c.Logging = &Logging{Level: defaultLogLevel}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}

	if c.Pipeline == nil {
		c.Pipeline = &Pipeline{}
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = defaultWorkers
	}
	if c.Pipeline.Workers < 0 {
		return errors.New("config: Pipeline: Workers must be positive")
	}
	if c.Pipeline.FragmentRetentionSeconds < 0 || c.Pipeline.SMPRequestTimeoutSeconds < 0 {
		return errors.New("config: Pipeline: timeouts must not be negative")
	}

	seen := make(map[string]bool)
	for _, p := range c.Protocols {
		if p.Name == "" {
			return errors.New("config: Protocols: Name is not set")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: Protocols: '%v' listed twice", p.Name)
		}
		seen[p.Name] = true
		if p.MaxMessageSize < 0 {
			return fmt.Errorf("config: Protocols: '%v' MaxMessageSize is negative", p.Name)
		}
	}

	if c.Relay == nil {
		c.Relay = &Relay{}
	}
	if c.Relay.URL == "" {
		c.Relay.URL = defaultRelayURL
	}
	if c.Metrics == nil {
		c.Metrics = &Metrics{}
	}
	return nil
}

// ParsedPolicy returns the validated policy.
func (c *Config) ParsedPolicy() types.Policy {
	p, _ := types.ParsePolicy(c.Policy)
	return p
}

// MaxSizes merges the defaults with the configured protocols.
func (c *Config) MaxSizes() map[string]int {
	out := make(map[string]int, len(DefaultMaxMessageSizes)+len(c.Protocols))
	for name, n := range DefaultMaxMessageSizes {
		out[name] = n
	}
	for _, p := range c.Protocols {
		out[p.Name] = p.MaxMessageSize
	}
	return out
}

// FragmentRetention returns the retention as a duration.
func (c *Config) FragmentRetention() time.Duration {
	return time.Duration(c.Pipeline.FragmentRetentionSeconds) * time.Second
}

// SMPTimeout returns the SMP request timeout as a duration.
func (c *Config) SMPTimeout() time.Duration {
	return time.Duration(c.Pipeline.SMPRequestTimeoutSeconds) * time.Second
}

// Default returns a validated configuration with every default applied.
func Default() (*Config, error) {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
