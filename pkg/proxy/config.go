package proxy

import (
	"fmt"
	"net/url"
	"time"

	"github.com/efortin/toolsift/pkg/parser"
)

// Config holds the configuration for the extraction server
type Config struct {
	Port        string
	TargetURL   string // Optional upstream to relay unmatched paths to
	ToolsFile   string // Optional YAML tool registry
	IdleTimeout string // WebSocket read deadline and idle gauge window
	Model       string // Tokenizer hint for usage accounting

	MaxParameterValueLength int // 0 = unbounded
	MaxToolNameLength       int // 0 = parser default
	DisableEntityDecoding   bool
	ValidateNames           bool
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.IdleTimeout != "" {
		if _, err := time.ParseDuration(c.IdleTimeout); err != nil {
			return fmt.Errorf("invalid idle timeout: %w", err)
		}
	}
	if c.TargetURL != "" {
		u, err := url.Parse(c.TargetURL)
		if err != nil {
			return fmt.Errorf("invalid target URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("target URL must be http(s) with a host, got %q", c.TargetURL)
		}
	}
	if c.MaxParameterValueLength < 0 {
		return fmt.Errorf("max parameter value length cannot be negative")
	}
	if c.MaxToolNameLength < 0 {
		return fmt.Errorf("max tool name length cannot be negative")
	}
	return nil
}

// GetIdleTimeout parses and returns the idle timeout duration. Zero means
// no idle deadline.
func (c *Config) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	return d
}

// ParserOptions maps the configured extraction limits to parser options
func (c *Config) ParserOptions() parser.Options {
	return parser.Options{
		MaxParameterValueLength: c.MaxParameterValueLength,
		MaxToolNameLength:       c.MaxToolNameLength,
		DisableEntityDecoding:   c.DisableEntityDecoding,
		ValidateNames:           c.ValidateNames,
	}
}
