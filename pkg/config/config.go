// ABOUTME: Runtime configuration for the server and auth commands
// ABOUTME: Defaults, GCHAT_MCP_* environment overrides, and validation

package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/harper/gchat-mcp/pkg/auth"
	"github.com/harper/gchat-mcp/pkg/logging"
)

// AuthMode selects the authorization flow variant.
type AuthMode string

const (
	ModeWeb AuthMode = "web"
	ModeCLI AuthMode = "cli"
)

// ParseAuthMode accepts "web" or "cli" in any case.
func ParseAuthMode(s string) (AuthMode, error) {
	switch AuthMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeWeb:
		return ModeWeb, nil
	case ModeCLI:
		return ModeCLI, nil
	default:
		return "", fmt.Errorf("unknown auth mode %q (supported: web, cli)", s)
	}
}

func (m AuthMode) String() string {
	return string(m)
}

// Defaults
const (
	DefaultHost        = "localhost"
	DefaultPort        = 8000
	DefaultTimeout     = 30 * time.Second
	DefaultAuthTimeout = auth.DefaultFlowTimeout
	DefaultLogLevel    = "info"
)

// Config holds every setting the commands read.
type Config struct {
	Mode               AuthMode
	Host               string
	Port               int
	TokenPath          string
	CredentialsPath    string
	Timeout            time.Duration
	AuthTimeout        time.Duration
	KeepOpenOnMismatch bool
	ChatEndpoint       string
	MetricsAddr        string
	LogLevel           string
	LogJSON            bool
}

// Default returns the built-in configuration. Paths follow XDG and honour
// their own environment overrides.
func Default() Config {
	return Config{
		Mode:            ModeWeb,
		Host:            DefaultHost,
		Port:            DefaultPort,
		TokenPath:       auth.GetTokenPath(),
		CredentialsPath: auth.GetCredentialsPath(),
		Timeout:         DefaultTimeout,
		AuthTimeout:     DefaultAuthTimeout,
		LogLevel:        DefaultLogLevel,
	}
}

// envBinding ties an environment variable to the flag that overrides it.
type envBinding struct {
	Flag  string
	Env   string
	apply func(c *Config, value string) error
}

var envBindings = []envBinding{
	{Flag: "mode", Env: "GCHAT_MCP_AUTH_MODE", apply: func(c *Config, v string) error {
		mode, err := ParseAuthMode(v)
		c.Mode = mode
		return err
	}},
	{Flag: "host", Env: "GCHAT_MCP_HOST", apply: func(c *Config, v string) error {
		c.Host = v
		return nil
	}},
	{Flag: "port", Env: "GCHAT_MCP_PORT", apply: func(c *Config, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not a port number: %w", err)
		}
		c.Port = port
		return nil
	}},
	{Flag: "token-path", Env: auth.TokenPathEnv, apply: func(c *Config, v string) error {
		c.TokenPath = filepath.Clean(v)
		return nil
	}},
	{Flag: "credentials-path", Env: auth.CredentialsPathEnv, apply: func(c *Config, v string) error {
		c.CredentialsPath = filepath.Clean(v)
		return nil
	}},
	{Flag: "timeout", Env: "GCHAT_MCP_TIMEOUT", apply: func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		c.Timeout = d
		return err
	}},
	{Flag: "auth-timeout", Env: "GCHAT_MCP_AUTH_TIMEOUT", apply: func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		c.AuthTimeout = d
		return err
	}},
	{Flag: "chat-endpoint", Env: "GCHAT_MCP_CHAT_ENDPOINT", apply: func(c *Config, v string) error {
		c.ChatEndpoint = v
		return nil
	}},
	{Flag: "metrics-addr", Env: "GCHAT_MCP_METRICS_ADDR", apply: func(c *Config, v string) error {
		c.MetricsAddr = v
		return nil
	}},
	{Flag: "log-level", Env: "GCHAT_MCP_LOG_LEVEL", apply: func(c *Config, v string) error {
		c.LogLevel = v
		return nil
	}},
	{Flag: "log-json", Env: "GCHAT_MCP_LOG_JSON", apply: func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		c.LogJSON = b
		return err
	}},
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv. A variable is skipped when flagSet reports its flag was set
// on the command line; flagSet may be nil.
func (c *Config) ApplyEnv(lookup func(string) (string, bool), flagSet func(name string) bool) error {
	var errs []error
	for _, b := range envBindings {
		if flagSet != nil && flagSet(b.Flag) {
			continue
		}
		value, ok := lookup(b.Env)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if err := b.apply(c, strings.TrimSpace(value)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Env, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks the configuration once at startup.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseAuthMode(string(c.Mode)); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host must not be empty"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 1-65535", c.Port))
	}
	if strings.TrimSpace(c.TokenPath) == "" {
		errs = append(errs, errors.New("token path must not be empty"))
	}
	if strings.TrimSpace(c.CredentialsPath) == "" {
		errs = append(errs, errors.New("credentials path must not be empty"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.AuthTimeout <= 0 {
		errs = append(errs, fmt.Errorf("auth timeout must be positive, got %s", c.AuthTimeout))
	}
	if c.ChatEndpoint != "" {
		u, err := url.Parse(c.ChatEndpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("chat endpoint %q is not an absolute URL", c.ChatEndpoint))
		}
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// CallbackURL is the redirect URL registered for the web flow.
func (c *Config) CallbackURL() string {
	return auth.CallbackURL(c.Host, c.Port)
}
