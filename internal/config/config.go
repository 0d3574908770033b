// Package config provides configuration management for responsekit.
// It handles loading, parsing, and validating YAML configuration files.
package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"responsekit/internal/cookies"
	"responsekit/internal/response"
)

const (
	DefaultListenAddress     = ":8080"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultMaxBodySize       = 10 << 20
	DefaultScriptsDir        = "./scripts"
	DefaultStatePoolSize     = 10
	DefaultHandlerTimeout    = 5 * time.Second
)

// Config represents the main configuration structure.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Middleware    MiddlewareConfig    `yaml:"middleware"`
	RequestLimits RequestLimitsConfig `yaml:"request_limits"`
	Response      ResponseConfig      `yaml:"response"`
	Lua           LuaConfig           `yaml:"lua"`
	Routes        []Route             `yaml:"routes"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Addr              string        `yaml:"addr,omitempty"`
	H2C               bool          `yaml:"h2c,omitempty"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout,omitempty"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout,omitempty"`
	// DebugAddr enables a pprof listener when set.
	DebugAddr string `yaml:"debug_addr,omitempty"`
}

// LoggingConfig selects the slog handler and its destination.
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty"`
	Format     string `yaml:"format,omitempty"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// MiddlewareConfig toggles chi middleware.
type MiddlewareConfig struct {
	RequestID    bool     `yaml:"request_id"`
	RealIP       bool     `yaml:"real_ip"`
	Logging      bool     `yaml:"logging"`
	Recovery     bool     `yaml:"recovery"`
	Timeout      int      `yaml:"timeout,omitempty"` // seconds
	Throttle     int      `yaml:"throttle,omitempty"`
	Compress     int      `yaml:"compress,omitempty"` // gzip level, 0 disables
	CompressType []string `yaml:"compress_types,omitempty"`
	Metrics      bool     `yaml:"metrics"`
	CleanPath    bool     `yaml:"clean_path"`
	StripSlashes bool     `yaml:"strip_slashes"`
}

// RequestLimitsConfig bounds request bodies.
type RequestLimitsConfig struct {
	MaxBodySize int64 `yaml:"max_body_size,omitempty"`
}

// ResponseConfig holds the defaults every response builder starts from.
type ResponseConfig struct {
	Status     int               `yaml:"status,omitempty"`
	StatusText string            `yaml:"status_text,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
}

// LuaConfig configures the embedded Lua handler engine.
type LuaConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ScriptsDir     string        `yaml:"scripts_dir,omitempty"`
	StatePoolSize  int           `yaml:"state_pool_size,omitempty"`
	HandlerTimeout time.Duration `yaml:"handler_timeout,omitempty"`
}

// Route declares a response served without code. Exactly one of Body, JSON
// or Redirect must be set.
type Route struct {
	Method     string            `yaml:"method"`
	Pattern    string            `yaml:"pattern"`
	Status     int               `yaml:"status,omitempty"`
	StatusText string            `yaml:"status_text,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	Cookies    []Cookie          `yaml:"cookies,omitempty"`
	Body       *string           `yaml:"body,omitempty"`
	JSON       any               `yaml:"json,omitempty"`
	Redirect   *Redirect         `yaml:"redirect,omitempty"`
}

// Redirect is a declared redirect target.
type Redirect struct {
	URL    string `yaml:"url"`
	Status int    `yaml:"status,omitempty"`
}

// Cookie is a declared Set-Cookie.
type Cookie struct {
	Name        string `yaml:"name"`
	Value       string `yaml:"value"`
	Domain      string `yaml:"domain,omitempty"`
	Path        string `yaml:"path,omitempty"`
	MaxAge      int    `yaml:"max_age,omitempty"`
	Secure      bool   `yaml:"secure,omitempty"`
	HTTPOnly    bool   `yaml:"http_only,omitempty"`
	Partitioned bool   `yaml:"partitioned,omitempty"`
	SameSite    string `yaml:"same_site,omitempty"`
}

// Options converts the declared attributes into jar options.
func (c Cookie) Options() (*cookies.Options, error) {
	sameSite, err := cookies.ParseSameSite(c.SameSite)
	if err != nil {
		return nil, err
	}
	return &cookies.Options{
		Domain:      c.Domain,
		Path:        c.Path,
		MaxAge:      c.MaxAge,
		Secure:      c.Secure,
		HTTPOnly:    c.HTTPOnly,
		Partitioned: c.Partitioned,
		SameSite:    sameSite,
	}, nil
}

// LoadConfig reads and parses a YAML configuration file, returning a validated Config instance.
// Returns an error if the file cannot be read, parsed, or contains invalid routes.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultListenAddress
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.RequestLimits.MaxBodySize == 0 {
		c.RequestLimits.MaxBodySize = DefaultMaxBodySize
	}
	if c.Response.Status == 0 {
		c.Response.Status = http.StatusOK
	}
	if c.Response.StatusText == "" {
		c.Response.StatusText = http.StatusText(c.Response.Status)
	}
	if c.Lua.ScriptsDir == "" {
		c.Lua.ScriptsDir = DefaultScriptsDir
	}
	if c.Lua.StatePoolSize == 0 {
		c.Lua.StatePoolSize = DefaultStatePoolSize
	}
	if c.Lua.HandlerTimeout == 0 {
		c.Lua.HandlerTimeout = DefaultHandlerTimeout
	}
	for i := range c.Routes {
		if c.Routes[i].Method == "" {
			c.Routes[i].Method = http.MethodGet
		}
		c.Routes[i].Method = strings.ToUpper(c.Routes[i].Method)
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}
	if c.RequestLimits.MaxBodySize < 0 {
		return fmt.Errorf("max_body_size must not be negative")
	}
	if !validStatus(c.Response.Status) {
		return fmt.Errorf("invalid response status: %d", c.Response.Status)
	}
	if err := validateHeaders(c.Response.Headers); err != nil {
		return fmt.Errorf("invalid response headers: %w", err)
	}
	if c.Lua.StatePoolSize < 0 {
		return fmt.Errorf("lua state_pool_size must not be negative")
	}

	seen := make(map[string]bool)
	for _, route := range c.Routes {
		if err := validateRoute(route); err != nil {
			return fmt.Errorf("invalid route %s %s: %w", route.Method, route.Pattern, err)
		}
		key := route.Method + " " + route.Pattern
		if seen[key] {
			return fmt.Errorf("duplicate route: %s", key)
		}
		seen[key] = true
	}
	return nil
}

// validateRoute validates a declared route.
func validateRoute(r Route) error {
	if !strings.HasPrefix(r.Pattern, "/") {
		return fmt.Errorf("pattern must start with '/'")
	}
	if !isValidMethod(r.Method) {
		return fmt.Errorf("unsupported method: %s", r.Method)
	}

	bodies := 0
	if r.Body != nil {
		bodies++
	}
	if r.JSON != nil {
		bodies++
	}
	if r.Redirect != nil {
		bodies++
		if r.Redirect.URL == "" {
			return fmt.Errorf("redirect must have a url")
		}
		if r.Redirect.Status != 0 && !response.IsRedirectStatus(r.Redirect.Status) {
			return fmt.Errorf("redirect status must be 301, 302, 303, 307 or 308, got %d", r.Redirect.Status)
		}
	}
	if bodies != 1 {
		return fmt.Errorf("route must have exactly one of body, json or redirect")
	}

	if r.Status != 0 && !validStatus(r.Status) {
		return fmt.Errorf("invalid status: %d", r.Status)
	}
	if err := validateHeaders(r.Headers); err != nil {
		return err
	}
	for _, c := range r.Cookies {
		if c.Name == "" {
			return fmt.Errorf("cookie must have a name")
		}
		if _, err := cookies.ParseSameSite(c.SameSite); err != nil {
			return err
		}
	}
	return nil
}

// validStatus matches the range response.Write accepts.
func validStatus(code int) bool {
	return code >= 100 && code <= 999
}

// validateHeaders rejects what Builder.SetHeader would reject at request time.
func validateHeaders(h map[string]string) error {
	for k, v := range h {
		if k == "" {
			return fmt.Errorf("header name must not be empty")
		}
		if v == "" {
			return fmt.Errorf("header %s must have a value", k)
		}
	}
	return nil
}

func isValidMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}
