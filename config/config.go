package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"EnigmaNetz/Enigma-Spool/internal/logger"
)

const (
	// DefaultPath is the configuration file used when none is given
	DefaultPath = "enigma-spool.yaml"
	// DefaultPort is the fetch server port
	DefaultPort = 7000
)

// Fetch worker kinds
const (
	WorkerInProcess = "inprocess"
	WorkerExec      = "exec"
)

// ErrConfiguration marks an invalid configuration.
var ErrConfiguration = errors.New("configuration error")

func configError(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, v...))
}

// Config represents the application configuration
type Config struct {
	// Port the fetch server listens on
	Port int `yaml:"port"`

	TLS TLSConfig `yaml:"tls"`

	// Spools are the capture directories that can be fetched from
	Spools []SpoolConfig `yaml:"spools"`

	// Users maps user names to bcrypt password hashes. Empty disables
	// authentication.
	Users map[string]string `yaml:"users,omitempty"`

	// Logging configuration
	Logging struct {
		// Level is the minimum log level to output (debug, info, warn, error)
		Level string `yaml:"level"`
		// File is the path to the log file. If empty, logs to stderr only
		File string `yaml:"file"`
		// MaxSizeMB is the maximum size of log file before rotation
		MaxSizeMB int64 `yaml:"max_size_mb"`
		// LogRetentionDays is how long rotated log files are kept
		LogRetentionDays int `yaml:"log_retention_days"`
		// JSON switches log output to JSON lines
		JSON bool `yaml:"json"`
		// Timezone for log timestamps: "utc", "local" or an IANA name
		Timezone string `yaml:"timezone"`
	} `yaml:"logging"`

	// Fetch configuration
	Fetch struct {
		// Worker selects how exports run: inprocess or exec
		Worker string `yaml:"worker"`
	} `yaml:"fetch"`

	path string
}

// TLSConfig holds the TLS settings of the fetch server.
type TLSConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Certificate string `yaml:"certificate"`
	Key         string `yaml:"key"`
}

// SpoolConfig is one named spool directory.
type SpoolConfig struct {
	Name      string `yaml:"name"`
	Directory string `yaml:"directory"`
	Prefix    string `yaml:"prefix,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{path: DefaultPath}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.TLS.Certificate == "" {
		c.TLS.Certificate = "cert.pem"
	}
	if c.TLS.Key == "" {
		c.TLS.Key = "key.pem"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100 // 100MB default
	}
	if c.Logging.LogRetentionDays == 0 {
		c.Logging.LogRetentionDays = 7
	}
	if c.Logging.Timezone == "" {
		c.Logging.Timezone = "utc"
	}
	if c.Fetch.Worker == "" {
		c.Fetch.Worker = WorkerInProcess
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields the
// defaults.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultPath
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		c := Default()
		c.path = configPath
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.path = configPath
	config.applyDefaults()
	return &config, nil
}

// Path is the file the configuration was loaded from and is saved to.
func (c *Config) Path() string {
	return c.path
}

// Save writes the configuration back to its file.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	path := c.path
	if path == "" {
		path = DefaultPath
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from ENIGMA_SPOOL_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("ENIGMA_SPOOL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return configError("invalid ENIGMA_SPOOL_PORT %q", v)
		}
		c.Port = port
	}
	if v := os.Getenv("ENIGMA_SPOOL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ENIGMA_SPOOL_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("ENIGMA_SPOOL_FETCH_WORKER"); v != "" {
		c.Fetch.Worker = v
	}
	return nil
}

// Validate checks the configuration for the server.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return configError("port out of range: %d", c.Port)
	}
	if _, err := logger.ParseLogLevel(c.Logging.Level); err != nil {
		return configError("%v", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Fetch.Worker {
	case WorkerInProcess, WorkerExec:
	default:
		return configError("unknown fetch worker %q", c.Fetch.Worker)
	}
	if c.TLS.Enabled && (c.TLS.Certificate == "" || c.TLS.Key == "") {
		return configError("tls enabled without certificate and key")
	}
	seen := make(map[string]bool)
	for _, s := range c.Spools {
		if s.Name == "" || s.Directory == "" {
			return configError("spool requires a name and a directory")
		}
		if seen[s.Name] {
			return configError("duplicate spool name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// GetSpool looks up a spool by name.
func (c *Config) GetSpool(name string) (SpoolConfig, bool) {
	for _, s := range c.Spools {
		if s.Name == name {
			return s, true
		}
	}
	return SpoolConfig{}, false
}

// SpoolNames lists the configured spool names in configuration order.
func (c *Config) SpoolNames() []string {
	names := make([]string, 0, len(c.Spools))
	for _, s := range c.Spools {
		names = append(names, s.Name)
	}
	return names
}

// AddSpool registers a new spool.
func (c *Config) AddSpool(name, directory, prefix string) error {
	if name == "" || directory == "" {
		return configError("spool requires a name and a directory")
	}
	if _, exists := c.GetSpool(name); exists {
		return configError("a spool with the name %q already exists", name)
	}
	c.Spools = append(c.Spools, SpoolConfig{Name: name, Directory: directory, Prefix: prefix})
	return nil
}

// RemoveSpool deletes a spool, reporting whether it existed.
func (c *Config) RemoveSpool(name string) bool {
	for i, s := range c.Spools {
		if s.Name == name {
			c.Spools = append(c.Spools[:i], c.Spools[i+1:]...)
			return true
		}
	}
	return false
}

// SetKeys lists the keys accepted by Set.
var SetKeys = []string{"port", "tls.enabled", "tls.cert", "tls.key", "logging.level", "logging.file", "fetch.worker"}

// Set changes a single setting by key.
func (c *Config) Set(key, val string) error {
	switch key {
	case "port":
		port, err := strconv.Atoi(val)
		if err != nil || port <= 0 || port > 65535 {
			return configError("invalid port %q", val)
		}
		c.Port = port
	case "tls.enabled":
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return configError("invalid boolean %q", val)
		}
		c.TLS.Enabled = enabled
	case "tls.cert":
		c.TLS.Certificate = val
	case "tls.key":
		c.TLS.Key = val
	case "logging.level":
		if _, err := logger.ParseLogLevel(val); err != nil {
			return configError("%v", err)
		}
		c.Logging.Level = val
	case "logging.file":
		c.Logging.File = val
	case "fetch.worker":
		if val != WorkerInProcess && val != WorkerExec {
			return configError("unknown fetch worker %q", val)
		}
		c.Fetch.Worker = val
	default:
		return configError("unknown configuration parameter: %s", key)
	}
	return nil
}

// SetPassword stores a bcrypt hash for user. created is false when an
// existing password was replaced.
func (c *Config) SetPassword(user, password string) (created bool, err error) {
	if user == "" {
		return false, configError("username cannot be empty")
	}
	if password == "" {
		return false, configError("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}
	if c.Users == nil {
		c.Users = make(map[string]string)
	}
	_, exists := c.Users[user]
	c.Users[user] = string(hash)
	return !exists, nil
}

// UserNames lists configured users, sorted.
func (c *Config) UserNames() []string {
	names := make([]string, 0, len(c.Users))
	for name := range c.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Location resolves the log timezone.
func (c *Config) Location() (*time.Location, error) {
	switch strings.ToLower(c.Logging.Timezone) {
	case "", "utc":
		return time.UTC, nil
	case "local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Logging.Timezone)
	if err != nil {
		return nil, configError("invalid timezone %q", c.Logging.Timezone)
	}
	return loc, nil
}

// InitializeLogging sets up logging based on config
func (c *Config) InitializeLogging() (*logger.Logger, error) {
	level, err := logger.ParseLogLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}

	if c.Logging.File != "" {
		logDir := filepath.Dir(c.Logging.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	logConfig := logger.Config{
		LogLevel: level,
		LogFile:  c.Logging.File,
		MaxSize:  c.Logging.MaxSizeMB,
		MaxAge:   c.Logging.LogRetentionDays,
		JSON:     c.Logging.JSON,
		Location: loc,
	}
	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}
