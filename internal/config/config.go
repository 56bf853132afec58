// Package config loads the JSON configuration document that describes the
// backend, the generated client, the optional frontend and the sync policy.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/specsync/internal/contract"
	"github.com/loykin/specsync/internal/env"
	"github.com/loykin/specsync/internal/logger"
	"github.com/loykin/specsync/internal/process"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. SPECSYNC_SYNC_STRATEGY for sync.strategy.
const EnvPrefix = "SPECSYNC"

type Config struct {
	Services Services          `mapstructure:"services"`
	Sync     Sync              `mapstructure:"sync"`
	Log      Log               `mapstructure:"log"`
	Status   Status            `mapstructure:"status"`
	History  History           `mapstructure:"history"`
	Env      map[string]string `mapstructure:"env"`
	EnvFiles []string          `mapstructure:"envFiles"`

	// Dir is the absolute directory of the config file. Relative paths in
	// the document are resolved against it.
	Dir string `mapstructure:"-"`
}

type Services struct {
	Backend  Backend   `mapstructure:"backend"`
	Client   Client    `mapstructure:"client"`
	Frontend *Frontend `mapstructure:"frontend"`
}

type Backend struct {
	Path           string            `mapstructure:"path"`
	Port           int               `mapstructure:"port"`
	StartCommand   string            `mapstructure:"startCommand"`
	ReadyPattern   string            `mapstructure:"readyPattern"`
	Env            map[string]string `mapstructure:"env"`
	APISpec        APISpec           `mapstructure:"apiSpec"`
	StartTimeoutMs int               `mapstructure:"startTimeoutMs"`
	StopTimeoutMs  int               `mapstructure:"stopTimeoutMs"`
}

// APISpec addresses the contract. See session.ResolveSource for the forms
// Path may take.
type APISpec struct {
	Path  string   `mapstructure:"path"`
	Watch []string `mapstructure:"watch"`
}

type Client struct {
	Path            string            `mapstructure:"path"`
	PackageName     string            `mapstructure:"packageName"`
	Generator       string            `mapstructure:"generator"`
	GenerateCommand string            `mapstructure:"generateCommand"`
	BuildCommand    string            `mapstructure:"buildCommand"`
	LinkCommand     string            `mapstructure:"linkCommand"`
	Env             map[string]string `mapstructure:"env"`
}

type Frontend struct {
	Path           string            `mapstructure:"path"`
	Port           int               `mapstructure:"port"`
	StartCommand   string            `mapstructure:"startCommand"`
	LinkCommand    string            `mapstructure:"linkCommand"`
	ReadyPattern   string            `mapstructure:"readyPattern"`
	Env            map[string]string `mapstructure:"env"`
	Touch          []string          `mapstructure:"touch"`
	StartTimeoutMs int               `mapstructure:"startTimeoutMs"`
	StopTimeoutMs  int               `mapstructure:"stopTimeoutMs"`
}

type Sync struct {
	Strategy             string   `mapstructure:"strategy"`
	DebounceMs           int      `mapstructure:"debounceMs"`
	PollingInterval      int      `mapstructure:"pollingInterval"`
	AutoLink             bool     `mapstructure:"autoLink"`
	RetryAttempts        int      `mapstructure:"retryAttempts"`
	RetryDelay           int      `mapstructure:"retryDelay"`
	RunInitialGeneration bool     `mapstructure:"runInitialGeneration"`
	Ignore               []string `mapstructure:"ignore"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	TimeStamps bool   `mapstructure:"timestamps"`
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"maxSizeMb"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
	Compress   bool   `mapstructure:"compress"`
}

type Status struct {
	Listen string `mapstructure:"listen"`
}

type History struct {
	DSN string `mapstructure:"dsn"`
	Max int    `mapstructure:"max"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sync.strategy", string(contract.StrategySmart))
	v.SetDefault("sync.debounceMs", 1000)
	v.SetDefault("sync.pollingInterval", 5000)
	v.SetDefault("sync.autoLink", true)
	v.SetDefault("sync.retryAttempts", 3)
	v.SetDefault("sync.retryDelay", 1000)
	v.SetDefault("sync.runInitialGeneration", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", true)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("history.max", 100)
}

// Load reads, resolves and validates the configuration file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.loadEnvMaps(path); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg.Dir = filepath.Dir(abs)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvMaps re-reads the env maps from the raw document: viper lowercases
// map keys, and environment variable names are case sensitive.
func (c *Config) loadEnvMaps(path string) error {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	type envOnly struct {
		Env map[string]string `json:"env"`
	}
	var raw struct {
		Env      map[string]string `json:"env"`
		Services struct {
			Backend  envOnly  `json:"backend"`
			Client   envOnly  `json:"client"`
			Frontend *envOnly `json:"frontend"`
		} `json:"services"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	c.Env = raw.Env
	c.Services.Backend.Env = raw.Services.Backend.Env
	c.Services.Client.Env = raw.Services.Client.Env
	if c.Services.Frontend != nil && raw.Services.Frontend != nil {
		c.Services.Frontend.Env = raw.Services.Frontend.Env
	}
	return nil
}

func (c *Config) resolvePaths() {
	c.Services.Backend.Path = c.abs(c.Services.Backend.Path)
	c.Services.Client.Path = c.abs(c.Services.Client.Path)
	if fe := c.Services.Frontend; fe != nil {
		fe.Path = c.abs(fe.Path)
		for i, t := range fe.Touch {
			fe.Touch[i] = c.joinUnder(fe.Path, t)
		}
	}
	for i, f := range c.EnvFiles {
		c.EnvFiles[i] = c.abs(f)
	}
	if c.Log.Dir != "" {
		c.Log.Dir = c.abs(c.Log.Dir)
	}
	if dsn := c.History.DSN; dsn != "" && !strings.Contains(dsn, ":memory:") {
		const prefix = "sqlite://"
		if strings.HasPrefix(strings.ToLower(dsn), prefix) {
			c.History.DSN = prefix + c.abs(dsn[len(prefix):])
		} else {
			c.History.DSN = c.abs(dsn)
		}
	}
}

func (c *Config) abs(p string) string {
	return c.joinUnder(c.Dir, p)
}

func (c *Config) joinUnder(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error
	be := c.Services.Backend
	if be.Path == "" {
		errs = append(errs, errors.New("services.backend.path is required"))
	}
	if be.StartCommand == "" {
		errs = append(errs, errors.New("services.backend.startCommand is required"))
	}
	if be.APISpec.Path == "" {
		errs = append(errs, errors.New("services.backend.apiSpec.path is required"))
	}
	errs = append(errs, checkPort("services.backend.port", be.Port))

	cl := c.Services.Client
	if cl.Path == "" {
		errs = append(errs, errors.New("services.client.path is required"))
	}
	if cl.GenerateCommand == "" {
		errs = append(errs, errors.New("services.client.generateCommand is required"))
	}

	if fe := c.Services.Frontend; fe != nil {
		if fe.Path == "" {
			errs = append(errs, errors.New("services.frontend.path is required"))
		}
		if fe.StartCommand == "" {
			errs = append(errs, errors.New("services.frontend.startCommand is required"))
		}
		errs = append(errs, checkPort("services.frontend.port", fe.Port))
	}

	if _, err := contract.ParseStrategy(c.Sync.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("sync.strategy: %w", err))
	}
	for name, val := range map[string]int{
		"sync.debounceMs":      c.Sync.DebounceMs,
		"sync.pollingInterval": c.Sync.PollingInterval,
		"sync.retryAttempts":   c.Sync.RetryAttempts,
		"sync.retryDelay":      c.Sync.RetryDelay,
	} {
		if val < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func checkPort(key string, p int) error {
	if p < 0 || p > 65535 {
		return fmt.Errorf("%s out of range: %d", key, p)
	}
	return nil
}

// Strategy returns the parsed sync strategy.
func (c *Config) Strategy() contract.Strategy {
	s, err := contract.ParseStrategy(c.Sync.Strategy)
	if err != nil {
		return contract.StrategySmart
	}
	return s
}

// LoggerConfig is the slog configuration of the supervisor itself.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{Level: c.Log.Level, Format: logger.Format(c.Log.Format), Color: c.Log.Color, TimeStamps: c.Log.TimeStamps}
}

// OutputLog is where service output is mirrored; disabled without log.dir.
func (c *Config) OutputLog() logger.FileConfig {
	return logger.FileConfig{
		Dir:        c.Log.Dir,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// BackendDescriptor builds the process descriptor of the backend.
func (c *Config) BackendDescriptor() process.Descriptor {
	be := c.Services.Backend
	return process.Descriptor{
		Name:         "backend",
		Command:      be.StartCommand,
		WorkDir:      be.Path,
		Env:          be.Env,
		Port:         be.Port,
		ReadyPattern: be.ReadyPattern,
		StartTimeout: millis(be.StartTimeoutMs),
		StopTimeout:  millis(be.StopTimeoutMs),
		Log:          c.OutputLog(),
	}
}

// FrontendDescriptor builds the process descriptor of the frontend. ok is
// false when no frontend is configured.
func (c *Config) FrontendDescriptor() (process.Descriptor, bool) {
	fe := c.Services.Frontend
	if fe == nil {
		return process.Descriptor{}, false
	}
	return process.Descriptor{
		Name:         "frontend",
		Command:      fe.StartCommand,
		WorkDir:      fe.Path,
		Env:          fe.Env,
		Port:         fe.Port,
		ReadyPattern: fe.ReadyPattern,
		StartTimeout: millis(fe.StartTimeoutMs),
		StopTimeout:  millis(fe.StopTimeoutMs),
		Log:          c.OutputLog(),
	}, true
}

// Descriptors lists the services in start order.
func (c *Config) Descriptors() []process.Descriptor {
	ds := []process.Descriptor{c.BackendDescriptor()}
	if fe, ok := c.FrontendDescriptor(); ok {
		ds = append(ds, fe)
	}
	return ds
}

// SessionEnv builds the session-wide variables: env files in order, then the
// top-level env map.
func (c *Config) SessionEnv() (env.Var, error) {
	out := make(env.Var)
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			out[k] = v
		}
	}
	for k, v := range c.Env {
		out[k] = v
	}
	return out, nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
