// Package config loads the agent's startup configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all shopops configuration.
type Config struct {
	Name string `yaml:"name"`

	Store     StoreConfig     `yaml:"store"`
	Printer   PrinterConfig   `yaml:"printer"`
	AI        AIConfig        `yaml:"ai"`
	Auth      AuthConfig      `yaml:"auth"`
	Transport TransportConfig `yaml:"transport"`
	Command   CommandConfig   `yaml:"command"`
	Agent     AgentConfig     `yaml:"agent"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// StoreConfig selects the shared document store.
type StoreConfig struct {
	Backend string `yaml:"backend"` // sqlite, firestore
	// Path is the sqlite database file.
	Path string `yaml:"path"`
	// WatchExternal wakes sqlite streams on writes from other processes.
	WatchExternal bool `yaml:"watch_external"`

	Project     string `yaml:"project"`
	Credentials string `yaml:"credentials"`
}

// PrinterConfig configures print-job execution.
type PrinterConfig struct {
	DriverPath        string   `yaml:"driver_path"`
	StandardQueue     string   `yaml:"standard_queue"`
	TechnicalQueue    string   `yaml:"technical_queue"`
	TechnicalTokens   []string `yaml:"technical_tokens"`
	Scaling           string   `yaml:"scaling"`
	TempDir           string   `yaml:"temp_dir"`
	Timeout           string   `yaml:"timeout"`
	SerializePerQueue bool     `yaml:"serialize_per_queue"`
}

// AIConfig configures the conversational assistant models.
type AIConfig struct {
	Enabled      bool   `yaml:"enabled"`
	APIKey       string `yaml:"api_key"`
	EconomyModel string `yaml:"economy_model"`
	PremiumModel string `yaml:"premium_model"`
	Shop         string `yaml:"shop"`
}

// AuthConfig lists senders always allowed to use the assistant.
type AuthConfig struct {
	Admins []string `yaml:"admins"`
}

// TransportConfig configures the browser-driven messaging session.
type TransportConfig struct {
	URL string `yaml:"url"`
	// BrowserBin is the Chrome executable. Empty lets the launcher pick one.
	BrowserBin string `yaml:"browser_bin"`
	// DebuggerURL attaches to an already running browser instead of launching.
	DebuggerURL string `yaml:"debugger_url"`
	Headless    bool   `yaml:"headless"`
	AuthDir     string `yaml:"auth_dir"`
	CacheDir    string `yaml:"cache_dir"`

	DefaultCountryCode string `yaml:"default_country_code"`
	LocalNumberLength  int    `yaml:"local_number_length"`

	PollIntervalMs   int `yaml:"poll_interval_ms"`
	ActionTimeoutMs  int `yaml:"action_timeout_ms"`
	MaxCheckFailures int `yaml:"max_check_failures"`

	// Selectors override the web client's built-in layout. Empty entries keep
	// the built-in selector.
	Selectors SelectorsConfig `yaml:"selectors"`
}

// SelectorsConfig holds CSS selector overrides for the web client.
type SelectorsConfig struct {
	Ready           string `yaml:"ready"`
	QRCode          string `yaml:"qr_code"`
	Compose         string `yaml:"compose"`
	SendButton      string `yaml:"send_button"`
	AttachButton    string `yaml:"attach_button"`
	FileInput       string `yaml:"file_input"`
	Caption         string `yaml:"caption"`
	MediaSend       string `yaml:"media_send"`
	InvalidNumber   string `yaml:"invalid_number"`
	IncomingMessage string `yaml:"incoming_message"`
	MessageText     string `yaml:"message_text"`
}

// CommandConfig configures the remote command channel.
type CommandConfig struct {
	ExitDelay string `yaml:"exit_delay"`
}

// AgentConfig holds feed and claim tuning.
type AgentConfig struct {
	// Owner identifies this process in claim leases. Empty generates one.
	Owner string `yaml:"owner"`

	ClaimLease     string `yaml:"claim_lease"`
	BackoffInitial string `yaml:"backoff_initial"`
	BackoffMax     string `yaml:"backoff_max"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"` // debug, info, warn, error
	Format     string          `yaml:"format"` // json, text
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address serving /metrics. Empty disables it.
	Listen string `yaml:"listen"`
}

// Store backends.
const (
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "shopops",
		Store: StoreConfig{
			Backend: BackendSQLite,
			Path:    ".shopops/shop.db",
		},
		Printer: PrinterConfig{
			DriverPath:     "SumatraPDF.exe",
			StandardQueue:  "STD",
			TechnicalQueue: "TECH",
			Scaling:        "fit",
			Timeout:        "2m",
		},
		AI: AIConfig{
			Enabled:      true,
			EconomyModel: "gemini-2.5-flash",
			PremiumModel: "gemini-2.5-pro",
			Shop:         "el taller",
		},
		Transport: TransportConfig{
			URL:              "https://web.whatsapp.com",
			Headless:         true,
			AuthDir:          ".shopops/webchat/auth",
			CacheDir:         ".shopops/webchat/cache",
			PollIntervalMs:   1000,
			ActionTimeoutMs:  30000,
			MaxCheckFailures: 5,
		},
		Command: CommandConfig{
			ExitDelay: "1500ms",
		},
		Agent: AgentConfig{
			ClaimLease:     "5m",
			BackoffInitial: "1s",
			BackoffMax:     "60s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.AI.APIKey = key
	}
	if backend := os.Getenv("SHOPOPS_STORE"); backend != "" {
		c.Store.Backend = backend
	}
	if path := os.Getenv("SHOPOPS_DB"); path != "" {
		c.Store.Path = path
	}
	if project := os.Getenv("GOOGLE_CLOUD_PROJECT"); project != "" && c.Store.Project == "" {
		c.Store.Project = project
	}
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" {
		c.Store.Credentials = creds
	}
	if admins := os.Getenv("SHOPOPS_ADMINS"); admins != "" {
		c.Auth.Admins = nil
		for _, a := range strings.Split(admins, ",") {
			if a = strings.TrimSpace(a); a != "" {
				c.Auth.Admins = append(c.Auth.Admins, a)
			}
		}
	}
	if driver := os.Getenv("SHOPOPS_PRINT_DRIVER"); driver != "" {
		c.Printer.DriverPath = driver
	}
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetPrintTimeout returns the driver timeout as a duration.
func (c *Config) GetPrintTimeout() time.Duration {
	return parseDuration(c.Printer.Timeout, 2*time.Minute)
}

// GetExitDelay returns the command channel exit delay.
func (c *Config) GetExitDelay() time.Duration {
	return parseDuration(c.Command.ExitDelay, 1500*time.Millisecond)
}

// GetClaimLease returns the claim lease duration.
func (c *Config) GetClaimLease() time.Duration {
	return parseDuration(c.Agent.ClaimLease, 5*time.Minute)
}

// GetBackoff returns the initial and maximum reconnect delays.
func (c *Config) GetBackoff() (initial, max time.Duration) {
	return parseDuration(c.Agent.BackoffInitial, time.Second), parseDuration(c.Agent.BackoffMax, 60*time.Second)
}

// SessionDirs are the local transport directories removed on a session reset.
func (c *Config) SessionDirs() []string {
	var dirs []string
	for _, d := range []string{c.Transport.AuthDir, c.Transport.CacheDir} {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Validate checks the configuration. Every problem found is reported in one
// ConfigurationError.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.Path == "" {
			add("store.path is required for the sqlite backend")
		}
	case BackendFirestore:
		if c.Store.Project == "" {
			add("store.project is required for the firestore backend (or set GOOGLE_CLOUD_PROJECT)")
		}
	default:
		add("store.backend %q is not one of %s, %s", c.Store.Backend, BackendSQLite, BackendFirestore)
	}

	if c.Printer.DriverPath == "" {
		add("printer.driver_path is required")
	}
	if c.Printer.StandardQueue == "" || c.Printer.TechnicalQueue == "" {
		add("printer.standard_queue and printer.technical_queue are required")
	}
	for name, v := range map[string]string{
		"printer.timeout":       c.Printer.Timeout,
		"command.exit_delay":    c.Command.ExitDelay,
		"agent.claim_lease":     c.Agent.ClaimLease,
		"agent.backoff_initial": c.Agent.BackoffInitial,
		"agent.backoff_max":     c.Agent.BackoffMax,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			add("%s: %v", name, err)
		}
	}

	if c.AI.Enabled {
		if c.AI.APIKey == "" {
			add("ai.api_key is required when the assistant is enabled (set GEMINI_API_KEY)")
		}
		if c.AI.EconomyModel == "" || c.AI.PremiumModel == "" {
			add("ai.economy_model and ai.premium_model are required")
		}
	}

	if c.Transport.URL == "" && c.Transport.DebuggerURL == "" {
		add("transport.url is required")
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return &ConfigurationError{Problems: problems}
}
