package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Vyvern configuration
type Config struct {
	// HTTP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Automation driver
	Driver DriverConfig `json:"driver" mapstructure:"driver"`

	// AI configuration
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Conversation engine
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Snapshot publishing
	Snapshot SnapshotConfig `json:"snapshot" mapstructure:"snapshot"`

	// Campaign store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Scheduler
	Scheduler SchedulerConfig `json:"scheduler" mapstructure:"scheduler"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// DriverConfig holds browser automation configuration
type DriverConfig struct {
	Headless   bool            `json:"headless" mapstructure:"headless"`
	NoSandbox  bool            `json:"no_sandbox" mapstructure:"no_sandbox"`
	ChromePath string          `json:"chrome_path" mapstructure:"chrome_path"`
	SurfaceURL string          `json:"surface_url" mapstructure:"surface_url"`
	Username   string          `json:"username" mapstructure:"username"`
	Password   string          `json:"password" mapstructure:"password"`
	Selectors  SelectorsConfig `json:"selectors" mapstructure:"selectors"`
}

// SelectorsConfig maps the messaging surface's UI elements to CSS selectors.
// Different surfaces plug in by swapping this block.
type SelectorsConfig struct {
	UsernameField    string `json:"username_field" mapstructure:"username_field"`
	PasswordField    string `json:"password_field" mapstructure:"password_field"`
	SubmitButton     string `json:"submit_button" mapstructure:"submit_button"`
	SearchBox        string `json:"search_box" mapstructure:"search_box"`
	ConversationLink string `json:"conversation_link" mapstructure:"conversation_link"`
	MessageRow       string `json:"message_row" mapstructure:"message_row"`
	CounterpartClass string `json:"counterpart_class" mapstructure:"counterpart_class"`
	ComposerField    string `json:"composer_field" mapstructure:"composer_field"`
	SendButton       string `json:"send_button" mapstructure:"send_button"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID          string  `json:"id" mapstructure:"id"`
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Priority    int     `json:"priority" mapstructure:"priority"`
}

// EngineConfig holds conversation loop configuration
type EngineConfig struct {
	PollIntervalMs        int `json:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	MaxContextChars       int `json:"max_context_chars" mapstructure:"max_context_chars"`
	MaxContextMessages    int `json:"max_context_messages" mapstructure:"max_context_messages"`
	MaxSessionDurationMin int `json:"max_session_duration_min" mapstructure:"max_session_duration_min"`
}

// SnapshotConfig holds snapshot publisher configuration
type SnapshotConfig struct {
	IntervalMs    int `json:"interval_ms" mapstructure:"interval_ms"`
	MinIntervalMs int `json:"min_interval_ms" mapstructure:"min_interval_ms"`
}

// StoreConfig holds campaign store configuration
type StoreConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Driver: DriverConfig{
			Headless:  true,
			NoSandbox: false,
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Engine: EngineConfig{
			PollIntervalMs:        3000,
			MaxContextChars:       6000,
			MaxContextMessages:    40,
			MaxSessionDurationMin: 30,
		},
		Snapshot: SnapshotConfig{
			IntervalMs:    500,
			MinIntervalMs: 2000,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Require at least one AI profile
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Driver.SurfaceURL == "" {
		return fmt.Errorf("driver surface_url is required")
	}

	if c.Engine.PollIntervalMs <= 0 {
		return fmt.Errorf("engine poll_interval_ms must be positive")
	}
	if c.Engine.MaxContextChars <= 0 {
		return fmt.Errorf("engine max_context_chars must be positive")
	}
	if c.Engine.MaxSessionDurationMin < 0 {
		return fmt.Errorf("engine max_session_duration_min must not be negative")
	}

	if c.Snapshot.IntervalMs <= 0 {
		return fmt.Errorf("snapshot interval_ms must be positive")
	}
	if c.Snapshot.MinIntervalMs < c.Snapshot.IntervalMs {
		return fmt.Errorf("snapshot min_interval_ms must not be below interval_ms")
	}

	return nil
}
