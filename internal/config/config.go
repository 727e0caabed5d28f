// Package config handles taskmate configuration loading.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/taskmate/config.yaml, /etc/taskmate/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskmate", "config.yaml"))
	}

	paths = append(paths, "/etc/taskmate/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all taskmate configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	Model         ModelConfig         `yaml:"model"`
	Chat          ChatConfig          `yaml:"chat"`
	Tasks         TasksConfig         `yaml:"tasks"`
	Prediction    PredictionConfig    `yaml:"prediction"`
	Conversations ConversationsConfig `yaml:"conversations"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Voice         VoiceConfig         `yaml:"voice"`
	Tools         ToolsConfig         `yaml:"tools"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig selects the language model provider.
type ModelConfig struct {
	Provider   string `yaml:"provider"` // openai (default) or ollama
	Name       string `yaml:"name"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	TimeoutSec int    `yaml:"timeout_sec"` // per model invocation
}

// ChatConfig bounds the orchestration loop and conversation history.
type ChatConfig struct {
	MaxHistory       int    `yaml:"max_history"`
	MaxIterations    int    `yaml:"max_iterations"`
	ToolTimeoutSec   int    `yaml:"tool_timeout_sec"`
	MaxParallelTools int    `yaml:"max_parallel_tools"`
	InstructionsFile string `yaml:"instructions_file"` // optional override of the built-in instructions
}

// TasksConfig defines the task store backend and how tools reach it.
type TasksConfig struct {
	// Backend is "file" (JSON file, default) or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the JSON file or SQLite database. Defaults under DataDir.
	Path string `yaml:"path"`
	// StoreURL is the base URL the tool registry uses to reach the task
	// CRUD service. Empty means this process's own listener.
	StoreURL   string `yaml:"store_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// PredictionConfig defines the analytics service connection.
type PredictionConfig struct {
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeout_sec"`
	// Retries enables bounded retry on dial failures. Zero keeps the
	// single-attempt behavior.
	Retries int `yaml:"retries"`
}

// Configured reports whether a prediction service URL is set.
func (c PredictionConfig) Configured() bool {
	return c.URL != ""
}

// ConversationsConfig selects where per-user chat history lives.
type ConversationsConfig struct {
	Backend string      `yaml:"backend"` // memory (default) or redis
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NotificationsConfig defines where sendNotification delivers.
type NotificationsConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig defines the MQTT broker used for notifications.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Configured reports whether an MQTT broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// VoiceConfig defines the speech-to-text and text-to-speech services.
type VoiceConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	STTModel    string  `yaml:"stt_model"`
	TTSModel    string  `yaml:"tts_model"`
	Voice       string  `yaml:"voice"`
	Speed       float64 `yaml:"speed"`
	Language    string  `yaml:"language"`
	FFmpegPath  string  `yaml:"ffmpeg_path"`
	UploadDir   string  `yaml:"upload_dir"`
	TimeoutSec  int     `yaml:"timeout_sec"`
	MaxUploadMB int64   `yaml:"max_upload_mb"`
}

// Configured reports whether the voice services have credentials.
func (c VoiceConfig) Configured() bool {
	return c.APIKey != ""
}

// ToolsConfig controls the tool registry.
type ToolsConfig struct {
	// RequireConfirmation makes createTask, updateTask, and deleteTask
	// return a pending preview instead of mutating.
	RequireConfirmation *bool `yaml:"require_confirmation"`
	// ConfirmationSecret keys confirmation tokens. Empty means a random
	// per-process key, so pending actions do not survive a restart.
	ConfirmationSecret string `yaml:"confirmation_secret"`
}

// ConfirmationEnabled reports the effective RequireConfirmation value.
func (c ToolsConfig) ConfirmationEnabled() bool {
	return c.RequireConfirmation == nil || *c.RequireConfirmation
}

// Duration helpers convert the integer second fields.

// ModelTimeout returns the per-invocation model timeout.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutSec) * time.Second
}

// ToolTimeout returns the per-call tool timeout.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Chat.ToolTimeoutSec) * time.Second
}

// ResponseDeadline bounds how long one HTTP response may take to
// write. A chat request runs at most MaxIterations model calls, each
// followed by one tool batch, and /voice/chat adds a transcription and
// a synthesis call on either side.
func (c *Config) ResponseDeadline() time.Duration {
	iterations := time.Duration(max(c.Chat.MaxIterations, 1))
	voice := 2 * time.Duration(c.Voice.TimeoutSec) * time.Second
	return iterations*(c.ModelTimeout()+c.ToolTimeout()) + voice + 30*time.Second
}

// Load reads configuration from a YAML file, expanding environment
// variables, applying defaults, and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 3000
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}

	if c.Model.Provider == "" {
		c.Model.Provider = "openai"
	}
	if c.Model.Name == "" {
		switch c.Model.Provider {
		case "ollama":
			c.Model.Name = "qwen3:4b"
		default:
			c.Model.Name = "gpt-4o"
		}
	}
	if c.Model.BaseURL == "" {
		switch c.Model.Provider {
		case "ollama":
			c.Model.BaseURL = "http://localhost:11434"
		default:
			c.Model.BaseURL = "https://api.openai.com/v1"
		}
	}
	if c.Model.APIKey == "" {
		c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Model.TimeoutSec == 0 {
		c.Model.TimeoutSec = 60
	}

	if c.Chat.MaxHistory == 0 {
		c.Chat.MaxHistory = 10
	}
	if c.Chat.MaxIterations == 0 {
		c.Chat.MaxIterations = 5
	}
	if c.Chat.ToolTimeoutSec == 0 {
		c.Chat.ToolTimeoutSec = 20
	}
	if c.Chat.MaxParallelTools == 0 {
		c.Chat.MaxParallelTools = 4
	}

	if c.Tasks.Backend == "" {
		c.Tasks.Backend = "file"
	}
	if c.Tasks.Path == "" {
		switch c.Tasks.Backend {
		case "sqlite":
			c.Tasks.Path = filepath.Join(c.DataDir, "tasks.db")
		default:
			c.Tasks.Path = filepath.Join(c.DataDir, "tasks.json")
		}
	}
	if c.Tasks.TimeoutSec == 0 {
		c.Tasks.TimeoutSec = 10
	}

	if c.Prediction.TimeoutSec == 0 {
		c.Prediction.TimeoutSec = 15
	}

	if c.Conversations.Backend == "" {
		c.Conversations.Backend = "memory"
	}
	if c.Conversations.Redis.KeyPrefix == "" {
		c.Conversations.Redis.KeyPrefix = "taskmate:history"
	}

	if c.Notifications.MQTT.TopicPrefix == "" {
		c.Notifications.MQTT.TopicPrefix = "taskmate"
	}
	if c.Notifications.MQTT.ClientID == "" {
		c.Notifications.MQTT.ClientID = "taskmate"
	}

	if c.Voice.BaseURL == "" {
		c.Voice.BaseURL = "https://api.openai.com/v1"
	}
	if c.Voice.APIKey == "" {
		c.Voice.APIKey = c.Model.APIKey
	}
	if c.Voice.STTModel == "" {
		c.Voice.STTModel = "whisper-1"
	}
	if c.Voice.TTSModel == "" {
		c.Voice.TTSModel = "tts-1"
	}
	if c.Voice.Voice == "" {
		c.Voice.Voice = "nova"
	}
	if c.Voice.Speed == 0 {
		c.Voice.Speed = 1.0
	}
	if c.Voice.Language == "" {
		c.Voice.Language = "en"
	}
	if c.Voice.FFmpegPath == "" {
		c.Voice.FFmpegPath = "ffmpeg"
	}
	if c.Voice.UploadDir == "" {
		c.Voice.UploadDir = filepath.Join(c.DataDir, "uploads")
	}
	if c.Voice.TimeoutSec == 0 {
		c.Voice.TimeoutSec = 30
	}
	if c.Voice.MaxUploadMB == 0 {
		c.Voice.MaxUploadMB = 25
	}
}

// Validate checks the configuration for values that would fail at
// runtime. It expects defaults to have been applied.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}

	switch c.Model.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown model.provider %q (valid: openai, ollama)", c.Model.Provider)
	}
	if c.Model.Provider == "openai" && c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required for the openai provider (or set OPENAI_API_KEY)")
	}

	if c.Chat.MaxHistory < 1 {
		return fmt.Errorf("chat.max_history must be positive, got %d", c.Chat.MaxHistory)
	}
	if c.Chat.MaxIterations < 1 {
		return fmt.Errorf("chat.max_iterations must be positive, got %d", c.Chat.MaxIterations)
	}

	switch c.Tasks.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown tasks.backend %q (valid: file, sqlite)", c.Tasks.Backend)
	}
	if c.Tasks.StoreURL != "" {
		if err := validateURL("tasks.store_url", c.Tasks.StoreURL); err != nil {
			return err
		}
	}
	if c.Prediction.Configured() {
		if err := validateURL("prediction.url", c.Prediction.URL); err != nil {
			return err
		}
	}

	switch c.Conversations.Backend {
	case "memory":
	case "redis":
		if c.Conversations.Redis.Addr == "" {
			return fmt.Errorf("conversations.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown conversations.backend %q (valid: memory, redis)", c.Conversations.Backend)
	}

	if c.Notifications.MQTT.Configured() {
		u, err := url.Parse(c.Notifications.MQTT.Broker)
		if err != nil {
			return fmt.Errorf("notifications.mqtt.broker: %w", err)
		}
		switch u.Scheme {
		case "mqtt", "mqtts", "tcp", "ssl", "ws", "wss":
		default:
			return fmt.Errorf("notifications.mqtt.broker scheme %q not supported", u.Scheme)
		}
	}

	return nil
}

// TaskStoreURL returns the base URL for the task CRUD service. Without
// an explicit store_url, the tool registry calls back into this process.
func (c *Config) TaskStoreURL() string {
	if c.Tasks.StoreURL != "" {
		return strings.TrimRight(c.Tasks.StoreURL, "/")
	}
	host := c.Listen.Address
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Listen.Port)
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", field, raw)
	}
	return nil
}
