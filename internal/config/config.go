// Package config loads and migrates the tako TOML configuration.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// LocalConfigName is the config file looked up in the working directory.
	LocalConfigName = "tako.toml"
	// DirName is the per-user state directory under $HOME.
	DirName = ".tako"
)

// Config is the root configuration.
type Config struct {
	Transport     string                  `toml:"transport"`      // "telegram" (default) or "discord"
	DefaultEngine string                  `toml:"default_engine"` // engine used for plain prompts
	Transports    TransportsConfig        `toml:"transports"`
	Voice         VoiceConfig             `toml:"voice"`
	Inject        InjectConfig            `toml:"inject"`
	Schedules     []ScheduleConfig        `toml:"schedules"`
	Render        RenderConfig            `toml:"render"`
	Telemetry     TelemetryConfig         `toml:"telemetry"`
	Engines       map[string]EngineConfig `toml:"engines"`
}

// TransportsConfig holds per-transport settings.
type TransportsConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	Discord  DiscordConfig  `toml:"discord"`
}

// TelegramConfig configures the Telegram transport. BotToken may come from
// the TAKO_TELEGRAM_BOT_TOKEN env var instead of the file.
type TelegramConfig struct {
	BotToken           string       `toml:"bot_token"`
	ChatID             int64        `toml:"chat_id"` // the single chat the bridge serves
	VoiceTranscription bool         `toml:"voice_transcription"`
	Topics             TopicsConfig `toml:"topics"`
}

// TopicsConfig controls forum-topic session scoping.
type TopicsConfig struct {
	Scope string `toml:"scope"` // "main" (default) or "projects"
}

// DiscordConfig configures the Discord transport.
type DiscordConfig struct {
	BotToken  string `toml:"bot_token"` // or TAKO_DISCORD_BOT_TOKEN
	ChannelID string `toml:"channel_id"`
}

// VoiceConfig configures voice-note transcription.
type VoiceConfig struct {
	Provider string `toml:"provider"` // "openai" or "polling"
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"` // or TAKO_VOICE_API_KEY
	Model    string `toml:"model"`
	MaxBytes int64  `toml:"max_bytes"`
}

// InjectConfig configures the filesystem injection spool.
type InjectConfig struct {
	Dir string `toml:"dir"` // default ~/.tako/inject
}

// ScheduleConfig is one cron-driven injection.
type ScheduleConfig struct {
	Cron       string `toml:"cron"`
	Text       string `toml:"text"`
	NewSession bool   `toml:"new_session"`
}

// RenderConfig tunes the progress renderer.
type RenderConfig struct {
	CommandWidth int `toml:"command_width"` // 0 = no truncation
	MaxActions   int `toml:"max_actions"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	Protocol string `toml:"protocol"` // "grpc" or "http"
}

// EngineConfig locates one agent binary.
type EngineConfig struct {
	Bin  string   `toml:"bin"`
	Args []string `toml:"args"` // extra args inserted before the subcommand
}

// Default returns the configuration used when keys are absent from the file.
func Default() *Config {
	return &Config{
		Transport:     "telegram",
		DefaultEngine: "codex",
		Transports: TransportsConfig{
			Telegram: TelegramConfig{
				Topics: TopicsConfig{Scope: "main"},
			},
		},
		Voice: VoiceConfig{
			Provider: "openai",
			Model:    "whisper-1",
			MaxBytes: 20 * 1024 * 1024,
		},
		Render: RenderConfig{
			MaxActions: 5,
		},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Engines: map[string]EngineConfig{
			"codex":  {Bin: "codex"},
			"claude": {Bin: "claude"},
		},
	}
}

// Dir returns the per-user state directory (~/.tako).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DirName), nil
}

// HomeConfigPath returns ~/.tako/tako.toml.
func HomeConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LocalConfigName), nil
}

// InjectDir returns the configured injection spool directory, defaulting to
// ~/.tako/inject.
func (c *Config) InjectDir() (string, error) {
	if c.Inject.Dir != "" {
		return ExpandHome(c.Inject.Dir), nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "inject"), nil
}

// Engine returns the binary settings for name, falling back to the name
// itself as the binary.
func (c *Config) Engine(name string) EngineConfig {
	if ec, ok := c.Engines[name]; ok {
		if ec.Bin == "" {
			ec.Bin = name
		}
		return ec
	}
	return EngineConfig{Bin: name}
}

// ExpandHome expands a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
