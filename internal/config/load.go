package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const exampleConfig = `[transports.telegram]
bot_token = "123456789:ABCdefGHIjklMNOpqrsTUVwxyz"
chat_id = 123456789
`

// Load reads the config from path, or from the first of ./tako.toml and
// ~/.tako/tako.toml when path is empty. Schema migrations are applied and,
// when any fires, written back to the file. Env overrides are applied last.
// The returned string is the path actually used.
func Load(path string) (*Config, string, error) {
	cfgPath, err := resolvePath(path)
	if err != nil {
		return nil, "", err
	}

	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%s", missingConfigMessage(cfgPath, ""))
		}
		return nil, "", fmt.Errorf("failed to read config file %s: %w", cfgPath, err)
	}

	var tree map[string]any
	if err := toml.Unmarshal(raw, &tree); err != nil {
		return nil, "", fmt.Errorf("malformed TOML in %s: %w", cfgPath, err)
	}

	applied, err := Migrate(tree, cfgPath)
	if err != nil {
		return nil, "", err
	}
	if len(applied) > 0 {
		if err := writeTree(cfgPath, tree); err != nil {
			return nil, "", fmt.Errorf("failed to write migrated config %s: %w", cfgPath, err)
		}
		for _, m := range applied {
			slog.Info("config migrated", "migration", m, "path", cfgPath)
		}
	}

	cfg := Default()
	if err := decodeTree(tree, cfg); err != nil {
		return nil, "", fmt.Errorf("invalid config in %s: %w", cfgPath, err)
	}
	cfg.applyEnvOverrides()
	return cfg, cfgPath, nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		return ExpandHome(path), nil
	}

	local := LocalConfigName
	if cwd, err := os.Getwd(); err == nil {
		local = filepath.Join(cwd, LocalConfigName)
	}
	home, err := HomeConfigPath()
	if err != nil {
		return local, nil
	}
	if local == home {
		if fileExists(local) {
			return local, nil
		}
		return "", fmt.Errorf("%s", missingConfigMessage(local, ""))
	}
	for _, candidate := range []string{local, home} {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s", missingConfigMessage(home, local))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func missingConfigMessage(primary, alternate string) string {
	example := "Example config:\n```\n" + exampleConfig + "```"
	if alternate == "" {
		return fmt.Sprintf("missing config file `%s`.\n%s", displayPath(primary), example)
	}
	return fmt.Sprintf("missing tako config.\nCreate one of these files:\n  %s\n  %s\n\n%s",
		displayPath(alternate), displayPath(primary), example)
}

// displayPath abbreviates paths under cwd and home for error messages.
func displayPath(path string) string {
	if cwd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(cwd, path); err == nil && rel != ".." && !strings.HasPrefix(rel, "../") {
			return "./" + filepath.ToSlash(rel)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if rel, err := filepath.Rel(home, path); err == nil && rel != ".." && !strings.HasPrefix(rel, "../") {
			return "~/" + filepath.ToSlash(rel)
		}
	}
	return path
}

// decodeTree round-trips the migrated tree through TOML into the struct so
// file keys override defaults and unknown keys are ignored.
func decodeTree(tree map[string]any, cfg *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(tree); err != nil {
		return err
	}
	return toml.Unmarshal(buf.Bytes(), cfg)
}

func writeTree(path string, tree map[string]any) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(tree); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TAKO_TELEGRAM_BOT_TOKEN"); v != "" {
		c.Transports.Telegram.BotToken = v
	}
	if v := os.Getenv("TAKO_DISCORD_BOT_TOKEN"); v != "" {
		c.Transports.Discord.BotToken = v
	}
	if v := os.Getenv("TAKO_VOICE_API_KEY"); v != "" {
		c.Voice.APIKey = v
	}
}

// Save writes cfg to path, creating parent directories. The file is 0600
// since it may hold the bot token.
func Save(cfg *Config, path string) error {
	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
