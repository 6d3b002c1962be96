package config

import (
	"fmt"
	"strings"
)

// Migrate applies schema migrations to the decoded TOML tree in place and
// returns the names of those that fired. Re-running on the result is a
// no-op. path is only used in error messages.
func Migrate(tree map[string]any, path string) ([]string, error) {
	var applied []string

	fired, err := migrateLegacyTelegram(tree, path)
	if err != nil {
		return nil, err
	}
	if fired {
		applied = append(applied, "legacy-telegram")
	}

	fired, err = migrateTopicsScope(tree, path)
	if err != nil {
		return nil, err
	}
	if fired {
		applied = append(applied, "topics-scope")
	}

	return applied, nil
}

// migrateLegacyTelegram moves top-level bot_token/chat_id under
// transports.telegram and defaults transport to "telegram".
func migrateLegacyTelegram(tree map[string]any, path string) (bool, error) {
	_, hasToken := tree["bot_token"]
	_, hasChat := tree["chat_id"]
	if !hasToken && !hasChat {
		return false, nil
	}

	transports, err := ensureTable(tree, "transports", path, "transports")
	if err != nil {
		return false, err
	}
	telegram, err := ensureTable(transports, "telegram", path, "transports.telegram")
	if err != nil {
		return false, err
	}

	if v, ok := tree["bot_token"]; ok {
		if _, exists := telegram["bot_token"]; !exists {
			telegram["bot_token"] = v
		}
	}
	if v, ok := tree["chat_id"]; ok {
		if _, exists := telegram["chat_id"]; !exists {
			telegram["chat_id"] = v
		}
	}

	delete(tree, "bot_token")
	delete(tree, "chat_id")
	if _, ok := tree["transport"]; !ok {
		tree["transport"] = "telegram"
	}
	return true, nil
}

// migrateTopicsScope replaces the legacy transports.telegram.topics.mode
// key with the scope key.
func migrateTopicsScope(tree map[string]any, path string) (bool, error) {
	transports, ok, err := optionalTable(tree, "transports", path, "transports")
	if err != nil || !ok {
		return false, err
	}
	telegram, ok, err := optionalTable(transports, "telegram", path, "transports.telegram")
	if err != nil || !ok {
		return false, err
	}
	topics, ok, err := optionalTable(telegram, "topics", path, "transports.telegram.topics")
	if err != nil || !ok {
		return false, err
	}
	rawMode, ok := topics["mode"]
	if !ok {
		return false, nil
	}

	if _, exists := topics["scope"]; !exists {
		mode, ok := rawMode.(string)
		if !ok {
			return false, fmt.Errorf("invalid `transports.telegram.topics.mode` in %s; expected a string", path)
		}
		switch strings.TrimSpace(mode) {
		case "multi_project_chat":
			topics["scope"] = "main"
		case "per_project_chat":
			topics["scope"] = "projects"
		default:
			return false, fmt.Errorf("invalid `transports.telegram.topics.mode` in %s; expected 'multi_project_chat' or 'per_project_chat'", path)
		}
	}

	delete(topics, "mode")
	return true, nil
}

func ensureTable(parent map[string]any, key, path, label string) (map[string]any, error) {
	v, ok := parent[key]
	if !ok || v == nil {
		table := map[string]any{}
		parent[key] = table
		return table, nil
	}
	table, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid `%s` in %s; expected a table", label, path)
	}
	return table, nil
}

func optionalTable(parent map[string]any, key, path, label string) (map[string]any, bool, error) {
	v, ok := parent[key]
	if !ok || v == nil {
		return nil, false, nil
	}
	table, ok := v.(map[string]any)
	if !ok {
		return nil, false, fmt.Errorf("invalid `%s` in %s; expected a table", label, path)
	}
	return table, true, nil
}
