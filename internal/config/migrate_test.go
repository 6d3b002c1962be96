package config

import (
	"reflect"
	"testing"
)

// TestMigrateLegacyTelegram verifies the full legacy layout moves under
// transports.telegram and a second run changes nothing.
func TestMigrateLegacyTelegram(t *testing.T) {
	tree := map[string]any{
		"bot_token": "T",
		"chat_id":   int64(42),
		"transports": map[string]any{
			"telegram": map[string]any{
				"topics": map[string]any{"mode": "per_project_chat"},
			},
		},
	}

	applied, err := Migrate(tree, "tako.toml")
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if want := []string{"legacy-telegram", "topics-scope"}; !reflect.DeepEqual(applied, want) {
		t.Fatalf("applied = %v, want %v", applied, want)
	}

	if _, ok := tree["bot_token"]; ok {
		t.Error("top-level bot_token still present")
	}
	if _, ok := tree["chat_id"]; ok {
		t.Error("top-level chat_id still present")
	}
	if got := tree["transport"]; got != "telegram" {
		t.Errorf("transport = %v, want telegram", got)
	}

	telegram := tree["transports"].(map[string]any)["telegram"].(map[string]any)
	if got := telegram["bot_token"]; got != "T" {
		t.Errorf("bot_token = %v, want T", got)
	}
	if got := telegram["chat_id"]; got != int64(42) {
		t.Errorf("chat_id = %v, want 42", got)
	}
	topics := telegram["topics"].(map[string]any)
	if got := topics["scope"]; got != "projects" {
		t.Errorf("topics.scope = %v, want projects", got)
	}
	if _, ok := topics["mode"]; ok {
		t.Error("topics.mode still present")
	}

	// Idempotence: a second migration pass fires nothing.
	applied, err = Migrate(tree, "tako.toml")
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("second Migrate applied %v, want none", applied)
	}
}

// TestMigratePreservesExisting verifies values already under
// transports.telegram win over legacy top-level ones.
func TestMigratePreservesExisting(t *testing.T) {
	tree := map[string]any{
		"bot_token": "OLD",
		"transports": map[string]any{
			"telegram": map[string]any{"bot_token": "NEW"},
		},
	}

	if _, err := Migrate(tree, "tako.toml"); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	telegram := tree["transports"].(map[string]any)["telegram"].(map[string]any)
	if got := telegram["bot_token"]; got != "NEW" {
		t.Errorf("bot_token = %v, want NEW", got)
	}
}

// TestMigrateTopicsScope covers mode mapping and error cases.
func TestMigrateTopicsScope(t *testing.T) {
	tests := []struct {
		name      string
		mode      any
		wantScope string
		wantErr   bool
	}{
		{"projects", "per_project_chat", "projects", false},
		{"main", "multi_project_chat", "main", false},
		{"padded", "  per_project_chat  ", "projects", false},
		{"unknown mode", "whatever", "", true},
		{"non-string mode", int64(3), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := map[string]any{
				"transports": map[string]any{
					"telegram": map[string]any{
						"topics": map[string]any{"mode": tt.mode},
					},
				},
			}
			applied, err := Migrate(tree, "tako.toml")
			if tt.wantErr {
				if err == nil {
					t.Fatal("Migrate returned nil error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Migrate: %v", err)
			}
			if !reflect.DeepEqual(applied, []string{"topics-scope"}) {
				t.Fatalf("applied = %v", applied)
			}
			topics := tree["transports"].(map[string]any)["telegram"].(map[string]any)["topics"].(map[string]any)
			if got := topics["scope"]; got != tt.wantScope {
				t.Errorf("scope = %v, want %v", got, tt.wantScope)
			}
		})
	}
}

// TestMigrateNoLegacy verifies a current-layout tree is untouched.
func TestMigrateNoLegacy(t *testing.T) {
	tree := map[string]any{
		"transport": "telegram",
		"transports": map[string]any{
			"telegram": map[string]any{
				"bot_token": "T",
				"chat_id":   int64(1),
				"topics":    map[string]any{"scope": "chat"},
			},
		},
	}
	applied, err := Migrate(tree, "tako.toml")
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %v, want none", applied)
	}
}
