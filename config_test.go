package gondola

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gondola.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"identity": "prod",
		"token": "Bot abc",
		"autoshard": true,
		"intents": 513,
		"compress": true,
		"nats_address": "nats://localhost:4222",
		"nats_channel": "events",
		"ignored": ["typingStart"]
	}`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if config.Identity != "prod" || config.Token != "Bot abc" {
		t.Fatalf("unexpected config: %+v", config)
	}
	if !config.Autoshard || config.Intents != 513 {
		t.Fatalf("unexpected sharding config: %+v", config)
	}
	if config.MaxMessages != 100 {
		t.Fatalf("expected default max messages, got %d", config.MaxMessages)
	}
}

func TestLoadConfigRequiresToken(t *testing.T) {
	path := writeConfig(t, `{"identity": "prod"}`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error for a missing token")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestBelongsToList(t *testing.T) {
	list := []string{"typingStart", "presenceUpdate"}

	if !belongsToList(list, "typingStart") {
		t.Fatal("expected match")
	}
	if belongsToList(list, "messageCreate") {
		t.Fatal("expected no match")
	}
	if belongsToList(nil, "anything") {
		t.Fatal("expected no match on empty list")
	}
}
