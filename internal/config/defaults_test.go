package config

import (
	"strings"
	"testing"
)

func TestDefaultEntries(t *testing.T) {
	entries := DefaultEntries()

	if len(entries) == 0 {
		t.Fatal("DefaultEntries() returned empty slice")
	}

	// Verify required keys exist
	requiredKeys := []string{
		"inference.provider",
		"inference.model",
		"embedding.model",
		"run.n_runs",
		"run.num_predict",
		"run.max_context_len",
		"run.quantile",
		"paths.output_dir",
		"log.level",
	}

	keys := make(map[string]bool)
	for _, e := range entries {
		if keys[e.Key] {
			t.Errorf("duplicate key: %s", e.Key)
		}
		keys[e.Key] = true
		if strings.TrimSpace(e.Description) == "" {
			t.Errorf("key %s has no description", e.Key)
		}
	}

	for _, key := range requiredKeys {
		if !keys[key] {
			t.Errorf("DefaultEntries() missing required key: %s", key)
		}
	}
}

func TestGetDefault(t *testing.T) {
	t.Run("existing_key", func(t *testing.T) {
		entry := GetDefault("embedding.model")
		if entry == nil {
			t.Fatal("GetDefault() returned nil for existing key")
		}
		if entry.Value != "nomic-embed-text" {
			t.Errorf("GetDefault() Value = %v, want %q", entry.Value, "nomic-embed-text")
		}
	})

	t.Run("non_existent_key", func(t *testing.T) {
		entry := GetDefault("does.not.exist")
		if entry != nil {
			t.Errorf("GetDefault() = %v, want nil for non-existent key", entry)
		}
	})
}
