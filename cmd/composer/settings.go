package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextconvert/shorts/internal/modules/compose"
	"github.com/pelletier/go-toml/v2"
)

// loadSettings reads a JSON or TOML settings file, applies key=value
// overrides on top and normalises the result. Unusable values are an error
// here, unlike the HTTP surface, so typos surface immediately.
func loadSettings(path string, overrides []string) (compose.Settings, error) {
	values := make(map[string]interface{})

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return compose.Settings{}, fmt.Errorf("read settings: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			err = toml.Unmarshal(data, &values)
		case ".json":
			err = json.Unmarshal(data, &values)
		default:
			return compose.Settings{}, fmt.Errorf("settings file %s: expected .json or .toml", path)
		}
		if err != nil {
			return compose.Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
		}
	}

	for _, kv := range overrides {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return compose.Settings{}, fmt.Errorf("invalid --set %q: expected key=value", kv)
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return compose.SettingsFromMap(values)
}
