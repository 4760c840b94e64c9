// Package prefs loads the submitter's local preferences file, a small
// TOML document with no spec-mandated wire format — unlike the executor's
// control-side config (spec.md §6), which is KEY=VALUE by invariant.
package prefs

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// Prefs holds submitter-local preferences.
type Prefs struct {
	DefaultTimeoutSeconds int `toml:"default_timeout_seconds"`
	HistoryDays           int `toml:"history_days"`
}

// Default returns the submitter's built-in preference defaults.
func Default() Prefs {
	return Prefs{
		DefaultTimeoutSeconds: 30,
		HistoryDays:           30,
	}
}

// Load reads prefs from path, merged over Default(). A missing file is not
// an error.
func Load(path string) (Prefs, error) {
	p := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("reading preferences file: %w", err)
	}

	// Start from the defaults so a key absent from the file keeps its
	// default, while an explicit history_days = 0 (unlimited) is kept.
	fromFile := p
	if err := toml.Unmarshal(data, &fromFile); err != nil {
		return p, fmt.Errorf("parsing preferences file: %w", err)
	}

	if fromFile.DefaultTimeoutSeconds > 0 {
		p.DefaultTimeoutSeconds = fromFile.DefaultTimeoutSeconds
	}
	if fromFile.HistoryDays >= 0 {
		p.HistoryDays = fromFile.HistoryDays
	}
	return p, nil
}

// Save writes p to path as TOML, creating parent directories as needed.
func Save(path string, p Prefs) error {
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating preferences directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
