package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// QueueSettings tunes the visit queue behaviour. Loaded from an optional
// yaml file so clinics can adjust labelling and delivery without a rebuild.
type QueueSettings struct {
	TokenPrefix      string `yaml:"token_prefix" json:"token_prefix"`
	TokenPadWidth    int    `yaml:"token_pad_width" json:"token_pad_width"`
	SearchDebounceMS int    `yaml:"search_debounce_ms" json:"search_debounce_ms"`
	ViewerBuffer     int    `yaml:"viewer_buffer" json:"viewer_buffer"`
}

func LoadSettings(path string) (QueueSettings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultSettings(), err
	}

	var s QueueSettings
	if err := yaml.Unmarshal(content, &s); err != nil {
		return QueueSettings{}, err
	}

	if s.TokenPrefix == "" {
		return QueueSettings{}, errors.New("queue settings missing token_prefix")
	}
	if s.TokenPadWidth <= 0 {
		s.TokenPadWidth = 3
	}
	if s.ViewerBuffer <= 0 {
		s.ViewerBuffer = 16
	}
	if s.SearchDebounceMS <= 0 {
		s.SearchDebounceMS = 200
	}
	return s, nil
}

func DefaultSettings() QueueSettings {
	return QueueSettings{
		TokenPrefix:      "T-",
		TokenPadWidth:    3,
		SearchDebounceMS: 200,
		ViewerBuffer:     16,
	}
}
