package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Starter is the minimal config written by `pulse init`.
type Starter struct {
	YouTrack struct {
		BaseURL   string `yaml:"base_url"`
		Token     string `yaml:"token,omitempty"`
		ProjectID string `yaml:"project_id"`
	} `yaml:"youtrack"`
	Output struct {
		Dir  string `yaml:"dir"`
		File string `yaml:"file"`
	} `yaml:"output"`
	Serve struct {
		Cron string `yaml:"cron,omitempty"`
	} `yaml:"serve,omitempty"`
}

// WriteStarter writes s as YAML. It refuses to overwrite unless force.
func WriteStarter(path string, s *Starter, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	// 0600: the file may hold the API token
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
