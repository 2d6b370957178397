package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/tazhate/tododav/internal/domain"
)

// LoadSettings reads the todo list settings, writing defaults on first run.
// CALDAV_URL, CALDAV_USERNAME and CALDAV_PASSWORD override the account.
func LoadSettings(path string) (domain.Settings, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		settings := domain.DefaultSettings()
		if err := SaveSettings(path, settings); err != nil {
			return settings, err
		}
		return withEnv(settings), nil
	}

	settings, err := readSettings(path)
	if err != nil {
		return settings, err
	}
	return withEnv(settings), nil
}

func readSettings(path string) (domain.Settings, error) {
	settings := domain.DefaultSettings()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("read settings: %w", err)
	}
	if err := toml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return normalize(settings), nil
}

// SaveSettings writes settings to path. Account values that come from the
// environment are not written; the file keeps what it had.
func SaveSettings(path string, settings domain.Settings) error {
	stored, err := readSettings(path)
	if err != nil {
		stored = domain.DefaultSettings()
	}
	settings = withoutEnv(settings, stored)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := toml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func normalize(s domain.Settings) domain.Settings {
	def := domain.DefaultSettings()
	if s.Show <= 0 {
		s.Show = def.Show
	}
	if s.RefreshInterval <= 0 {
		s.RefreshInterval = def.RefreshInterval
	}
	if s.DueTimeRange < 0 {
		s.DueTimeRange = def.DueTimeRange
	}
	return s
}

func withEnv(s domain.Settings) domain.Settings {
	if v := os.Getenv("CALDAV_URL"); v != "" {
		s.Account.ServerURL = v
	}
	if v := os.Getenv("CALDAV_USERNAME"); v != "" {
		s.Account.Credentials.Username = v
	}
	if v := os.Getenv("CALDAV_PASSWORD"); v != "" {
		s.Account.Credentials.Password = v
	}
	return s
}

func withoutEnv(s, stored domain.Settings) domain.Settings {
	if v := os.Getenv("CALDAV_URL"); v != "" && s.Account.ServerURL == v {
		s.Account.ServerURL = stored.Account.ServerURL
	}
	if v := os.Getenv("CALDAV_USERNAME"); v != "" && s.Account.Credentials.Username == v {
		s.Account.Credentials.Username = stored.Account.Credentials.Username
	}
	if v := os.Getenv("CALDAV_PASSWORD"); v != "" && s.Account.Credentials.Password == v {
		s.Account.Credentials.Password = stored.Account.Credentials.Password
	}
	return s
}
