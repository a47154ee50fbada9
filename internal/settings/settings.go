// Package settings loads the daemon's persisted configuration: a TOML
// file, `~/.quickopend` by default, registering the keys host, port,
// filter_text, query_log, and directories. Unset keys fall back to the
// CLI's flag defaults, mirroring the flag-default pattern in
// cmd/zoekt-webserver/main.go.
package settings

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Settings is the decoded shape of the settings file. Every field is a
// pointer so Load can tell "absent, use the flag default" apart from
// "explicitly set to the zero value". Directories is a plain slice: a
// missing key and an empty list mean the same thing (nothing to
// re-add at startup).
type Settings struct {
	Host        *string  `toml:"host"`
	Port        *int     `toml:"port"`
	FilterText  *string  `toml:"filter_text"`
	QueryLog    *string  `toml:"query_log"`
	Directories []string `toml:"directories"`
}

// DefaultPath returns `~/.quickopend`, the default settings file
// location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".quickopend"), nil
}

// Load decodes the settings file at path. A missing file is not an
// error: it returns a zero-value Settings, equivalent to every key
// being absent.
func Load(path string) (Settings, error) {
	var s Settings
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	}
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// HostOr returns the configured host, or fallback if unset.
func (s Settings) HostOr(fallback string) string {
	if s.Host != nil {
		return *s.Host
	}
	return fallback
}

// PortOr returns the configured port, or fallback if unset.
func (s Settings) PortOr(fallback int) int {
	if s.Port != nil {
		return *s.Port
	}
	return fallback
}

// FilterTextOr returns the configured filter_text glob, or fallback
// (typically "") if unset.
func (s Settings) FilterTextOr(fallback string) string {
	if s.FilterText != nil {
		return *s.FilterText
	}
	return fallback
}

// QueryLogPath returns the configured query log path, or "" if the
// query log is disabled.
func (s Settings) QueryLogPath() string {
	if s.QueryLog != nil {
		return *s.QueryLog
	}
	return ""
}
