package settings_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quickopen/quickopend/internal/settings"
)

func TestLoad_MissingFileIsZeroValue(t *testing.T) {
	s, err := settings.Load(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	require.Equal(t, "fallback", s.HostOr("fallback"))
	require.Equal(t, 4242, s.PortOr(4242))
}

func TestLoad_DecodesKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	body := "host = \"0.0.0.0\"\nport = 9999\nfilter_text = \"*.pyc\"\nquery_log = \"/tmp/qlog\"\n" +
		"directories = [\"/repo/one\", \"/repo/two\"]\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s, err := settings.Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", s.HostOr("x"))
	require.Equal(t, 9999, s.PortOr(0))
	require.Equal(t, "*.pyc", s.FilterTextOr(""))
	require.Equal(t, "/tmp/qlog", s.QueryLogPath())
	require.Equal(t, []string{"/repo/one", "/repo/two"}, s.Directories)
}

func TestLoad_PartialFileFallsBackPerKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = 1\n"), 0o644))

	s, err := settings.Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, s.PortOr(0))
	require.Equal(t, "default-host", s.HostOr("default-host"))
}
