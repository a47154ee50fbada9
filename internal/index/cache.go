package index

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// cacheDir returns ~/.cache/quickopend (or $XDG_CACHE_HOME/quickopend,
// if set), the on-disk home for the per-directory basename cache
// (grounded on original_source/src/db_stub.py's write-on-publish,
// read-on-startup persistence). Errors resolving a home directory make
// caching a no-op rather than a startup failure.
func cacheDir() (string, error) {
	if base := os.Getenv("XDG_CACHE_HOME"); base != "" {
		return filepath.Join(base, "quickopend"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", "quickopend"), nil
}

func cachePath(dirID string) (string, error) {
	dir, err := cacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, dirID+".json"), nil
}

// writeBasenameCache persists basenames -> full paths for dirID so a
// future restart can serve it immediately, before the Indexer has
// re-walked the directory. Best-effort: failures are left for the
// caller to log, never to block publishing.
func writeBasenameCache(dirID string, basenames map[string][]string) error {
	dir, err := cacheDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path, err := cachePath(dirID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(basenames)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readBasenameCache loads a previously written cache for dirID. A
// missing file is not an error: it just means no advisory data is
// available yet, per the original's "write on publish, read on
// startup, treat as advisory" behavior.
func readBasenameCache(dirID string) (map[string][]string, error) {
	path, err := cachePath(dirID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var basenames map[string][]string
	if err := json.Unmarshal(data, &basenames); err != nil {
		return nil, err
	}
	return basenames, nil
}

func removeBasenameCache(dirID string) {
	path, err := cachePath(dirID)
	if err != nil {
		return
	}
	_ = os.Remove(path)
}
