package configutil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

func readJson5[T any](path string, out *T) (bool, error) {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(contents) == 0 {
		return false, nil
	}
	if err := json5.Unmarshal(contents, out); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

func localPath(name string) string {
	prefixname, ext := splitExt(filepath.Base(name))
	return filepath.Join(
		filepath.Dir(name),
		fmt.Sprintf("%s.local.%s", prefixname, ext),
	)
}

// readLayers decodes <name> and then <name>.local into the same value, so a
// key present in a later file wins even when its value is zero or empty and
// absent keys keep what out already held.
func readLayers[T any](name string, out *T) (bool, error) {
	foundDefault, err := readJson5(name, out)
	if err != nil {
		return false, err
	}

	local := localPath(name)
	foundLocal, err := readJson5(local, out)
	if err != nil {
		return false, err
	}
	if foundLocal {
		slog.Info("merging config with local overrides", "local", local)
	}
	return foundDefault || foundLocal, nil
}

// ReadConfig reads a configuration file, `name` should come with a file extension,
// it will automatically be lopped off to produce the other extensions.
// this function will merge the following files, where higher number is more prioritized.
// 1. <name>.<ext>
// 2. <name>.local.<ext>
func ReadConfig[T any](name string) (T, error) {
	var out T
	found, err := readLayers(name, &out)
	if err != nil {
		return out, err
	}
	if !found {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadConfigWithDefaults is ReadConfig decoded on top of defaults, only keys
// written in a file replace a default. A missing file yields the defaults.
func ReadConfigWithDefaults[T any](name string, defaults T) (T, error) {
	out, err := clone(defaults)
	if err != nil {
		return out, err
	}
	_, err = readLayers(name, &out)
	if err != nil {
		return out, err
	}
	return out, nil
}

// clone deep copies through json, decoding into a shared slice would
// otherwise overwrite the caller's defaults.
func clone[T any](value T) (T, error) {
	var out T
	encoded, err := json.Marshal(value)
	if err != nil {
		return out, fmt.Errorf("copy defaults: %w", err)
	}
	err = json5.Unmarshal(encoded, &out)
	if err != nil {
		return out, fmt.Errorf("copy defaults: %w", err)
	}
	return out, nil
}
