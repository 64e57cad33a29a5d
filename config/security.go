package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Limits applied to configuration input.
const (
	maxConfigSize = 1 << 20 // 1MB
	maxDocDepth   = 32
	maxEnvVarLen  = 4096
	maxPathLen    = 4096
)

// checkConfigPath rejects paths that are empty, oversized, climb out of
// the working directory through "..", or carry an unknown extension.
func checkConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("empty config path")
	}
	if len(path) > maxPathLen {
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}
	if formatOf(path) == formatUnknown {
		return fmt.Errorf("config file must be .json, .yaml or .yml: %s", path)
	}
	if !filepath.IsAbs(path) && !filepath.IsLocal(path) {
		return fmt.Errorf("path escapes working directory: %s", path)
	}
	return nil
}

func safeReadFile(path string) ([]byte, error) {
	if err := checkConfigPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}
	return os.ReadFile(path)
}

// safeWriteFile writes owner-only, since the file may hold a NATS token.
func safeWriteFile(path string, data []byte) error {
	if err := checkConfigPath(path); err != nil {
		return err
	}
	if len(data) > maxConfigSize {
		return fmt.Errorf("config data too large: %d bytes > %d", len(data), maxConfigSize)
	}
	return os.WriteFile(path, data, 0o600)
}

func checkEnvValue(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("null byte in environment variable %s", key)
	}
	return nil
}

// checkDepth bounds the nesting of a decoded document. The recognized
// options nest three levels deep.
func checkDepth(v any, depth int) error {
	if depth > maxDocDepth {
		return fmt.Errorf("document nesting exceeds %d levels", maxDocDepth)
	}
	switch node := v.(type) {
	case map[string]any:
		for _, child := range node {
			if err := checkDepth(child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range node {
			if err := checkDepth(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
