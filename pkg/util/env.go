package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// LocalBinEnvPath returns $HOME/.local/bin/.env, or "" when the home directory cannot
// be resolved.
func LocalBinEnvPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".local", "bin", ".env")
}

// LoadEnvFiles populates missing environment variables from $HOME/.local/bin/.env and
// then from each of extra, in order. Variables already set are never overwritten.
// A missing home file is skipped, a missing extra file is an error. It returns the
// files that were loaded.
//
// The working directory's .env is not consulted.
func LoadEnvFiles(extra ...string) ([]string, error) {
	var loaded []string
	candidates := append([]string{LocalBinEnvPath()}, extra...)
	for i, p := range candidates {
		if strings.TrimSpace(p) == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			if i > 0 {
				return loaded, fmt.Errorf("env file %s: not a readable file", p)
			}
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return loaded, fmt.Errorf("load env file %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}
