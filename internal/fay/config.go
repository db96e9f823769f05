package fay

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Config struct
type Config struct {
	Values map[string]string
}

// Load /etc/fay.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge FAY_* env overrides
	mergeEnvOverrides(cfg)

	// Ensure TMPDIR has a default
	if tmp := cfg.Values["TMPDIR"]; tmp == "" {
		cfg.Values["TMPDIR"] = "/tmp"
	}

	return cfg, nil
}

// Merge FAY_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "FAY_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func initConfig(cfg *Config) {
	rootDir = cfg.Values["FAY_ROOT"]
	if rootDir == "" {
		rootDir = "/"
	}
	rootDir = filepath.Clean(rootDir)

	cacheDir = cfg.Values["FAY_CACHE"]
	if cacheDir == "" {
		cacheDir = filepath.Join(rootDir, "var", "cache", "fay", "bin")
	}
	sourcesDir = cfg.Values["FAY_SOURCES"]
	if sourcesDir == "" {
		sourcesDir = filepath.Join(rootDir, "var", "cache", "fay", "sources")
	}
	stateFile = filepath.Join(rootDir, "var", "lib", "fay", "state")
	tmpDir = filepath.Join(cfg.Values["TMPDIR"], "fay")

	crossTarget = cfg.Values["FAY_TARGET"]
	if crossTarget == "" {
		crossTarget = "x86_64-fay-linux-gnu"
	}
	crossBin = cfg.Values["FAY_CROSS_BIN"]
	if crossBin == "" {
		crossBin = filepath.Join(rootDir, "tools", "bin")
	}
	sysrootDir = cfg.Values["FAY_SYSROOT"]
	if sysrootDir == "" {
		sysrootDir = rootDir
	}

	if cfg.Values["FAY_DEBUG"] == "1" {
		Debug = true
	}
}
