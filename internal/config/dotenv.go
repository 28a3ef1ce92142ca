package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// LoadDotEnv loads KEY=VALUE files in order and returns the ones found.
// The process environment and earlier files win over later files.
// Unquoted and double-quoted values expand ${VAR} references.
func LoadDotEnv(paths ...string) ([]string, error) {
	loaded := make([]string, 0, len(paths))
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if err := loadDotEnvFile(trimmed); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return loaded, err
		}
		loaded = append(loaded, trimmed)
	}
	return loaded, nil
}

func loadDotEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

		key, raw, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			return fmt.Errorf("%s:%d: expected KEY=VALUE", path, lineNumber)
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}

		value, expand := parseDotEnvValue(raw)
		if expand {
			value = os.Expand(value, os.Getenv)
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("%s:%d: set %s: %w", path, lineNumber, key, err)
		}
	}
	return scanner.Err()
}

// parseDotEnvValue strips quotes and inline comments. Single-quoted values
// are literal and are the only ones not expanded.
func parseDotEnvValue(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}

	switch quote := trimmed[0]; {
	case quote == '\'' && len(trimmed) >= 2 && strings.HasSuffix(trimmed, "'"):
		return trimmed[1 : len(trimmed)-1], false
	case quote == '"' && len(trimmed) >= 2 && strings.HasSuffix(trimmed, `"`):
		replacer := strings.NewReplacer(
			`\\`, `\`,
			`\n`, "\n",
			`\t`, "\t",
			`\"`, `"`,
		)
		return replacer.Replace(trimmed[1 : len(trimmed)-1]), true
	}

	if index := strings.Index(trimmed, " #"); index >= 0 {
		trimmed = strings.TrimSpace(trimmed[:index])
	}
	return trimmed, true
}
