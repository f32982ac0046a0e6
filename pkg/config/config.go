// Package config provides YAML-based configuration loading with environment variable expansion.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Load loads configuration from a YAML file with environment variable
// expansion. Keys that do not map onto target are rejected so a misspelled
// option fails loudly instead of silently keeping its default.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := Decode(data, target); err != nil {
		return fmt.Errorf("config file %s: %w", filename, err)
	}
	return nil
}

// Decode expands environment variables in data, decodes it strictly into
// target and validates the result. An empty document leaves target unchanged.
func Decode[T any](data []byte, target *T) error {
	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	return nil
}

// LoadFirst loads the first of filenames that exists.
func LoadFirst[T any](target *T, filenames ...string) (string, error) {
	for _, name := range filenames {
		if name == "" {
			continue
		}
		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			continue
		}
		return name, Load(name, target)
	}
	return "", fmt.Errorf("config file not found: tried %v", filenames)
}
