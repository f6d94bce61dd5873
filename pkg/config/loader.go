package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the settings file at path, expands environment variables,
// merges it onto the built-in defaults, and validates the result.
// A missing path is not an error: the built-in defaults are returned
// as-is, validated, so the engine can run with zero configuration.
func Load(path string) (*Settings, error) {
	builtin := BuiltinDefaults()

	if path == "" {
		if err := validate(builtin); err != nil {
			return nil, err
		}
		return builtin, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if verr := validate(builtin); verr != nil {
				return nil, verr
			}
			return builtin, nil
		}
		return nil, &LoadError{Path: path, Err: err}
	}

	raw = ExpandEnv(raw)

	var user Settings
	if err := yaml.Unmarshal(raw, &user); err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("parse yaml: %w", err)}
	}

	merged, err := mergeSettings(builtin, &user)
	if err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("merge: %w", err)}
	}

	if err := validate(merged); err != nil {
		return nil, err
	}

	return merged, nil
}
