package config

import "os"

// ExpandEnv expands environment variables in a settings document using
// Go's standard library. Supports both ${VAR} and $VAR syntax.
// Missing variables expand to empty string; validation catches required
// fields left empty by a missing variable.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
