package config

import "os"

// ExpandEnv expands environment variables in YAML content using Go's standard
// library. Supports both ${VAR} and $VAR syntax (standard shell-style).
//
//   - ${MODEL_API_KEY} → value of MODEL_API_KEY
//   - $STORE_HOST → value of STORE_HOST
//
// Missing variables expand to empty string; Validate is expected to catch
// required fields left empty by a missing variable.
func ExpandEnv(data []byte) []byte {
	return []byte(os.Expand(string(data), os.Getenv))
}
