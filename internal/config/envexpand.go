package config

import "os"

// ExpandEnv replaces ${VAR} / $VAR references in a YAML file's raw bytes
// with the corresponding environment variable value before parsing, so
// secrets such as database passwords never need to be checked in.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
