// Package config loads hub configuration from YAML with ${VAR}
// environment expansion, default filling, and validation.
package config
