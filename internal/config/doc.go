// Package config loads the herald TOML configuration with environment
// variable expansion, default values, and validation.
package config
