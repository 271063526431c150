// Package config loads the server configuration from YAML with environment
// variable overrides.
package config
