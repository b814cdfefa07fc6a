// Package config loads inboxpilot settings from an optional YAML file and
// environment variable overrides. Command-line flags are applied on top by
// the cmd package.
package config
