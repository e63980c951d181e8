// Package config loads, normalizes, and validates warthog configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads optional .env files, and honours
// environment fallbacks such as WARTHOG_STORE_DSN. The Config type centralizes
// every knob the CLI and ingest pipeline need so directories, catalog feed
// settings, and store credentials are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical enum values, and clear validation errors.
package config
