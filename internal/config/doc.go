// Package config loads, normalizes, and validates imageserver configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob the
// daemon and CLI need: storage disk definitions, download limits, dispatch
// mode, expiry policy, and variant definitions.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
