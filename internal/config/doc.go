// Package config loads, normalizes, and validates podindex configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GEMINI_API_KEY and OPENROUTER_API_KEY. Paths left empty are derived from
// paths.data_dir so a bare config still yields a working layout.
package config
