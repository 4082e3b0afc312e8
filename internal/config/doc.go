// Package config loads daemon options and application descriptors.
//
// Daemon options follow the precedence CLI flags > environment
// variables (HOSTBRIDGE_*) > TOML config file. Application descriptors
// (the per-application worker settings consumed by the pool manager)
// are loaded from their own TOML file and can be hot-reloaded through
// the file watcher.
package config
