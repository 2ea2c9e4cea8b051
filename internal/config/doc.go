// Package config provides centralized configuration management for the
// council runtime. It loads the daemon's JSON configuration, applies
// defaults for scheduler, multisig and feed parameters, and resolves
// relative paths against the configuration file's directory.
package config
