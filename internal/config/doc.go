// Package config provides configuration loading and validation for the Flux
// load generator. It handles YAML-based configuration with struct validation
// and flag-friendly defaults for every tunable of the harness.
package config
