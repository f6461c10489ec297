// Package config loads the curve and cache settings from the environment and
// an optional YAML file, and keeps a reloadable snapshot of the parameters
// that shape curve builds.
package config
