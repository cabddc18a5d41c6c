// Package config loads the immutable runtime configuration of the custody
// daemon: a JSON file, secret overrides from the environment and a YAML asset
// catalogue.
package config
