// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the application configuration structure
// including server settings, the backend catalog, routing and circuit breaker
// tuning, consensus budgets and the snapshot location.
package config
