// Package config handles configuration loading for garage-assistant.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Files ending in .toml are decoded as TOML; anything else is YAML.
// Defaults are applied before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the -config flag
//  2. Path from GARAGE_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/garage/assistant.yaml (or ~/.config/garage/assistant.yaml)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	matrix:
//	  access_token: "${GARAGE_MATRIX_TOKEN}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	booking:
//	  slot_interval: "30m"
//	  error_delay: "1500ms"
//	  session_ttl: "2h"
//
// # Configuration Sections
//
//	backend:
//	  base_url: "https://api.garage.example.com"
//	  timeout: "15s"
//	database:
//	  path: "/var/lib/garage-assistant/identities.db"
//	matrix:
//	  homeserver: "https://matrix.org"
//	  user_id: "@garage:matrix.org"
//	  access_token: "${GARAGE_MATRIX_TOKEN}"
//	booking:
//	  days_ahead: 14
//	  closed_weekday: "sunday"
//	  open_hour: 9
//	  close_hour: 18
//	sessions:
//	  backend: "redis"
//	  redis_url: "redis://localhost:6379/0"
//	logging:
//	  level: "info"
//	  format: "json"
//	metrics:
//	  enabled: true
//	  addr: "127.0.0.1:9464"
package config
