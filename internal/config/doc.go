// Package config loads configuration for the coven-chat binaries.
//
// The gateway (coven-chatd) reads YAML:
//
//	server:
//	  http_addr: "127.0.0.1:8420"
//	database:
//	  path: "~/.local/share/coven/chat.db"
//	auth:
//	  jwt_secret: "${COVEN_JWT_SECRET}"
//	  token_ttl: "168h"
//	live:
//	  push_mode: "snapshot"   # or "delta"
//	dedupe:
//	  ttl: "5m"
//	  max_entries: 100000
//	logging:
//	  level: "info"
//	  format: "text"          # or "json"
//
// The terminal client (coven-chat) reads TOML:
//
//	[gateway]
//	url = "http://127.0.0.1:8420"
//	[sync]
//	mode = "merge"            # or "replace"
//	[credentials]
//	path = ""                 # defaults to $XDG_CONFIG_HOME/coven/credentials.json
//	[logging]
//	level = "warn"
//
// Both formats expand ${VAR} references from the environment before parsing.
// Durations are written as Go duration strings and parsed after decoding.
package config
