// Package config handles configuration loading for mcp-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MCP_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/mcp/gateway.yaml
//  3. ~/.config/mcp/gateway.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${MCP_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  host: "0.0.0.0"
//	  port: 8000          # HTTP API
//	  grpc_port: 8001     # session stream
//
//	database:
//	  path: "/var/lib/mcp/gateway.db"   # empty keeps credentials in memory
//
//	auth:
//	  jwt_secret: "${MCP_JWT_SECRET}"
//	  token_ttl: "1h"
//	  max_auth_attempts: 3
//	  pbkdf2_iterations: 100000
//	  revocation: false
//
//	rate_limit:
//	  strategy: "fixed_window"   # fixed_window, token_bucket
//	  max_requests: 100
//	  window: "60s"
//
//	conversations:
//	  idle_timeout: "30m"    # "0" disables eviction
//	  sweep_interval: "1m"
//	  max_messages: 0
//
//	shutdown:
//	  drain_timeout: "10s"
//
//	handler:
//	  kind: "assistant"      # echo, assistant, webhook
//	  name: "Engineering Assistant"
//	  capabilities: ["Code generation", "Code review"]
//	  webhook_url: ""
//	  timeout: "30s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Durations use time.ParseDuration syntax.
package config
