// Package config handles configuration loading for the gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	provider:
//	  api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	satellites:
//	  call_timeout: "90s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API, satellite and metrics endpoints
//
// Database:
//
//	database:
//	  path: "/var/lib/logicle/gateway.db"
//
// Upstream provider:
//
//	provider:
//	  base_url: "https://api.openai.com/v1"
//	  api_key: "${OPENAI_API_KEY}"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${LOGICLE_JWT_SECRET}"
//	  profile_url: "https://accounts.example.com"  # satellite credential check
//
// Model catalog:
//
//	models:
//	  catalog_path: "./models.toml"
//
// Satellite timing:
//
//	satellites:
//	  call_timeout: "2m"   # per tool call; default 2m
//
// Attachment storage:
//
//	files:
//	  dir: "./uploads"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/logicle/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
