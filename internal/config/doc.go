// Package config handles configuration loading for tasktrack.
//
// # Overview
//
// Configuration is loaded from a YAML file, or a TOML file when the path
// ends in .toml, with environment variable expansion. Missing values get
// defaults and the result is validated before use.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TASKTRACK_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. $XDG_CONFIG_HOME/tasktrack/config.yaml (~/.config when unset)
//
// TASKTRACK_DB_PATH, when set, overrides database.path.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  session_secret: "${TASKTRACK_SESSION_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  bridge_base_url: ""          # API address used by server-rendered pages
//	  shutdown_timeout: "10s"
//
//	database:
//	  path: "./tasktrack.db"
//
//	auth:
//	  session_secret: "${TASKTRACK_SESSION_SECRET}"  # at least 32 bytes
//	  session_ttl: "30m"       # sliding window for browser-session cookies
//	  persistent_ttl: "336h"   # sliding window for "remember me" cookies
//	  max_lifetime: "720h"     # absolute cap from login
//	  cookie_name: "tasktrack_session"
//	  admin_role: "Admin"
//	  users:
//	    - username: "admin"
//	      password_hash: "$2a$10$..."
//	      roles: ["Admin"]
//
//	tailscale:
//	  enabled: false
//	  hostname: "tasktrack"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// With no users configured the demo accounts admin/admin123 (Admin) and
// alice/alice123 (User) are used.
package config
