// Package config loads RunnerX client configuration.
//
// Sources, lowest precedence first:
//
//  1. built-in defaults (Default)
//  2. a YAML file, when a path is given
//  3. a .env file in the working directory
//  4. RUNNERX_* environment variables: API_URL, WS_URL, TOKEN, LOG_LEVEL,
//     LOG_JSON, METRICS_ADDR, SNAPSHOT_PATH
//
// Durations in YAML use Go duration strings ("30s", "2m").
//
//	api_url: https://runnerx.example.com/api
//	ws_url: wss://runnerx.example.com/ws
//	snapshot_path: ~/.runnerx/snapshot.db
//	channel:
//	  max_attempts: 5
//	polling:
//	  monitors:
//	    connected: 30s
//	    disconnected: 10s
package config
