// Package config loads runtime configuration for the devsync peer CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   server base URL (http, https, ws or wss)
//	-n string   display label shown to other peers
//	-k string   cursor color
//	-t int      dial timeout (seconds)
//
// The JSON loader uses timex.Duration, so the timeout may be "5s" or
// integer nanoseconds:
//
//	{
//	  "server_url": "ws://127.0.0.1:8080",
//	  "label": "ana",
//	  "color": "#e06c75",
//	  "dial_timeout": "5s"
//	}
package config
