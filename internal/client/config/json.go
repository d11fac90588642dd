package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/devsync/internal/flagx"
	"github.com/dmitrijs2005/devsync/internal/timex"
)

// JsonConfig is the file shape; absent keys keep their defaults.
type JsonConfig struct {
	ServerURL   string         `json:"server_url"`
	Label       string         `json:"label"`
	Color       string         `json:"color"`
	DialTimeout timex.Duration `json:"dial_timeout"`
}

// parseJson overlays cfg with the file named by -c or -config. It panics on
// read or decode errors.
func parseJson(cfg *Config) {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerURL != "" {
		cfg.ServerURL = jc.ServerURL
	}
	if jc.Label != "" {
		cfg.Label = jc.Label
	}
	if jc.Color != "" {
		cfg.Color = jc.Color
	}
	if jc.DialTimeout.Duration > 0 {
		cfg.DialTimeout = jc.DialTimeout.Duration
	}
}
