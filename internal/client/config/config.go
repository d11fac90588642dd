package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/devsync/internal/protocol"
)

type Config struct {
	ServerURL   string
	Label       string
	Color       string
	DialTimeout time.Duration
}

func (c *Config) LoadDefaults() {
	c.ServerURL = "ws://127.0.0.1:8080"
	c.Label = "cli"
	c.Color = "#61afef"
	c.DialTimeout = 5 * time.Second
}

// LoadConfig applies defaults, then the JSON file, then flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// RoomURL returns the websocket URL of the room for fileID. http and
// https server URLs are mapped to ws and wss.
func (c *Config) RoomURL(fileID string) (string, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/rooms/" + protocol.RoomID(fileID)
	return u.String(), nil
}
