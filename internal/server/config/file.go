package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/devsync/internal/flagx"
	"github.com/dmitrijs2005/devsync/internal/timex"
	"gopkg.in/yaml.v2"
)

// FileConfig is the on-disk shape of the configuration. Durations accept
// "15s" style strings or integer nanoseconds. Absent keys leave the
// current value untouched.
type FileConfig struct {
	EndpointAddrHTTP string         `json:"endpoint_addr_http" yaml:"endpoint_addr_http"`
	DatabaseDSN      string         `json:"database_dsn" yaml:"database_dsn"`
	LogLevel         string         `json:"log_level" yaml:"log_level"`
	BlobBackend      string         `json:"blob_backend" yaml:"blob_backend"`
	S3RootUser       string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword   string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket         string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region         string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint   string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	S3PublicURL      string         `json:"s3_public_url" yaml:"s3_public_url"`
	PresignTTL       timex.Duration `json:"presign_ttl" yaml:"presign_ttl"`
	SeedTimeout      timex.Duration `json:"seed_timeout" yaml:"seed_timeout"`
	FlushOnLastLeave *bool          `json:"flush_on_last_leave" yaml:"flush_on_last_leave"`
	MaxUploadBytes   int64          `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	WSWriteTimeout   timex.Duration `json:"ws_write_timeout" yaml:"ws_write_timeout"`
	WSPingPeriod     timex.Duration `json:"ws_ping_period" yaml:"ws_ping_period"`
}

// parseFile overlays the file named by -c/-config, if any. The format is
// chosen by extension: .yaml and .yml are YAML, anything else is JSON.
func parseFile(config *Config) {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	fc, err := decodeFile(path, data)
	if err != nil {
		panic(err)
	}
	fc.apply(config)
}

func decodeFile(path string, data []byte) (*FileConfig, error) {
	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.UnmarshalStrict(data, fc); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, fc); err != nil {
			return nil, err
		}
	}
	return fc, nil
}

func (fc *FileConfig) apply(config *Config) {
	setString(&config.EndpointAddrHTTP, fc.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, fc.DatabaseDSN)
	setString(&config.LogLevel, fc.LogLevel)
	setString(&config.BlobBackend, fc.BlobBackend)
	setString(&config.S3RootUser, fc.S3RootUser)
	setString(&config.S3RootPassword, fc.S3RootPassword)
	setString(&config.S3Bucket, fc.S3Bucket)
	setString(&config.S3Region, fc.S3Region)
	setString(&config.S3BaseEndpoint, fc.S3BaseEndpoint)
	setString(&config.S3PublicURL, fc.S3PublicURL)

	if fc.PresignTTL.Duration > 0 {
		config.PresignTTL = fc.PresignTTL.Duration
	}
	if fc.SeedTimeout.Duration > 0 {
		config.SeedTimeout = fc.SeedTimeout.Duration
	}
	if fc.FlushOnLastLeave != nil {
		config.FlushOnLastLeave = *fc.FlushOnLastLeave
	}
	if fc.MaxUploadBytes > 0 {
		config.MaxUploadBytes = fc.MaxUploadBytes
	}
	if fc.WSWriteTimeout.Duration > 0 {
		config.WSWriteTimeout = fc.WSWriteTimeout.Duration
	}
	if fc.WSPingPeriod.Duration > 0 {
		config.WSPingPeriod = fc.WSPingPeriod.Duration
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
