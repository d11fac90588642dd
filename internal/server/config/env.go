package config

import "github.com/spf13/viper"

// EnvPrefix namespaces the environment variables read by parseEnv,
// e.g. DEVSYNC_DATABASE_DSN.
const EnvPrefix = "DEVSYNC"

// parseEnv overlays values from DEVSYNC_* environment variables. Only
// variables that are set take effect.
func parseEnv(config *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	strs := map[string]*string{
		"http_addr":        &config.EndpointAddrHTTP,
		"database_dsn":     &config.DatabaseDSN,
		"log_level":        &config.LogLevel,
		"blob_backend":     &config.BlobBackend,
		"s3_root_user":     &config.S3RootUser,
		"s3_root_password": &config.S3RootPassword,
		"s3_bucket":        &config.S3Bucket,
		"s3_region":        &config.S3Region,
		"s3_base_endpoint": &config.S3BaseEndpoint,
		"s3_public_url":    &config.S3PublicURL,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	if v.IsSet("presign_ttl") {
		config.PresignTTL = v.GetDuration("presign_ttl")
	}
	if v.IsSet("seed_timeout") {
		config.SeedTimeout = v.GetDuration("seed_timeout")
	}
	if v.IsSet("flush_on_last_leave") {
		config.FlushOnLastLeave = v.GetBool("flush_on_last_leave")
	}
	if v.IsSet("max_upload_bytes") {
		config.MaxUploadBytes = v.GetInt64("max_upload_bytes")
	}
	if v.IsSet("ws_write_timeout") {
		config.WSWriteTimeout = v.GetDuration("ws_write_timeout")
	}
	if v.IsSet("ws_ping_period") {
		config.WSPingPeriod = v.GetDuration("ws_ping_period")
	}
}
