package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/devsync/internal/flagx"
)

var knownFlags = []string{
	"-a", "-d", "-l", "-u", "-p", "-b", "-g", "-e", "-t",
	"-blob", "-public-url", "-seed-timeout", "-flush", "-max-upload",
	"-ws-write-timeout", "-ws-ping",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string        HTTP bind address (e.g., ":8080")
//	-d string        PostgreSQL DSN, or "memory" for an in-process registry
//	-l string        log level (debug, info, warn, error)
//	-u string        S3 root user
//	-p string        S3 root password
//	-b string        S3 bucket name
//	-g string        S3 region
//	-e string        S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-t int           presigned URL validity, minutes
//	-blob string     blob backend: s3 or memory
//	-public-url      public base URL for blobs
//	-seed-timeout    how long a join waits for the stored content
//	-flush           flush when the last peer leaves (use -flush=false)
//	-max-upload      upload size limit in bytes
//	-ws-write-timeout, -ws-ping  websocket keepalive
//
// os.Args is filtered through flagx.FilterArgs first so that subcommand
// names and the -c flag do not reach the flag set.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	presignTTL := fs.Int("t", int(config.PresignTTL.Minutes()), "presigned URL validity (in minutes)")

	fs.StringVar(&config.BlobBackend, "blob", config.BlobBackend, "blob backend (s3 or memory)")
	fs.StringVar(&config.S3PublicURL, "public-url", config.S3PublicURL, "public base URL for blobs")
	fs.DurationVar(&config.SeedTimeout, "seed-timeout", config.SeedTimeout, "join wait for stored content")
	fs.BoolVar(&config.FlushOnLastLeave, "flush", config.FlushOnLastLeave, "flush on last leave")
	fs.Int64Var(&config.MaxUploadBytes, "max-upload", config.MaxUploadBytes, "upload size limit in bytes")
	fs.DurationVar(&config.WSWriteTimeout, "ws-write-timeout", config.WSWriteTimeout, "websocket write timeout")
	fs.DurationVar(&config.WSPingPeriod, "ws-ping", config.WSPingPeriod, "websocket ping period")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// whole minutes only when given; a sub-minute TTL from the file or env survives
	if *presignTTL != int(config.PresignTTL.Minutes()) {
		config.PresignTTL = time.Duration(*presignTTL) * time.Minute
	}
}
