package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/devsync/internal/flagx"
)

// parseFlags populates Config from -a, -n, -k and -t. os.Args is filtered
// first so the -c flag does not reach the flag set.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-n", "-k", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "server base URL")
	fs.StringVar(&cfg.Label, "n", cfg.Label, "display label")
	fs.StringVar(&cfg.Color, "k", cfg.Color, "cursor color")
	dialTimeout := fs.Int("t", int(cfg.DialTimeout.Seconds()), "dial timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.DialTimeout = time.Duration(*dialTimeout) * time.Second
}
