package config

import (
	"flag"
	"os"
	"time"

	"github.com/selfvault/syncengine/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   HTTP bind address (e.g., ":8484")
//	-d string   PostgreSQL DSN
//	-s string   change-token HMAC secret key
//	-blob string     blob backend ("fs", "s3", "memory")
//	-blob-root string staging root for the fs backend
//	-staging string  chunk staging directory
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint
//	-w int      debounce window, seconds
//	-m int      debounce ceiling, seconds
//
// Args are filtered through flagx.FilterArgs first so this component only
// sees the flags it owns.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-s", "-blob", "-blob-root", "-staging",
		"-u", "-p", "-b", "-g", "-e", "-w", "-m",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	fs.StringVar(&config.BlobBackend, "blob", config.BlobBackend, "blob backend: fs, s3 or memory")
	fs.StringVar(&config.BlobRoot, "blob-root", config.BlobRoot, "blob storage root (fs backend)")
	fs.StringVar(&config.StagingRoot, "staging", config.StagingRoot, "chunk staging directory")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	debounceWindow := fs.Int("w", int(config.DebounceWindow.Seconds()), "debounce window (in seconds)")
	debounceCeiling := fs.Int("m", int(config.DebounceCeiling.Seconds()), "debounce ceiling (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.DebounceWindow = time.Duration(*debounceWindow) * time.Second
	config.DebounceCeiling = time.Duration(*debounceCeiling) * time.Second
}
