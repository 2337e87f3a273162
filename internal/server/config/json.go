package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/selfvault/syncengine/internal/flagx"
	"github.com/selfvault/syncengine/internal/timex"
)

// JsonConfig is the DTO used only for reading JSON configuration files.
// Interval fields accept both "30s"-style strings and integer nanoseconds
// via timex.Duration; after unmarshalling the values are copied into the
// runtime Config.
type JsonConfig struct {
	EndpointAddr string `json:"endpoint_addr"`
	DatabaseDSN  string `json:"database_dsn"`
	SecretKey    string `json:"secret_key"`

	BlobBackend string `json:"blob_backend"`
	BlobRoot    string `json:"blob_root"`
	StagingRoot string `json:"staging_root"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	DebounceWindow  timex.Duration `json:"debounce_window"`
	DebounceCeiling timex.Duration `json:"debounce_ceiling"`

	MaxTransferSize int64          `json:"max_transfer_size"`
	TransferExpiry  timex.Duration `json:"transfer_expiry"`
	GCInterval      timex.Duration `json:"gc_interval"`

	DefaultMaxBytes           int64 `json:"default_max_bytes"`
	DefaultMaxVersionsPerFile int64 `json:"default_max_versions_per_file"`
	DefaultMinRetainedDepth   int64 `json:"default_min_retained_depth"`
	DefaultHeadroomBytes      int64 `json:"default_headroom_bytes"`
}

// parseJson loads configuration values from the JSON file named by the
// -c/-config flags into the provided Config. Missing flag means no JSON
// overlay. An unreadable or invalid file panics: a half-applied config is
// worse than a crash at startup.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddr != "" {
		config.EndpointAddr = c.EndpointAddr
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.BlobBackend != "" {
		config.BlobBackend = c.BlobBackend
	}
	if c.BlobRoot != "" {
		config.BlobRoot = c.BlobRoot
	}
	if c.StagingRoot != "" {
		config.StagingRoot = c.StagingRoot
	}
	if c.S3RootUser != "" {
		config.S3RootUser = c.S3RootUser
	}
	if c.S3RootPassword != "" {
		config.S3RootPassword = c.S3RootPassword
	}
	if c.S3Bucket != "" {
		config.S3Bucket = c.S3Bucket
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
	if c.DebounceWindow.Duration != 0 {
		config.DebounceWindow = time.Duration(c.DebounceWindow.Duration)
	}
	if c.DebounceCeiling.Duration != 0 {
		config.DebounceCeiling = time.Duration(c.DebounceCeiling.Duration)
	}
	if c.MaxTransferSize != 0 {
		config.MaxTransferSize = c.MaxTransferSize
	}
	if c.TransferExpiry.Duration != 0 {
		config.TransferExpiry = time.Duration(c.TransferExpiry.Duration)
	}
	if c.GCInterval.Duration != 0 {
		config.GCInterval = time.Duration(c.GCInterval.Duration)
	}
	if c.DefaultMaxBytes != 0 {
		config.DefaultMaxBytes = c.DefaultMaxBytes
	}
	if c.DefaultMaxVersionsPerFile != 0 {
		config.DefaultMaxVersionsPerFile = c.DefaultMaxVersionsPerFile
	}
	if c.DefaultMinRetainedDepth != 0 {
		config.DefaultMinRetainedDepth = c.DefaultMinRetainedDepth
	}
	if c.DefaultHeadroomBytes != 0 {
		config.DefaultHeadroomBytes = c.DefaultHeadroomBytes
	}
}
