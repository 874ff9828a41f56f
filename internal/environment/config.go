// Package environment loads evalcore's configuration: a .env file, then
// a TOML file, then EVALCORE_* variables, each overriding the last.
package environment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/evalcore/internal/xdg"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	NATS     NATSConfig     `toml:"nats"`
	AWS      AWSConfig      `toml:"aws"`
	SQS      SQSConfig      `toml:"sqs"`
	Blobs    BlobConfig     `toml:"blobs"`
	Log      LogConfig      `toml:"log"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type NATSConfig struct {
	URL string `toml:"url"`
}

type AWSConfig struct {
	Region string `toml:"region"`
}

// SQSConfig names the queue jobs are sent to and the queue workers
// answer on. An empty JobsURL keeps jobs in memory.
type SQSConfig struct {
	JobsURL    string `toml:"jobs_url"`
	ResultsURL string `toml:"results_url"`
}

// BlobConfig selects the blob backend: S3 when Bucket is set, the local
// directory Dir otherwise.
type BlobConfig struct {
	Dir    string `toml:"dir"`
	Bucket string `toml:"bucket"`
	Prefix string `toml:"prefix"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default is the configuration of a single-machine install.
func Default(dirs *xdg.Dirs) Config {
	return Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(dirs.DataDir(), "evalcore.db"),
		},
		NATS:  NATSConfig{URL: "nats://127.0.0.1:4222"},
		AWS:   AWSConfig{Region: "eu-central-1"},
		Blobs: BlobConfig{Dir: filepath.Join(dirs.DataDir(), "blobs")},
		Log:   LogConfig{Level: "info"},
	}
}

// Load builds the configuration. An empty path falls back to the XDG
// config file, if any.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	dirs := xdg.New()
	cfg := Default(dirs)

	if path == "" {
		path = dirs.ConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	for name, dst := range map[string]*string{
		"EVALCORE_DB_DRIVER":       &c.Database.Driver,
		"EVALCORE_DB_DSN":          &c.Database.DSN,
		"EVALCORE_NATS_URL":        &c.NATS.URL,
		"EVALCORE_AWS_REGION":      &c.AWS.Region,
		"EVALCORE_SQS_JOBS_URL":    &c.SQS.JobsURL,
		"EVALCORE_SQS_RESULTS_URL": &c.SQS.ResultsURL,
		"EVALCORE_BLOB_DIR":        &c.Blobs.Dir,
		"EVALCORE_S3_BUCKET":       &c.Blobs.Bucket,
		"EVALCORE_S3_PREFIX":       &c.Blobs.Prefix,
		"EVALCORE_LOG_LEVEL":       &c.Log.Level,
	} {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is empty")
	}
	if c.SQS.JobsURL != "" && c.SQS.ResultsURL == "" {
		return errors.New("sqs.results_url is required with sqs.jobs_url")
	}
	if c.Blobs.Bucket == "" && c.Blobs.Dir == "" {
		return errors.New("either blobs.dir or blobs.bucket must be set")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
