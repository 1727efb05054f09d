package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const envPrefix = "STUDENT_ASSISTANT_"

// Storage backends.
const (
	StorageFile     = "file"
	StorageDynamoDB = "dynamodb"
	StorageMemory   = "memory"
)

// fileConfig mirrors the TOML file. Empty fields keep the previous layer.
type fileConfig struct {
	APIBaseURL        string `toml:"api_base_url"`
	Storage           string `toml:"storage"`
	DataDir           string `toml:"data_dir"`
	DynamoDBTable     string `toml:"dynamodb_table"`
	DynamoDBPartition string `toml:"dynamodb_partition"`
	DynamoDBEndpoint  string `toml:"dynamodb_endpoint"`
	ParamPrefix       string `toml:"param_prefix"`
	Greeting          string `toml:"greeting"`
	RequestTimeout    string `toml:"request_timeout"`
	MetricsNamespace  string `toml:"metrics_namespace"`
}

type Config struct {
	APIBaseURL        string
	Storage           string
	DataDir           string
	DynamoDBTable     string
	DynamoDBPartition string
	DynamoDBEndpoint  string
	ParamPrefix       string
	Greeting          string
	RequestTimeout    time.Duration
	MetricsNamespace  string
}

func Default() *Config {
	return &Config{
		APIBaseURL:        "http://localhost:8000/api",
		Storage:           StorageFile,
		DataDir:           defaultDataDir(),
		DynamoDBPartition: "default",
		RequestTimeout:    30 * time.Second,
		MetricsNamespace:  "student_assistant",
	}
}

// DefaultPath is the config file read when Load gets an empty path.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "student-assistant", "config.toml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".student-assistant"
	}
	return filepath.Join(home, ".local", "share", "student-assistant")
}

// Load layers defaults, the TOML file at path and STUDENT_ASSISTANT_*
// environment variables. An empty path reads DefaultPath if it exists; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	set(&c.APIBaseURL, fc.APIBaseURL)
	set(&c.Storage, fc.Storage)
	set(&c.DataDir, ExpandPath(fc.DataDir))
	set(&c.DynamoDBTable, fc.DynamoDBTable)
	set(&c.DynamoDBPartition, fc.DynamoDBPartition)
	set(&c.DynamoDBEndpoint, fc.DynamoDBEndpoint)
	set(&c.ParamPrefix, fc.ParamPrefix)
	set(&c.Greeting, fc.Greeting)
	set(&c.MetricsNamespace, fc.MetricsNamespace)
	if fc.RequestTimeout != "" {
		d, err := time.ParseDuration(fc.RequestTimeout)
		if err != nil {
			return fmt.Errorf("config: request_timeout: %w", err)
		}
		c.RequestTimeout = d
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	set(&c.APIBaseURL, os.Getenv(envPrefix+"API_BASE_URL"))
	set(&c.Storage, os.Getenv(envPrefix+"STORAGE"))
	set(&c.DataDir, ExpandPath(os.Getenv(envPrefix+"DATA_DIR")))
	set(&c.DynamoDBTable, os.Getenv(envPrefix+"DYNAMODB_TABLE"))
	set(&c.DynamoDBPartition, os.Getenv(envPrefix+"DYNAMODB_PARTITION"))
	set(&c.DynamoDBEndpoint, os.Getenv(envPrefix+"DYNAMODB_ENDPOINT"))
	set(&c.ParamPrefix, os.Getenv(envPrefix+"PARAM_PREFIX"))
	set(&c.Greeting, os.Getenv(envPrefix+"GREETING"))
	set(&c.MetricsNamespace, os.Getenv(envPrefix+"METRICS_NAMESPACE"))
	if v := os.Getenv(envPrefix + "REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %sREQUEST_TIMEOUT: %w", envPrefix, err)
		}
		c.RequestTimeout = d
	}
	return nil
}

// ParameterSource reads named parameters under a prefix. Missing
// parameters are left out of the result.
type ParameterSource interface {
	Lookup(ctx context.Context, prefix string, keys ...string) (map[string]string, error)
}

// ApplyParameters overlays api_base_url and greeting from src when a
// parameter prefix is configured.
func (c *Config) ApplyParameters(ctx context.Context, src ParameterSource) error {
	if c.ParamPrefix == "" || src == nil {
		return nil
	}
	found, err := src.Lookup(ctx, c.ParamPrefix, "api_base_url", "greeting")
	if err != nil {
		return fmt.Errorf("config: parameters: %w", err)
	}
	set(&c.APIBaseURL, found["api_base_url"])
	set(&c.Greeting, found["greeting"])
	return c.Validate()
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.Storage == StorageDynamoDB || c.ParamPrefix != ""
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return errors.New("config: api_base_url is required")
	}
	switch c.Storage {
	case StorageFile:
		if c.DataDir == "" {
			return errors.New("config: data_dir is required for file storage")
		}
	case StorageDynamoDB:
		if c.DynamoDBTable == "" {
			return errors.New("config: dynamodb_table is required for dynamodb storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("config: unknown storage %q", c.Storage)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("config: request_timeout must be positive")
	}
	return nil
}

// ExpandPath resolves a leading ~/ against the home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func set(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
