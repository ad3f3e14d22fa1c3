// Package config provides configuration management for gridstore.
//
// This package handles loading configuration from multiple sources:
//   - YAML configuration files
//   - Environment variables (with GS_ prefix)
//   - .env files
//   - Default values
//
// # Configuration Sources Priority
//
// Configuration is loaded in the following order (later sources override earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./configs/config.yaml, ~/.gridstore/config.yaml, /etc/gridstore/config.yaml)
//  3. .env files
//  4. Environment variables (GS_ prefix)
//
// # Usage Example
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
//
// # Environment Variables
//
// Environment variables override all other configuration sources.
// Use GS_ prefix and underscores for nested keys:
//   - GS_SERVER_PORT=8095
//   - GS_STORE_DRIVER=couchdb
//   - GS_STORE_COUCHDB_URL=http://localhost:5984
//   - GS_INDEX_PAGE_SIZE=500
//   - GS_S3_ENDPOINT=http://localhost:9000
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers understood by storage.Open.
const (
	DriverMemory   = "memory"
	DriverCouchDB  = "couchdb"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the root configuration structure for gridstore.
type Config struct {
	// Server contains HTTP server configuration
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Store selects and configures the backing store driver
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Index contains object index tuning
	Index IndexConfig `mapstructure:"index" yaml:"index"`

	// Logging contains logging settings
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Security contains security and rate limiting settings
	Security SecurityConfig `mapstructure:"security" yaml:"security"`

	// S3 configures access to dumps stored at s3:// locations
	S3 S3Config `mapstructure:"s3" yaml:"s3"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the server listen port (default: 8080)
	Port int `mapstructure:"port" yaml:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Debug enables debug logging and detailed error responses
	Debug bool `mapstructure:"debug" yaml:"debug"`

	// TLSEnabled enables HTTPS
	TLSEnabled bool `mapstructure:"tls_enabled" yaml:"tls_enabled"`

	// TLSCert is the path to the TLS certificate file
	TLSCert string `mapstructure:"tls_cert" yaml:"tls_cert"`

	// TLSKey is the path to the TLS private key file
	TLSKey string `mapstructure:"tls_key" yaml:"tls_key"`
}

// StoreConfig selects the backing store.
type StoreConfig struct {
	// Driver is one of memory, couchdb, sqlite, postgres
	Driver string `mapstructure:"driver" yaml:"driver"`

	// Timeout bounds each backing store call
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// WatchChanges invalidates cached records on out-of-band changes (couchdb only)
	WatchChanges bool `mapstructure:"watch_changes" yaml:"watch_changes"`

	CouchDB  CouchDBConfig  `mapstructure:"couchdb" yaml:"couchdb"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// CouchDBConfig contains CouchDB connection settings.
type CouchDBConfig struct {
	// URL is the CouchDB server URL (e.g., http://localhost:5984)
	URL string `mapstructure:"url" yaml:"url"`

	// Database is the database name to use
	Database string `mapstructure:"database" yaml:"database"`

	// Username for CouchDB authentication
	Username string `mapstructure:"username" yaml:"username"`

	// Password for CouchDB authentication
	Password string `mapstructure:"password" yaml:"password"`
}

// SQLiteConfig contains the SQLite database location.
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PostgresConfig contains the Postgres connection string.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// IndexConfig tunes the per-network object index.
type IndexConfig struct {
	// PageSize is the number of records requested per bulk fetch page
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// MaxNetworks bounds the number of network indexes kept in memory
	MaxNetworks int `mapstructure:"max_networks" yaml:"max_networks"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level" yaml:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format" yaml:"format"`

	// Output is the log output destination (stdout, stderr)
	Output string `mapstructure:"output" yaml:"output"`
}

// SecurityConfig contains security and rate limiting settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	// AuthEnabled enables JWT authentication (default: false)
	AuthEnabled bool `mapstructure:"auth_enabled" yaml:"auth_enabled"`

	// JWTSecret is the secret key for signing JWT tokens
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`

	// JWTExpiration is the JWT token expiration duration (default: 24h)
	JWTExpiration time.Duration `mapstructure:"jwt_expiration" yaml:"jwt_expiration"`
}

// S3Config contains S3 (or MinIO) settings for network dumps.
type S3Config struct {
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the AWS endpoint, e.g. http://localhost:9000 for MinIO
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	PathStyle bool `mapstructure:"path_style" yaml:"path_style"`

	// AccessKeyID and SecretAccessKey fall back to the default AWS credential chain when empty
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
}

var cfg *Config

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for config.yaml in standard locations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (GS_ prefix)
//  2. .env file
//  3. Configuration file
//  4. Default values
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.gridstore")
		v.AddConfigPath("/etc/gridstore")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			// An explicit path that does not exist falls back to defaults
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix("GS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.tls_enabled", false)

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.timeout", "30s")
	v.SetDefault("store.watch_changes", false)
	v.SetDefault("store.couchdb.url", "http://localhost:5984")
	v.SetDefault("store.couchdb.database", "gridstore")
	v.SetDefault("store.couchdb.username", "admin")
	v.SetDefault("store.couchdb.password", "password")
	v.SetDefault("store.sqlite.path", "./data/gridstore.db")
	v.SetDefault("store.postgres.dsn", "postgres://localhost/gridstore?sslmode=disable")

	v.SetDefault("index.page_size", 500)
	v.SetDefault("index.max_networks", 64)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.auth_enabled", false)
	v.SetDefault("security.jwt_secret", "change-me-in-production")
	v.SetDefault("security.jwt_expiration", "24h")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.path_style", false)
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	switch cfg.Store.Driver {
	case DriverMemory:
	case DriverCouchDB:
		if cfg.Store.CouchDB.URL == "" {
			return fmt.Errorf("store couchdb url is required")
		}
		if cfg.Store.CouchDB.Database == "" {
			return fmt.Errorf("store couchdb database is required")
		}
	case DriverSQLite:
		if cfg.Store.SQLite.Path == "" {
			return fmt.Errorf("store sqlite path is required")
		}
	case DriverPostgres:
		if cfg.Store.Postgres.DSN == "" {
			return fmt.Errorf("store postgres dsn is required")
		}
	default:
		return fmt.Errorf("unknown store driver: %q", cfg.Store.Driver)
	}

	if cfg.Store.WatchChanges && cfg.Store.Driver != DriverCouchDB {
		return fmt.Errorf("store watch_changes requires the couchdb driver")
	}

	if cfg.Index.PageSize < 1 {
		return fmt.Errorf("invalid index page size: %d", cfg.Index.PageSize)
	}
	if cfg.Index.MaxNetworks < 1 {
		return fmt.Errorf("invalid index max networks: %d", cfg.Index.MaxNetworks)
	}

	if cfg.Security.AuthEnabled && cfg.Security.JWTSecret == "" {
		return fmt.Errorf("security jwt secret is required when auth is enabled")
	}

	return nil
}

// Get returns the configuration loaded by the last successful Load.
func Get() *Config {
	return cfg
}

// redacted replaces secret values in printed configuration.
const redacted = "********"

// Redacted returns a copy of c with passwords and signing secrets masked,
// suitable for printing.
func (c *Config) Redacted() *Config {
	out := *c
	out.Security.AllowedOrigins = append([]string(nil), c.Security.AllowedOrigins...)
	if out.Store.CouchDB.Password != "" {
		out.Store.CouchDB.Password = redacted
	}
	if out.Security.JWTSecret != "" {
		out.Security.JWTSecret = redacted
	}
	if out.S3.SecretAccessKey != "" {
		out.S3.SecretAccessKey = redacted
	}
	if u, err := url.Parse(out.Store.Postgres.DSN); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
			out.Store.Postgres.DSN = u.String()
		}
	}
	return &out
}

// BuildURL returns the server URL with credentials embedded.
func (c *CouchDBConfig) BuildURL() string {
	if c.Username == "" || c.Password == "" {
		return c.URL
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return c.URL
	}
	u.User = url.UserPassword(c.Username, c.Password)
	return u.String()
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
