package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the server
// and its command line tools.
type Config struct {
	// Hostname or IP address on which the server will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Port on which the server will listen for connections.
	Port int `mapstructure:"port"`
	// Maximum number of concurrent connections the server will allow. 0 is unlimited.
	MaxConnections int `mapstructure:"max_connections"`
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`
	// How long fetched modules are kept in memory.
	ModuleCacheTTL time.Duration `mapstructure:"module_cache_ttl"`

	Filter struct {
		// Newline-delimited files of client addresses. Missing files are treated as empty.
		AllowListFile string `mapstructure:"allow_list_file"`
		DenyListFile  string `mapstructure:"deny_list_file"`
		// Reject every client that isn't on the allow-list.
		AllowListOnly bool `mapstructure:"allow_list_only"`
	} `mapstructure:"filter"`

	Protocol struct {
		// Largest frame payload accepted from a client, in bytes.
		MaxPayloadSize uint32 `mapstructure:"max_payload_size"`
		// Connections that send nothing for this long are closed.
		ReadTimeout time.Duration `mapstructure:"read_timeout"`
	} `mapstructure:"protocol"`

	Session struct {
		// Written to every session record.
		GameID uint `mapstructure:"game_id"`
	} `mapstructure:"session"`

	Keys struct {
		// PEM encoded RSA keypair used to sign handshakes. Handshakes are
		// left unsigned if these are blank.
		PrivateKeyFile string `mapstructure:"private_key_file"`
		PublicKeyFile  string `mapstructure:"public_key_file"`
	} `mapstructure:"keys"`

	Database struct {
		// Either postgres or sqlite.
		Engine string `mapstructure:"engine"`
		// Path to the database file when using sqlite.
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to the database.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		Enabled bool `mapstructure:"enabled"`
		// Port on which a pprof server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Log frames to stdout.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "GATEHOUSE"

var defaults = map[string]interface{}{
	"hostname":                           "0.0.0.0",
	"port":                               3387,
	"max_connections":                    0,
	"log_file_path":                      "",
	"log_level":                          "info",
	"module_cache_ttl":                   "10m",
	"filter.allow_list_file":             "allowlist.txt",
	"filter.deny_list_file":              "denylist.txt",
	"filter.allow_list_only":             false,
	"protocol.max_payload_size":          1 << 20,
	"protocol.read_timeout":              "5m",
	"session.game_id":                    1,
	"keys.private_key_file":              "",
	"keys.public_key_file":               "",
	"database.engine":                    "sqlite",
	"database.filename":                  "gatehouse.db",
	"database.host":                      "localhost",
	"database.port":                      5432,
	"database.name":                      "gatehouse",
	"database.username":                  "gatehouse",
	"database.password":                  "",
	"database.sslmode":                   "disable",
	"debugging.enabled":                  false,
	"debugging.pprof_port":               4000,
	"debugging.packet_logging_enabled":   false,
	"debugging.database_logging_enabled": false,
}

// LoadConfig reads config.yaml from configPath, applies any GATEHOUSE_
// environment overrides and returns the result. Every key has a default so
// a missing config file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: GATEHOUSE_DATABASE_HOST
	for _, k := range v.AllKeys() {
		envVar := envVarPrefix + "_" + strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	return config, nil
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
// For sqlite this is just the database file.
func (c *Config) DatabaseURL() string {
	if c.Database.Engine == "sqlite" || c.Database.Engine == "" {
		return c.Database.Filename
	}
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// ListenAddress is the host:port the server binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}
