package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries everything the service reads from the environment.
type Config struct {
	Addr        string
	PGHost      string
	Database    string
	ReadUser    string
	ReadPass    string
	WriteUser   string
	WritePass   string
	ReadAPIKey  string
	WriteAPIKey string
	QueriesPath string
	MaxConns    int32
	LogLevel    slog.Level

	// BackupPassphrase enables the encrypted backup/restore endpoints when
	// non-empty.
	BackupPassphrase string
}

// Load reads configuration from the environment, applying a .env file in the
// working directory first when one exists. Variables already set in the
// environment win over the file.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit env file path. A missing file is ignored;
// real deployments set the environment directly.
func LoadFrom(envFile string) (*Config, error) {
	_ = godotenv.Load(envFile)

	var missing []string
	require := func(name string) string {
		value := os.Getenv(name)
		if value == "" {
			missing = append(missing, name)
		}
		return value
	}

	cfg := &Config{
		Addr:        getenv("KEYVAULT_ADDR", ":3000"),
		PGHost:      getenv("PG_HOST", "postgres"),
		Database:    require("POSTGRES_DB"),
		ReadUser:    require("SECRETS_READ_USER"),
		ReadPass:    require("SECRETS_READ_PASSWORD"),
		WriteUser:   require("SECRETS_WRITE_USER"),
		WritePass:   require("SECRETS_WRITE_PASSWORD"),
		ReadAPIKey:  require("API_MASTER_KEY_READ"),
		WriteAPIKey: require("API_MASTER_KEY_WRITE"),
		QueriesPath: getenv("KEYVAULT_QUERIES", "queries.yaml"),
		LogLevel:    parseLevel(getenv("KEYVAULT_LOG", "warn")),

		BackupPassphrase: os.Getenv("KEYVAULT_BACKUP_KEY"),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	conns := getenv("KEYVAULT_PG_CONNS", "5")
	n, err := strconv.Atoi(conns)
	if err != nil || n < 1 {
		return nil, fmt.Errorf("invalid KEYVAULT_PG_CONNS value %q", conns)
	}
	cfg.MaxConns = int32(n)

	return cfg, nil
}

// ReadDSN returns the connection string for the read-only database role.
func (c *Config) ReadDSN() string {
	return dsn(c.ReadUser, c.ReadPass, c.PGHost, c.Database)
}

// WriteDSN returns the connection string for the writer database role.
func (c *Config) WriteDSN() string {
	return dsn(c.WriteUser, c.WritePass, c.PGHost, c.Database)
}

func dsn(user, pass, host, database string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   host,
		Path:   "/" + database,
	}
	return u.String()
}

func getenv(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
