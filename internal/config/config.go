package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Identity providers.
const (
	ProviderLocal  = "local"
	ProviderGoTrue = "gotrue"
)

// Config holds runtime settings for the server and the simulator.
type Config struct {
	Port string

	StoreDriver string
	SQLitePath  string
	MongoURI    string
	MongoDB     string

	IdentityProvider string
	GoTrueURL        string
	GoTrueServiceKey string
	JWTSecret        string
	JWTExpiry        time.Duration

	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string

	MaintenanceSweep   string
	RateLimitPerMinute int
	RequestTimeout     time.Duration
	CORSOrigins        []string

	// Bootstrap fleet-admin, created at startup when no fleet-admin exists.
	AdminName     string
	AdminEmail    string
	AdminPassword string

	LogLevel  string
	LogFormat string
}

// Load reads envFile (if it exists) into the environment and builds a Config from it.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		StoreDriver:        getEnv("STORE_DRIVER", DriverSQLite),
		SQLitePath:         getEnv("SQLITE_PATH", "fleet.db"),
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:            getEnv("MONGO_DB", "fleet"),
		IdentityProvider:   getEnv("IDENTITY_PROVIDER", ProviderLocal),
		GoTrueURL:          os.Getenv("GOTRUE_URL"),
		GoTrueServiceKey:   os.Getenv("GOTRUE_SERVICE_KEY"),
		JWTSecret:          getEnv("JWT_SECRET", "default-secret-key-change-in-production"),
		JWTExpiry:          getDuration("JWT_EXPIRY", 24*time.Hour),
		MQTTBroker:         os.Getenv("MQTT_BROKER"),
		MQTTClientID:       getEnv("MQTT_CLIENT_ID", "fleet-usage"),
		MQTTTopicPrefix:    getEnv("MQTT_TOPIC_PREFIX", "fleet"),
		MaintenanceSweep:   getEnv("MAINTENANCE_SWEEP", "0 0 6 * * *"),
		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 120),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 10*time.Second),
		CORSOrigins:        getList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),
		AdminName:          getEnv("ADMIN_NAME", "Fleet Admin"),
		AdminEmail:         os.Getenv("ADMIN_EMAIL"),
		AdminPassword:      os.Getenv("ADMIN_PASSWORD"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
	}
	return cfg, nil
}

// Validate checks that the selected drivers are known and fully configured.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.IdentityProvider {
	case ProviderLocal:
		if c.JWTSecret == "" {
			return errors.New("JWT_SECRET is required for the local identity provider")
		}
	case ProviderGoTrue:
		if c.GoTrueURL == "" || c.GoTrueServiceKey == "" {
			return errors.New("GOTRUE_URL and GOTRUE_SERVICE_KEY are required for the gotrue identity provider")
		}
	default:
		return fmt.Errorf("unknown IDENTITY_PROVIDER %q", c.IdentityProvider)
	}

	if c.RateLimitPerMinute <= 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return nil
}

// ConfigureLogging applies level and format to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	if level, err := log.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
		log.WithField("key", key).Warn("ignoring malformed duration")
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
		log.WithField("key", key).Warn("ignoring malformed integer")
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
