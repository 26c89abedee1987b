package app

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"waypoint/internal/domain"
	"waypoint/internal/logger"
	"waypoint/internal/protocol/ratchet"
	"waypoint/internal/redisbus"
	"waypoint/internal/services/conversation"
	"waypoint/internal/store"
)

// Store backends.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home       string        // key directory, e.g. $HOME/.waypoint
	User       domain.UserID // our name on the relay
	Passphrase string        // unlocks the sealed key material

	RelayURL     string        // relay base URL, e.g. http://127.0.0.1:8080
	PollInterval time.Duration // pre-key status polling when redis is not configured

	Store       string // StoreFile or StorePostgres
	PostgresDSN string

	Redis redisbus.Config

	Conversation conversation.Config
	Scrypt       store.ScryptParams
	LogMode      string
}

// LoadConfig reads WAYPOINT_* variables, after loading a .env file from the
// working directory if there is one.
func LoadConfig() Config {
	_ = godotenv.Load()

	home := getEnv("WAYPOINT_HOME", "")
	if home == "" {
		if dir, err := os.UserHomeDir(); err == nil {
			home = filepath.Join(dir, ".waypoint")
		}
	}

	return Config{
		Home:         home,
		User:         domain.UserID(getEnv("WAYPOINT_USER", "")),
		Passphrase:   getEnv("WAYPOINT_PASSPHRASE", ""),
		RelayURL:     getEnv("WAYPOINT_RELAY_URL", ""),
		PollInterval: getEnvAsDuration("WAYPOINT_POLL_INTERVAL", time.Minute),
		Store:        getEnv("WAYPOINT_STORE", StoreFile),
		PostgresDSN:  getEnv("WAYPOINT_POSTGRES_DSN", ""),
		Redis: redisbus.Config{
			Addr:     getEnv("WAYPOINT_REDIS_ADDR", ""),
			Password: getEnv("WAYPOINT_REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("WAYPOINT_REDIS_DB", 0),
		},
		Conversation: conversation.Config{
			Ratchet: ratchet.Config{
				MaxSkip:       getEnvAsInt("WAYPOINT_MAX_SKIP", ratchet.DefaultMaxSkip),
				MaxCache:      getEnvAsInt("WAYPOINT_MAX_CACHE", ratchet.DefaultMaxCache),
				SkippedKeyTTL: getEnvAsDuration("WAYPOINT_SKIPPED_KEY_TTL", 720*time.Hour),
			},
			PreKeyBatch:          getEnvAsInt("WAYPOINT_PREKEY_BATCH", conversation.DefaultPreKeyBatch),
			RequireOneTimePreKey: getEnvAsBool("WAYPOINT_REQUIRE_ONE_TIME_PREKEY", true),
		},
		Scrypt:  store.DefaultScryptParams(),
		LogMode: getEnv("WAYPOINT_LOG_MODE", logger.DevelopmentMode),
	}
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	if c.Home == "" {
		errs = append(errs, errors.New("home directory is not set (WAYPOINT_HOME or --home)"))
	}
	if c.Passphrase == "" {
		errs = append(errs, errors.New("passphrase is not set (WAYPOINT_PASSPHRASE or -p)"))
	}
	switch c.Store {
	case StoreFile:
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres store needs WAYPOINT_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, errors.New("unknown store "+strconv.Quote(c.Store)))
	}
	if c.Conversation.Ratchet.MaxSkip < 0 || c.Conversation.Ratchet.MaxCache < 0 {
		errs = append(errs, errors.New("max skip and max cache must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
