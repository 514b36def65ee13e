// Package config loads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Backends accepted by LANGEX_BACKEND.
const (
	BackendMemory    = "memory"
	BackendMongo     = "mongo"
	BackendFirestore = "firestore"
)

// Config is the process configuration.
type Config struct {
	LogLevel string
	HTTPAddr string
	// UserID is the signed-in user the session runs for. Empty means
	// signed out.
	UserID string

	Backend          string
	MongoURI         string
	MongoDatabase    string
	FirestoreProject string

	JWTSecret    string
	JWTKeys      map[string]string
	JWTActiveKID string
	TokenTTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	BadgeTTL      time.Duration

	RateLimitRPM   int
	RateLimitBurst int

	RecentConversations int
	MessagePageSize     int
	SetupConcurrency    int

	ShutdownTimeout time.Duration
}

// Load reads .env (if present) and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{get: getenv}
	c := &Config{
		LogLevel:            e.str("LANGEX_LOG_LEVEL", "info"),
		HTTPAddr:            e.str("LANGEX_HTTP_ADDR", ":8080"),
		UserID:              strings.TrimSpace(getenv("LANGEX_USER_ID")),
		Backend:             strings.ToLower(e.str("LANGEX_BACKEND", BackendMemory)),
		MongoURI:            getenv("MONGODB_URI"),
		MongoDatabase:       e.str("MONGODB_DATABASE", "langex"),
		FirestoreProject:    e.str("FIRESTORE_PROJECT", getenv("GOOGLE_CLOUD_PROJECT")),
		JWTSecret:           getenv("JWT_SECRET"),
		JWTActiveKID:        getenv("JWT_ACTIVE_KID"),
		TokenTTL:            e.duration("LANGEX_TOKEN_TTL", 24*time.Hour),
		RedisAddr:           getenv("REDIS_ADDR"),
		RedisPassword:       getenv("REDIS_PASSWORD"),
		RedisDB:             e.integer("REDIS_DB", 0),
		BadgeTTL:            e.duration("LANGEX_BADGE_TTL", 7*24*time.Hour),
		RateLimitRPM:        e.integer("RATE_LIMIT_RPM", 60),
		RateLimitBurst:      e.integer("RATE_LIMIT_BURST", 10),
		RecentConversations: e.integer("LANGEX_RECENT_CONVERSATIONS", 10),
		MessagePageSize:     e.integer("LANGEX_MESSAGE_PAGE_SIZE", 30),
		SetupConcurrency:    e.integer("LANGEX_SETUP_CONCURRENCY", 10),
		ShutdownTimeout:     e.duration("LANGEX_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if e.err != nil {
		return nil, e.err
	}

	keys, err := parseKeys(getenv("JWT_KEYS"))
	if err != nil {
		return nil, err
	}
	c.JWTKeys = keys

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI must be set for the mongo backend")
		}
	case BackendFirestore:
		if c.FirestoreProject == "" {
			return errors.New("FIRESTORE_PROJECT must be set for the firestore backend")
		}
	default:
		return errors.Errorf("unknown LANGEX_BACKEND %q", c.Backend)
	}

	if len(c.JWTKeys) == 0 && c.JWTSecret == "" {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if len(c.JWTKeys) > 0 {
		if _, ok := c.JWTKeys[c.JWTActiveKID]; !ok {
			return errors.Errorf("JWT_ACTIVE_KID %q not present in JWT_KEYS", c.JWTActiveKID)
		}
	}

	for name, v := range map[string]int{
		"RATE_LIMIT_RPM":              c.RateLimitRPM,
		"RATE_LIMIT_BURST":            c.RateLimitBurst,
		"LANGEX_RECENT_CONVERSATIONS": c.RecentConversations,
		"LANGEX_MESSAGE_PAGE_SIZE":    c.MessagePageSize,
		"LANGEX_SETUP_CONCURRENCY":    c.SetupConcurrency,
	} {
		if v <= 0 {
			return errors.Errorf("%s must be positive, got %d", name, v)
		}
	}
	return nil
}

// parseKeys reads "kid:secret,kid2:secret2".
func parseKeys(s string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, errors.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[parts[0]] = parts[1]
	}
	return keys, nil
}

// env collects the first parse error.
type env struct {
	get func(string) string
	err error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && e.err == nil {
		e.err = errors.Wrapf(err, "parse %s", key)
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && e.err == nil {
		e.err = errors.Wrapf(err, "parse %s", key)
	}
	return d
}
