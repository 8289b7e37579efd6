// Package config reads process settings from the environment. A .env file in
// the working directory is loaded first when present; variables already set in
// the environment take precedence over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cs-paralegal-bot/internal/chunk"
)

type StoreBackend string

const (
	BackendDynamo StoreBackend = "dynamodb"
	BackendRedis  StoreBackend = "redis"
	BackendMemory StoreBackend = "memory"
)

type Config struct {
	StateTable        string
	ParamPrefix       string
	StoreBackend      StoreBackend
	RedisURL          string
	StoreTimeout      time.Duration
	ContinuationTTL   time.Duration
	ChunkMaxLength    int
	PublicBaseURL     string
	OpenAIModel       string
	MaxContextItems   int
	MaxQuestionLength int
	ModerationEnabled bool
	LogLevel          slog.Level
	Port              string

	// VerifySignature rejects webhook deliveries without a valid
	// X-Twilio-Signature. WebhookURL is the URL Twilio signs; when empty it is
	// rebuilt from each request.
	VerifySignature bool
	WebhookURL      string
}

// Load reads the configuration. envFiles are optional .env paths; with none
// given ".env" is tried.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, which has the shape of os.LookupEnv.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := Config{
		StateTable:    get("STATE_TABLE"),
		ParamPrefix:   strings.TrimRight(get("PARAM_PREFIX"), "/"),
		StoreBackend:  StoreBackend(strings.ToLower(get("STORE_BACKEND"))),
		RedisURL:      get("REDIS_URL"),
		PublicBaseURL: strings.TrimRight(get("PUBLIC_BASE_URL"), "/"),
		OpenAIModel:   get("OPENAI_MODEL"),
		Port:          get("PORT"),
		WebhookURL:    get("WEBHOOK_URL"),
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = BackendDynamo
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	var err error
	if cfg.ChunkMaxLength, err = intVar(get, "CHUNK_MAX_LENGTH", chunk.DefaultMaxLength); err != nil {
		return Config{}, err
	}
	if cfg.MaxContextItems, err = intVar(get, "MAX_CONTEXT_ITEMS", 0); err != nil {
		return Config{}, err
	}
	if cfg.MaxQuestionLength, err = intVar(get, "MAX_QUESTION_LENGTH", 0); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = durationVar(get, "STORE_TIMEOUT", 3*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ContinuationTTL, err = durationVar(get, "CONTINUATION_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.ModerationEnabled, err = boolVar(get, "MODERATION_ENABLED", false); err != nil {
		return Config{}, err
	}
	if cfg.VerifySignature, err = boolVar(get, "TWILIO_VERIFY_SIGNATURE", true); err != nil {
		return Config{}, err
	}
	if v := get("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("config: LOG_LEVEL: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ParamPrefix == "" {
		return errors.New("config: PARAM_PREFIX is required")
	}
	switch c.StoreBackend {
	case BackendDynamo:
		if c.StateTable == "" {
			return errors.New("config: STATE_TABLE is required for the dynamodb backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.ChunkMaxLength <= 0 {
		return errors.New("config: CHUNK_MAX_LENGTH must be positive")
	}
	return nil
}

func intVar(get func(string) string, key string, fallback int) (int, error) {
	v := get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func boolVar(get func(string) string, key string, fallback bool) (bool, error) {
	v := get(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func durationVar(get func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	v := get(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return d, nil
}
