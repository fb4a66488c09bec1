package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend holds configuration for the chat backend Lambda.
type Backend struct {
	StateTable       string
	ParamPrefix      string
	MaxHistoryItems  int
	MaxMessageLength int

	// Zero leaves the OpenAI defaults in place.
	OpenAITemperature float64
	OpenAIMaxTokens   int
}

// Widget holds configuration for the terminal chat client.
type Widget struct {
	APIURL         string
	RequestTimeout time.Duration
	HydrateOnce    bool

	// Empty UserID runs the client anonymously.
	UserID    string
	UserToken string
}

// LoadBackend reads backend configuration from the environment.
// A .env file in the working directory is loaded first when present.
func LoadBackend() (Backend, error) {
	_ = godotenv.Load()

	cfg := Backend{
		StateTable:        strings.TrimSpace(os.Getenv("STATE_TABLE")),
		ParamPrefix:       strings.TrimSpace(os.Getenv("PARAM_PREFIX")),
		MaxHistoryItems:   getEnvInt("MAX_HISTORY_ITEMS", 20),
		MaxMessageLength:  getEnvInt("MAX_MESSAGE_LENGTH", 500),
		OpenAITemperature: getEnvFloat("OPENAI_TEMPERATURE", 0),
		OpenAIMaxTokens:   getEnvInt("OPENAI_MAX_TOKENS", 0),
	}
	if cfg.StateTable == "" {
		return Backend{}, fmt.Errorf("config: STATE_TABLE is required")
	}
	if cfg.ParamPrefix == "" {
		return Backend{}, fmt.Errorf("config: PARAM_PREFIX is required")
	}
	return cfg, nil
}

// LoadWidget reads terminal client configuration from the environment.
func LoadWidget() (Widget, error) {
	_ = godotenv.Load()

	cfg := Widget{
		APIURL:         strings.TrimSpace(getEnv("CHAT_API_URL", "http://localhost:8080/api")),
		RequestTimeout: getEnvDuration("CHAT_REQUEST_TIMEOUT", 30*time.Second),
		HydrateOnce:    getEnvBool("CHAT_HYDRATE_ONCE", false),
		UserID:         strings.TrimSpace(os.Getenv("CHAT_USER")),
		UserToken:      strings.TrimSpace(os.Getenv("CHAT_USER_TOKEN")),
	}
	if cfg.APIURL == "" {
		return Widget{}, fmt.Errorf("config: CHAT_API_URL is required")
	}
	if cfg.UserID != "" && cfg.UserToken == "" {
		return Widget{}, fmt.Errorf("config: CHAT_USER_TOKEN is required when CHAT_USER is set")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
