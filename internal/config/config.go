package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// RouterPolicy selects how the request router picks an upstream session.
// Only the least-loaded policy is implemented; the field exists so deployments
// that relied on older pinning behavior fail loudly instead of silently.
const RouterPolicyLeastLoaded = "least_loaded"

// PowerSessionID is the reserved pool ID for the session authenticated from a
// long-lived user credential instead of a bot token.
const PowerSessionID = 99

type RouterConfig struct {
	Policy string `yaml:"policy"`
}

type Config struct {
	Port    string
	GinMode string

	// Upstream credentials
	APIID   int
	APIHash string

	// BotToken authenticates the primary session (pool ID 0).
	BotToken string
	// MultiTokens maps small positive IDs (from MULTI_TOKEN<n> variables) to
	// additional bot tokens. IDs start from 1.
	MultiTokens map[int]string
	// StringSession, when set, provisions the power session (pool ID 99).
	StringSession string

	// BinChannel is the archive chat all streaming reads target. Required.
	BinChannel int64

	// SleepThreshold is handed to the upstream library for short flood waits.
	SleepThreshold int

	// MaxConcurrentPerClient is advisory capacity headroom for the router.
	MaxConcurrentPerClient int

	// Public base URL of this gateway, used for generated links and the
	// keep-alive pinger. Keep-alive is disabled when empty.
	PublicURL    string
	PingInterval time.Duration

	// DocURL is where GET / redirects to.
	DocURL string

	// Server
	ServerShutdownTimeoutSeconds int

	// Logging
	LogLevel  string
	LogFormat string

	// Router
	Router RouterConfig `yaml:"router"`
}

var AppConfig *Config

// Load reads configuration from the environment (plus an optional .env file
// and YAML overlay) and validates the parts the process cannot run without.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		APIID:   getEnvAsInt("API_ID", 0),
		APIHash: getEnvOrDefault("API_HASH", ""),

		BotToken:      getEnvOrDefault("BOT_TOKEN", ""),
		MultiTokens:   parseMultiTokens(os.Environ()),
		StringSession: getEnvOrDefault("STRING_SESSION", ""),

		BinChannel: getEnvAsInt64("BIN_CHANNEL", 0),

		SleepThreshold:         getEnvAsInt("SLEEP_THRESHOLD", 60),
		MaxConcurrentPerClient: getEnvAsInt("MAX_CONCURRENT_PER_CLIENT", 100),

		PublicURL:    strings.TrimRight(getEnvOrDefault("URL", ""), "/"),
		PingInterval: getEnvAsDuration("PING_INTERVAL", 20*time.Minute),

		DocURL: getEnvOrDefault("DOC_URL", "https://github.com/arclight-labs/streamgate"),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		Router: RouterConfig{Policy: RouterPolicyLeastLoaded},
	}

	// Optional YAML overlay for settings that should not come from the
	// environment, like the router policy switch.
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()
		if err := LoadConfigFile(f, cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return cfg, nil
}

// Validate checks the settings a valid start strictly requires.
func (c *Config) Validate() error {
	if c.APIID == 0 || c.APIHash == "" {
		return fmt.Errorf("API_ID and API_HASH are required")
	}
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required for the primary session")
	}
	if c.BinChannel == 0 {
		return fmt.Errorf("BIN_CHANNEL is required")
	}
	if c.Router.Policy != RouterPolicyLeastLoaded {
		return fmt.Errorf("unsupported router policy %q", c.Router.Policy)
	}
	for id := range c.MultiTokens {
		if id <= 0 || id == PowerSessionID {
			return fmt.Errorf("MULTI_TOKEN IDs must be positive and not %d, got %d", PowerSessionID, id)
		}
	}
	return nil
}

// LoadConfigFile decodes a YAML overlay into an existing config.
func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}

// parseMultiTokens extracts MULTI_TOKEN<n> entries from an environment slice.
// Malformed IDs are skipped with a warning rather than failing startup.
func parseMultiTokens(environ []string) map[int]string {
	tokens := make(map[int]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		suffix, found := strings.CutPrefix(key, "MULTI_TOKEN")
		if !found || suffix == "" {
			continue
		}
		id, err := strconv.Atoi(suffix)
		if err != nil || id <= 0 {
			log.Printf("Warning: ignoring %s: suffix is not a positive integer", key)
			continue
		}
		tokens[id] = value
	}
	return tokens
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int64, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		// Plain integers are treated as seconds for compatibility.
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		log.Printf("Warning: Failed to parse environment variable %s='%s' as duration, using default %v", key, value, defaultValue)
	}
	return defaultValue
}
