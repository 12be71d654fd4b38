package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	PlatformReddit = "reddit"
	PlatformGitHub = "github"
)

// Config holds all configuration for the pollbot process. Identity and the
// opt-out set live in the state document; everything here is operational.
type Config struct {
	// State document
	StatePath string

	// Platform selection
	Platform string // "reddit" or "github"
	// Password for the Reddit password grant. Kept out of the state document.
	Password          string
	APIBaseURL        string // Optional: custom API endpoint
	TokenURL          string // Optional: custom OAuth token endpoint
	ContactRepo       string // github only: owner/repo for unsubscribe issues
	RequestsPerMinute int

	// Scan settings
	Interval     time.Duration
	CommentLimit int
	MessageLimit int
	MatchMarker  string
	OptOutMarker string

	// Reply bodies (text/template); empty selects the built-in text
	CommentTemplate string
	OptOutTemplate  string

	// Status server; 0 disables it
	StatusPort int

	// Logging
	LogLevel string
	LogFile  string
}

// Load loads configuration from environment variables. The result is not
// validated; callers apply their overrides first and then call Validate.
func Load() (*Config, error) {
	cfg := &Config{
		StatePath:         getEnv("POLLBOT_STATE_PATH", "config.json"),
		Platform:          strings.ToLower(getEnv("POLLBOT_PLATFORM", PlatformReddit)),
		Password:          normalizeSecret(os.Getenv("POLLBOT_PASSWORD")),
		APIBaseURL:        os.Getenv("POLLBOT_API_BASE_URL"),
		TokenURL:          os.Getenv("POLLBOT_TOKEN_URL"),
		ContactRepo:       os.Getenv("POLLBOT_GITHUB_CONTACT_REPO"),
		RequestsPerMinute: getEnvInt("POLLBOT_REQUESTS_PER_MINUTE", 60),
		Interval:          getEnvSeconds("POLLBOT_INTERVAL_SECONDS", 10),
		CommentLimit:      getEnvInt("POLLBOT_COMMENT_LIMIT", 25),
		MessageLimit:      getEnvInt("POLLBOT_MESSAGE_LIMIT", 25),
		MatchMarker:       getEnv("POLLBOT_MATCH_MARKER", "test"),
		OptOutMarker:      getEnv("POLLBOT_OPT_OUT_MARKER", "unsubscribe"),
		CommentTemplate:   os.Getenv("POLLBOT_COMMENT_TEMPLATE"),
		OptOutTemplate:    os.Getenv("POLLBOT_OPT_OUT_TEMPLATE"),
		StatusPort:        getEnvInt("POLLBOT_STATUS_PORT", 0),
		LogLevel:          getEnv("POLLBOT_LOG_LEVEL", "info"),
		LogFile:           os.Getenv("POLLBOT_LOG_FILE"),
	}

	return cfg, nil
}

// normalizeSecret strips surrounding quotes that .env editors tend to add.
func normalizeSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	if len(trimmed) >= 2 && strings.HasPrefix(trimmed, "\"") && strings.HasSuffix(trimmed, "\"") {
		trimmed = strings.TrimPrefix(trimmed, "\"")
		trimmed = strings.TrimSuffix(trimmed, "\"")
	}
	if len(trimmed) >= 2 && strings.HasPrefix(trimmed, "'") && strings.HasSuffix(trimmed, "'") {
		trimmed = strings.TrimPrefix(trimmed, "'")
		trimmed = strings.TrimSuffix(trimmed, "'")
	}

	return trimmed
}

// Validate applies defaults and checks the settings. Call it again after
// overriding fields from flags.
func (c *Config) Validate() error {
	if err := c.validatePlatform(); err != nil {
		return err
	}

	c.applyScanDefaults()
	return c.validateScanConfig()
}

func (c *Config) validatePlatform() error {
	c.Platform = strings.ToLower(strings.TrimSpace(c.Platform))
	switch c.Platform {
	case PlatformReddit, PlatformGitHub:
	default:
		return fmt.Errorf("invalid platform: %s (must be 'reddit' or 'github')", c.Platform)
	}
	if c.ContactRepo != "" && strings.Count(strings.Trim(c.ContactRepo, "/"), "/") != 1 {
		return fmt.Errorf("POLLBOT_GITHUB_CONTACT_REPO must be owner/repo, got %q", c.ContactRepo)
	}
	return nil
}

func (c *Config) applyScanDefaults() {
	if strings.TrimSpace(c.StatePath) == "" {
		c.StatePath = "config.json"
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.CommentLimit <= 0 {
		c.CommentLimit = 25
	}
	if c.MessageLimit <= 0 {
		c.MessageLimit = 25
	}
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = 60
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validateScanConfig() error {
	if strings.TrimSpace(c.MatchMarker) == "" {
		return fmt.Errorf("POLLBOT_MATCH_MARKER must not be empty")
	}
	if strings.TrimSpace(c.OptOutMarker) == "" {
		return fmt.Errorf("POLLBOT_OPT_OUT_MARKER must not be empty")
	}
	if strings.EqualFold(strings.TrimSpace(c.MatchMarker), strings.TrimSpace(c.OptOutMarker)) {
		return fmt.Errorf("POLLBOT_MATCH_MARKER and POLLBOT_OPT_OUT_MARKER must differ")
	}
	if c.StatusPort < 0 || c.StatusPort > 65535 {
		return fmt.Errorf("POLLBOT_STATUS_PORT must be between 0 and 65535")
	}
	if c.CommentLimit > 100 {
		return fmt.Errorf("POLLBOT_COMMENT_LIMIT must be <= 100")
	}
	if c.MessageLimit > 100 {
		return fmt.Errorf("POLLBOT_MESSAGE_LIMIT must be <= 100")
	}
	return nil
}

// getEnv gets environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvSeconds reads a whole or fractional number of seconds
func getEnvSeconds(key string, defaultSeconds float64) time.Duration {
	seconds := defaultSeconds
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			seconds = floatValue
		}
	}
	return time.Duration(seconds * float64(time.Second))
}
