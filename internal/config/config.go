// Package config holds signalbot's process configuration.
//
// The static part is environment-sourced and built exactly once at startup;
// handlers receive it by injection and never read the environment themselves.
// A small set of runtime knobs can additionally be overridden from a watched
// YAML file, see overrides.go.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultDBPath      = "bot.db"
	defaultWebhookPath = "/webhook"
	defaultPort        = 8000
	defaultInterval    = 60 * time.Minute
	defaultLogLevel    = "info"
)

// Config keeps runtime settings for the bot. All fields except Token have
// working defaults.
type Config struct {
	Token   string
	AdminID int64

	DBPath string

	// WebhookURL is the public HTTPS base the platform pushes updates to.
	// When empty the bot falls back to long polling.
	WebhookURL  string
	WebhookPath string
	Port        int

	BroadcastInterval time.Duration

	LogLevel string
	LogFile  string

	// OverridesPath points at an optional YAML file with hot-reloadable
	// settings. Empty disables the watcher.
	OverridesPath string
}

// Load reads configuration from the environment. envFile, when non-empty, is
// loaded first via godotenv (missing file is not an error: production
// deployments set real environment variables instead).
func Load(envFile string) (Config, error) {
	if strings.TrimSpace(envFile) != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load env file %q: %w", envFile, err)
		}
	}

	cfg := Config{
		Token:             strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		DBPath:            envOr("DB_PATH", defaultDBPath),
		WebhookURL:        strings.TrimSpace(os.Getenv("WEBHOOK_URL")),
		WebhookPath:       envOr("WEBHOOK_PATH", defaultWebhookPath),
		LogLevel:          envOr("LOG_LEVEL", defaultLogLevel),
		LogFile:           strings.TrimSpace(os.Getenv("LOG_FILE")),
		OverridesPath:     strings.TrimSpace(os.Getenv("OVERRIDES_PATH")),
		BroadcastInterval: defaultInterval,
	}

	if cfg.Token == "" {
		return Config{}, errors.New("BOT_TOKEN is required")
	}

	var err error
	if cfg.AdminID, err = envInt64("ADMIN_ID", 0); err != nil {
		return Config{}, err
	}
	if cfg.Port, err = envInt("PORT", defaultPort); err != nil {
		return Config{}, err
	}
	if raw := strings.TrimSpace(os.Getenv("BROADCAST_INTERVAL")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("BROADCAST_INTERVAL: invalid duration %q", raw)
		}
		cfg.BroadcastInterval = d
	}

	return cfg, nil
}

// PublicWebhookURL joins the public base URL and the webhook path.
func (c Config) PublicWebhookURL() string {
	if c.WebhookURL == "" {
		return ""
	}
	base := strings.TrimRight(c.WebhookURL, "/")
	path := c.WebhookPath
	if path == "" {
		path = defaultWebhookPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	// Some deployments put the path into WEBHOOK_URL already.
	if strings.HasSuffix(base, path) {
		return base
	}
	return base + path
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return v, nil
}

func envInt64(key string, def int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return v, nil
}
