package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env                  string
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	ShutdownTimeout      time.Duration

	JWTSecret string

	Instagram InstagramConfig
	Redis     RedisConfig
	Dispatch  DispatchConfig
}

// InstagramConfig holds the webhook secret and the Graph API defaults.
// AccessToken/AccountID are a fallback when no credentials were saved
// through the admin API.
type InstagramConfig struct {
	VerifyToken string
	APIBase     string
	AccessToken string
	AccountID   string
	SiteURL     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DispatchConfig tunes the DM queue.
type DispatchConfig struct {
	HourlyCap          int
	MinSpacing         time.Duration
	TickSpacing        time.Duration
	RateLimitBackoff   time.Duration
	MaxAttempts        int
	PerRecipientHourly int
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:                  getenv("APP_ENV", "production"),
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",
		Instagram: InstagramConfig{
			APIBase:     strings.TrimRight(getenv("INSTAGRAM_API_BASE", "https://graph.instagram.com/v24.0"), "/"),
			AccessToken: getenv("INSTAGRAM_ACCESS_TOKEN", ""),
			AccountID:   getenv("INSTAGRAM_ACCOUNT_ID", ""),
			SiteURL:     strings.TrimRight(getenv("SITE_URL", "http://localhost:3000"), "/"),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
		},
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	var err error
	if cfg.DatabaseURL, err = requireEnv("DATABASE_URL"); err != nil {
		return Config{}, err
	}
	if cfg.JWTSecret, err = requireEnv("JWT_SECRET"); err != nil {
		return Config{}, err
	}
	if cfg.Instagram.VerifyToken, err = requireEnv("INSTAGRAM_VERIFY_TOKEN"); err != nil {
		return Config{}, err
	}

	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}

	d := &cfg.Dispatch
	if d.HourlyCap, err = getInt("DM_HOURLY_CAP", 195); err != nil {
		return Config{}, err
	}
	if d.MinSpacing, err = getDuration("DM_MIN_SPACING", time.Second); err != nil {
		return Config{}, err
	}
	if d.TickSpacing, err = getDuration("DM_TICK_SPACING", 2*time.Second); err != nil {
		return Config{}, err
	}
	if d.RateLimitBackoff, err = getDuration("DM_RATE_LIMIT_BACKOFF", 10*time.Second); err != nil {
		return Config{}, err
	}
	if d.MaxAttempts, err = getInt("DM_MAX_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	if d.PerRecipientHourly, err = getInt("DM_PER_RECIPIENT_HOURLY", 50); err != nil {
		return Config{}, err
	}

	// the platform cap is 200/hour; never go above it
	if d.HourlyCap <= 0 || d.HourlyCap > 200 {
		d.HourlyCap = 195
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 3
	}

	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func requireEnv(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("missing env: %s", key)
	}
	return v, nil
}

func getInt(key string, def int) (int, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
