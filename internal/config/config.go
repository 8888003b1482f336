package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

const (
	defaultPayURL    = "https://credit.linux.do/epay/pay/submit.php"
	defaultRefundURL = "https://credit.linux.do/epay/api.php"
	defaultAuthURL   = "https://connect.linux.do/oauth2/authorize"
	defaultTokenURL  = "https://connect.linux.do/oauth2/token"
	defaultUserURL   = "https://connect.linux.do/api/user"
)

// Config is built once at start-up and handed to every component. Treat it as read-only.
type Config struct {
	HTTPAddr string
	SiteURL  string

	DB       DBConfig
	RedisURL string

	Merchant MerchantConfig
	OAuth    OAuthConfig

	AdminUsers      []string
	SessionTTL      time.Duration
	UpstreamTimeout time.Duration
	AllowedOrigins  []string
	SweepInterval   time.Duration
	RequireLogin    bool
}

type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Schema   string
}

// DSN returns the pgx connection string.
func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	if c.Schema != "" {
		q.Set("search_path", c.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type MerchantConfig struct {
	ID        string
	Key       string
	PayURL    string
	RefundURL string
}

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	UserURL      string
}

// Load reads the environment (and .env, if present).
func Load() (Config, error) {
	var errs []error

	cfg := Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		SiteURL:  strings.TrimRight(os.Getenv("SITE_URL"), "/"),
		DB: DBConfig{
			Host:     getEnv("BLUEPRINT_DB_HOST", "localhost"),
			Port:     getEnv("BLUEPRINT_DB_PORT", "5432"),
			Username: os.Getenv("BLUEPRINT_DB_USERNAME"),
			Password: os.Getenv("BLUEPRINT_DB_PASSWORD"),
			Database: os.Getenv("BLUEPRINT_DB_DATABASE"),
			Schema:   getEnv("BLUEPRINT_DB_SCHEMA", "public"),
		},
		RedisURL: getEnv("REDIS_URL", "localhost:6379"),
		Merchant: MerchantConfig{
			ID:        os.Getenv("MERCHANT_ID"),
			Key:       os.Getenv("MERCHANT_KEY"),
			PayURL:    getEnv("PAY_URL", defaultPayURL),
			RefundURL: getEnv("REFUND_URL", defaultRefundURL),
		},
		OAuth: OAuthConfig{
			ClientID:     os.Getenv("OAUTH_CLIENT_ID"),
			ClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
			RedirectURI:  os.Getenv("OAUTH_REDIRECT_URI"),
			AuthURL:      getEnv("OAUTH_AUTH_URL", defaultAuthURL),
			TokenURL:     getEnv("OAUTH_TOKEN_URL", defaultTokenURL),
			UserURL:      getEnv("OAUTH_USER_URL", defaultUserURL),
		},
		AdminUsers:     splitList(os.Getenv("ADMIN_USERS")),
		AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 7*24*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.UpstreamTimeout, err = getDuration("UPSTREAM_TIMEOUT", 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.SweepInterval, err = getDuration("FULFILLMENT_SWEEP_INTERVAL", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.RequireLogin, err = getBool("REQUIRE_LOGIN", true); err != nil {
		errs = append(errs, err)
	}

	for key, val := range map[string]string{
		"MERCHANT_ID":  cfg.Merchant.ID,
		"MERCHANT_KEY": cfg.Merchant.Key,
		"SITE_URL":     cfg.SiteURL,
	} {
		if val == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// IsAdmin matches usernames case-insensitively against ADMIN_USERS. An empty list means no admins.
func (c Config) IsAdmin(username string) bool {
	for _, u := range c.AdminUsers {
		if strings.EqualFold(u, username) {
			return true
		}
	}
	return false
}

func (c Config) NotifyURL() string { return c.SiteURL + "/notify" }
func (c Config) ReturnURL() string { return c.SiteURL + "/return" }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
