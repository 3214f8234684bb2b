package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"barter-exchange/internal/auth"
)

const (
	ServiceIdentity    = "identity"
	ServiceCatalog     = "catalog"
	ServiceNegotiation = "negotiation"
)

type Config struct {
	Env       string
	Release   string
	SentryDSN string

	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	Services          map[string]bool
	AllowedOrigins    []string
	SecureCookies     bool

	Issuer               string
	CatalogServiceID     string
	NegotiationServiceID string
	AccessSecret         string
	RefreshSecret        string
	ServiceSecret        string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	ServiceTTL           time.Duration
	PasswordCost         int

	LoginRateLimitMax    int
	LoginRateLimitWindow time.Duration

	CronSecret       string
	CleanupBatchSize int

	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// LoadConfig reads the process environment. DATABASE_URL is only required when
// withDatabase is set.
func LoadConfig(withDatabase bool) (Config, error) {
	cfg := Config{
		Env:       envOrDefault("APP_ENV", "development"),
		Release:   os.Getenv("APP_RELEASE"),
		SentryDSN: os.Getenv("SENTRY_DSN"),

		DBMaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		DBConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
		AllowedOrigins:    envListOrDefault("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),

		Issuer:               envOrDefault("AUTH_ISSUER", "auth-service"),
		CatalogServiceID:     envOrDefault("CATALOG_SERVICE_ID", "catalog-service"),
		NegotiationServiceID: envOrDefault("NEGOTIATION_SERVICE_ID", "negotiation-service"),
		AccessTTL:            envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTTL:           envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
		ServiceTTL:           envMinutesOrDefault("SERVICE_TOKEN_TTL_MINUTES", 120),
		PasswordCost:         envIntOrDefault("BCRYPT_COST", 0),

		LoginRateLimitMax:    envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		LoginRateLimitWindow: envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),

		CronSecret:       os.Getenv("CRON_SECRET"),
		CleanupBatchSize: envIntOrDefault("SUSPENSION_CLEANUP_BATCH_SIZE", 500),

		AdminUsername: os.Getenv("ADMIN_USERNAME"),
		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}
	cfg.SecureCookies = EnvBoolOrDefault("SECURE_COOKIES", cfg.Env == "production")

	services, err := parseServices(envOrDefault("SERVICES", "identity,catalog,negotiation"))
	if err != nil {
		return Config{}, err
	}
	cfg.Services = services

	if withDatabase {
		if cfg.DatabaseURL, err = mustEnv("DATABASE_URL"); err != nil {
			return Config{}, err
		}
	}
	if cfg.AccessSecret, err = mustEnv("ACCESS_TOKEN_SECRET"); err != nil {
		return Config{}, err
	}
	if cfg.RefreshSecret, err = mustEnv("REFRESH_TOKEN_SECRET"); err != nil {
		return Config{}, err
	}
	if cfg.ServiceSecret, err = mustEnv("SERVICE_TOKEN_SECRET"); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if err := auth.DistinctKeys(map[auth.KeyClass]string{
		auth.KeyClassAccess:  c.AccessSecret,
		auth.KeyClassRefresh: c.RefreshSecret,
		auth.KeyClassService: c.ServiceSecret,
	}); err != nil {
		return fmt.Errorf("token secrets: %w", err)
	}
	if c.CatalogServiceID == c.NegotiationServiceID {
		return fmt.Errorf("CATALOG_SERVICE_ID and NEGOTIATION_SERVICE_ID must differ")
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("SERVICES selects nothing")
	}
	return nil
}

func parseServices(raw string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		switch name {
		case "":
			continue
		case ServiceIdentity, ServiceCatalog, ServiceNegotiation:
			out[name] = true
		default:
			return nil, fmt.Errorf("unknown service in SERVICES: %q", name)
		}
	}
	return out, nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envListOrDefault(name string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	out := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
