package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes yaml duration strings ("10m", "90s") as well as raw
// integer nanosecond counts.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ns int64
	if err := value.Decode(&ns); err == nil {
		*d = Duration(ns)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Dev struct {
		Mode bool `yaml:"mode"`
	} `yaml:"dev"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Stripe struct {
		SecretKey     string `yaml:"secret_key"`
		WebhookSecret string `yaml:"webhook_secret"`
		APIBaseURL    string `yaml:"api_base_url"`
	} `yaml:"stripe"`
	Auth struct {
		TokenSigningKey string `yaml:"token_signing_key"`
		Issuer          string `yaml:"issuer"`
		Audience        string `yaml:"audience"`
	} `yaml:"auth"`
	Security struct {
		AdminAPIKey  string   `yaml:"admin_api_key"`
		AllowOrigins []string `yaml:"allow_origins"`
		RequireCSRF  bool     `yaml:"require_csrf"`
		CSRFTokenTTL Duration `yaml:"csrf_token_ttl"`
	} `yaml:"security"`
	RateLimit struct {
		MaxRequests int      `yaml:"max_requests"`
		Window      Duration `yaml:"window"`
		// FailOpen permits traffic when the limiter backend errors.
		// Availability over strict enforcement.
		FailOpen bool `yaml:"fail_open"`
	} `yaml:"rate_limit"`
	Billing struct {
		PastDueGraceDays  int    `yaml:"past_due_grace_days"`
		DefaultSuccessURL string `yaml:"default_success_url"`
		DefaultCancelURL  string `yaml:"default_cancel_url"`
	} `yaml:"billing"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func Default() Config {
	var cfg Config
	cfg.HTTP.Addr = ":8090"
	cfg.Dev.Mode = true
	cfg.Stripe.APIBaseURL = "https://api.stripe.com"
	cfg.Security.CSRFTokenTTL = Duration(10 * time.Minute)
	cfg.RateLimit.MaxRequests = 60
	cfg.RateLimit.Window = Duration(time.Minute)
	cfg.RateLimit.FailOpen = true
	cfg.Billing.PastDueGraceDays = 7
	cfg.Billing.DefaultSuccessURL = "https://app.reverie.ink/billing?checkout=success"
	cfg.Billing.DefaultCancelURL = "https://app.reverie.ink/billing?checkout=cancel"
	cfg.Log.Level = "info"
	return cfg
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	applyEnv(&cfg)

	if cfg.Database.DSN == "" {
		return cfg, errors.New("missing database.dsn (or RV_DB_DSN)")
	}
	if !cfg.Dev.Mode && cfg.Redis.URL == "" {
		return cfg, errors.New("missing redis.url (or RV_REDIS_URL) outside dev mode")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RV_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("RV_DEV_MODE"); v != "" {
		cfg.Dev.Mode = parseBool(v, cfg.Dev.Mode)
	}
	if v := os.Getenv("RV_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("RV_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("RV_STRIPE_SECRET_KEY"); v != "" {
		cfg.Stripe.SecretKey = v
	}
	if v := os.Getenv("RV_STRIPE_WEBHOOK_SECRET"); v != "" {
		cfg.Stripe.WebhookSecret = v
	}
	if v := os.Getenv("RV_STRIPE_API_BASE_URL"); v != "" {
		cfg.Stripe.APIBaseURL = v
	}
	if v := os.Getenv("RV_AUTH_TOKEN_SIGNING_KEY"); v != "" {
		cfg.Auth.TokenSigningKey = v
	}
	if v := os.Getenv("RV_AUTH_ISSUER"); v != "" {
		cfg.Auth.Issuer = v
	}
	if v := os.Getenv("RV_AUTH_AUDIENCE"); v != "" {
		cfg.Auth.Audience = v
	}
	if v := os.Getenv("RV_ADMIN_API_KEY"); v != "" {
		cfg.Security.AdminAPIKey = v
	}
	if v := os.Getenv("RV_ALLOW_ORIGINS"); v != "" {
		cfg.Security.AllowOrigins = splitCSV(v)
	}
	if v := os.Getenv("RV_REQUIRE_CSRF"); v != "" {
		cfg.Security.RequireCSRF = parseBool(v, cfg.Security.RequireCSRF)
	}
	if v := os.Getenv("RV_CSRF_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.CSRFTokenTTL = Duration(d)
		}
	}
	if v := os.Getenv("RV_RATE_LIMIT_MAX_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MaxRequests = n
		}
	}
	if v := os.Getenv("RV_RATE_LIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimit.Window = Duration(d)
		}
	}
	if v := os.Getenv("RV_RATE_LIMIT_FAIL_OPEN"); v != "" {
		cfg.RateLimit.FailOpen = parseBool(v, cfg.RateLimit.FailOpen)
	}
	if v := os.Getenv("RV_PAST_DUE_GRACE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Billing.PastDueGraceDays = n
		}
	}
	if v := os.Getenv("RV_DEFAULT_SUCCESS_URL"); v != "" {
		cfg.Billing.DefaultSuccessURL = v
	}
	if v := os.Getenv("RV_DEFAULT_CANCEL_URL"); v != "" {
		cfg.Billing.DefaultCancelURL = v
	}
	if v := os.Getenv("RV_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func parseBool(input string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val == "" {
			continue
		}
		out = append(out, val)
	}
	return out
}
