package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	AuthMode               string        `mapstructure:"AUTH_MODE"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32         `mapstructure:"DB_MIN_CONNS"`
	JWTSecret              string        `mapstructure:"JWT_SECRET"`
	JWTIssuer              string        `mapstructure:"JWT_ISSUER"`
	JWTTTL                 time.Duration `mapstructure:"JWT_TTL"`
	CORSOrigins            []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS           float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst         int           `mapstructure:"RATE_LIMIT_BURST"`
	AuditFeedLimit         int           `mapstructure:"AUDIT_FEED_LIMIT"`
	OrgTrialDays           int           `mapstructure:"ORG_TRIAL_DAYS"`
	DefaultRecordViewLimit int           `mapstructure:"DEFAULT_RECORD_VIEW_LIMIT"`
	MaxRecordBytes         int           `mapstructure:"MAX_RECORD_BYTES"`
	GitHubClientID         string        `mapstructure:"GITHUB_CLIENT_ID"`
	GitHubClientSecret     string        `mapstructure:"GITHUB_CLIENT_SECRET"`
	GitHubRedirectURI      string        `mapstructure:"GITHUB_REDIRECT_URI"`
	MigrateOnStart         bool          `mapstructure:"MIGRATE_ON_START"`
}

const (
	AuthModeDevelopment = "development"
	AuthModeJWT         = "jwt"

	minJWTSecretLen = 32
)

var keys = []string{
	"PORT", "ENV", "AUTH_MODE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"JWT_SECRET", "JWT_ISSUER", "JWT_TTL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AUDIT_FEED_LIMIT", "ORG_TRIAL_DAYS", "DEFAULT_RECORD_VIEW_LIMIT", "MAX_RECORD_BYTES",
	"GITHUB_CLIENT_ID", "GITHUB_CLIENT_SECRET", "GITHUB_REDIRECT_URI",
	"MIGRATE_ON_START",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_ISSUER", "carenet")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("AUDIT_FEED_LIMIT", 100)
	v.SetDefault("ORG_TRIAL_DAYS", 180)
	v.SetDefault("DEFAULT_RECORD_VIEW_LIMIT", 10)
	v.SetDefault("MAX_RECORD_BYTES", 5<<20)
	v.SetDefault("MIGRATE_ON_START", false)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = splitList(origins)
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ResolvedAuthMode() == AuthModeDevelopment {
		log.Println("WARNING: development auth is active; X-User-ID is trusted without a token.")
		log.Println("WARNING: set ENV=production or AUTH_MODE=jwt before exposing this server.")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set, otherwise "development" in a
// development environment and "jwt" everywhere else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	return AuthModeJWT
}

// GitHubEnabled reports whether GitHub sign-in is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != AuthModeDevelopment && mode != AuthModeJWT {
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeDevelopment, AuthModeJWT, mode)
	}
	if c.IsProduction() && mode == AuthModeDevelopment {
		return fmt.Errorf("AUTH_MODE=development is not allowed with ENV=production")
	}
	// Tokens are issued in both modes, so a development server still needs a key;
	// only jwt mode insists on a strong one.
	if mode == AuthModeJWT && len(c.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes in jwt mode", minJWTSecretLen)
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}
	if c.AuditFeedLimit <= 0 {
		return fmt.Errorf("AUDIT_FEED_LIMIT must be positive")
	}
	if c.OrgTrialDays <= 0 {
		return fmt.Errorf("ORG_TRIAL_DAYS must be positive")
	}
	if c.DefaultRecordViewLimit <= 0 {
		return fmt.Errorf("DEFAULT_RECORD_VIEW_LIMIT must be positive")
	}
	if c.MaxRecordBytes <= 0 {
		return fmt.Errorf("MAX_RECORD_BYTES must be positive")
	}
	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		return fmt.Errorf("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together")
	}
	return nil
}

// SigningKey returns the HS256 key. Development servers without a configured
// secret get a fixed key so tokens survive restarts.
func (c *Config) SigningKey() []byte {
	if c.JWTSecret == "" && c.ResolvedAuthMode() == AuthModeDevelopment {
		return []byte("carenet-development-signing-key-000")
	}
	return []byte(c.JWTSecret)
}
