package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"pigeonfarm/internal/services"
	"pigeonfarm/internal/throttle"
)

const DefaultPath = "config/config.yaml"

type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT,overwrite"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	// TrustedProxies: IP/CIDR прокси, которым верим в X-Forwarded-For. Пусто: не верим никому.
	TrustedProxies  []string      `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	DSN            string `yaml:"url" env:"DB_DSN,overwrite"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" env:"JWT_SECRET,overwrite"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

type EmailConfig struct {
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password" env:"SMTP_PASSWORD,overwrite"`
	FromEmail    string `yaml:"from_email"`
	DryRun       bool   `yaml:"dry_run"`
}

type TelegramConfig struct {
	BotToken      string        `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN,overwrite"`
	WebhookSecret string        `yaml:"webhook_secret" env:"TELEGRAM_WEBHOOK_SECRET,overwrite"`
	LinkTTL       time.Duration `yaml:"link_ttl"`
}

type RedisConfig struct {
	URL string `yaml:"url" env:"REDIS_URL,overwrite"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL,overwrite"`
	Format string `yaml:"format"`
}

type ResetConfig struct {
	CodeLength               int           `yaml:"code_length"`
	CodeTTL                  time.Duration `yaml:"code_ttl"`
	InvalidatePriorOnReissue bool          `yaml:"invalidate_prior_on_reissue"`
	AsyncDelivery            *bool         `yaml:"async_delivery"`
	MinPasswordLength        int           `yaml:"min_password_length"`
	RequireLetter            *bool         `yaml:"require_letter"`
	RequireDigit             *bool         `yaml:"require_digit"`
}

type LimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// ThrottleConfig: limit 0 отключает соответствующий лимит.
type ThrottleConfig struct {
	Request LimitConfig `yaml:"request"`
	Attempt LimitConfig `yaml:"attempt"`
	IP      LimitConfig `yaml:"ip"`
}

type Config struct {
	Env      string         `yaml:"env" env:"APP_ENV,overwrite"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Email    EmailConfig    `yaml:"email"`
	Telegram TelegramConfig `yaml:"telegram"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
	Reset    ResetConfig    `yaml:"reset"`
	Throttle ThrottleConfig `yaml:"throttle"`
}

// Load читает YAML, затем .env и переменные окружения поверх него.
// Пустой path: только окружение.
func Load(ctx context.Context, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Auth.AccessTTL <= 0 {
		c.Auth.AccessTTL = 15 * time.Minute
	}
	if c.Telegram.LinkTTL <= 0 {
		c.Telegram.LinkTTL = 30 * time.Minute
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = 10
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	def := services.DefaultResetPolicy()
	if c.Reset.CodeLength == 0 {
		c.Reset.CodeLength = def.CodeLength
	}
	if c.Reset.CodeTTL == 0 {
		c.Reset.CodeTTL = def.CodeTTL
	}
	if c.Reset.MinPasswordLength == 0 {
		c.Reset.MinPasswordLength = def.Password.MinLength
	}
	if c.Reset.AsyncDelivery == nil {
		c.Reset.AsyncDelivery = boolPtr(def.AsyncDelivery)
	}
	if c.Reset.RequireLetter == nil {
		c.Reset.RequireLetter = boolPtr(def.Password.RequireLetter)
	}
	if c.Reset.RequireDigit == nil {
		c.Reset.RequireDigit = boolPtr(def.Password.RequireDigit)
	}

	if c.Throttle.Request.Window == 0 {
		c.Throttle.Request = LimitConfig{Limit: 5, Window: 15 * time.Minute}
	}
	if c.Throttle.Attempt.Window == 0 {
		c.Throttle.Attempt = LimitConfig{Limit: 10, Window: 15 * time.Minute}
	}
	if c.Throttle.IP.Window == 0 {
		c.Throttle.IP = LimitConfig{Limit: 60, Window: time.Minute}
	}
}

func boolPtr(b bool) *bool { return &b }

func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.url (DB_DSN) is required"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret (JWT_SECRET) must be at least 16 characters"))
	}
	if c.Reset.CodeLength < 4 || c.Reset.CodeLength > 18 {
		errs = append(errs, fmt.Errorf("reset.code_length must be between 4 and 18, got %d", c.Reset.CodeLength))
	}
	if c.Reset.CodeTTL < time.Minute {
		errs = append(errs, fmt.Errorf("reset.code_ttl must be at least 1m, got %s", c.Reset.CodeTTL))
	}
	if c.Email.SMTPHost == "" && !c.Email.DryRun && c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("no delivery channel: set email.smtp_host, email.dry_run or TELEGRAM_BOT_TOKEN"))
	}
	if c.Email.SMTPHost != "" && c.Email.FromEmail == "" {
		errs = append(errs, errors.New("email.from_email is required with email.smtp_host"))
	}
	for name, l := range map[string]LimitConfig{"request": c.Throttle.Request, "attempt": c.Throttle.Attempt, "ip": c.Throttle.IP} {
		if l.Limit < 0 || l.Window < 0 {
			errs = append(errs, fmt.Errorf("throttle.%s: limit and window must not be negative", name))
		}
	}
	for _, p := range c.Server.TrustedProxies {
		if !validProxy(p) {
			errs = append(errs, fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", p))
		}
	}
	return errors.Join(errs...)
}

func validProxy(p string) bool {
	if strings.Contains(p, "/") {
		_, _, err := net.ParseCIDR(p)
		return err == nil
	}
	return net.ParseIP(p) != nil
}

// ResetPolicy: неизменяемое значение для services.NewPasswordResetService.
func (c *Config) ResetPolicy() services.ResetPolicy {
	return services.ResetPolicy{
		CodeLength:               c.Reset.CodeLength,
		CodeTTL:                  c.Reset.CodeTTL,
		InvalidatePriorOnReissue: c.Reset.InvalidatePriorOnReissue,
		AsyncDelivery:            c.Reset.AsyncDelivery != nil && *c.Reset.AsyncDelivery,
		Password: services.PasswordPolicy{
			MinLength:     c.Reset.MinPasswordLength,
			RequireLetter: c.Reset.RequireLetter != nil && *c.Reset.RequireLetter,
			RequireDigit:  c.Reset.RequireDigit != nil && *c.Reset.RequireDigit,
		},
	}
}

func (l LimitConfig) Policy() throttle.Policy {
	return throttle.Policy{Limit: l.Limit, Window: l.Window}
}
