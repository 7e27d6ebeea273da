package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Discord     DiscordConfig
	Review      ReviewConfig
	Reconcile   ReconcileConfig
	Router      RouterConfig
	Idempotency IdempotencyConfig
	Telemetry   TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	Path            string // sqlite file path
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds settings for validating staff tokens
type JWTConfig struct {
	Secret    string
	Issuer    string
	StaffRole string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	TrustedProxies []string
	MaxBodyBytes   int64
	// RateLimit is requests per RateWindow per staff member; 0 disables limiting
	RateLimit  int
	RateWindow time.Duration
}

// DiscordConfig holds the chat platform binding.
// Missing values are fatal at startup, see Validate.
type DiscordConfig struct {
	Token                string `validate:"required"`
	GuildID              string `validate:"required"`
	ApprovalChannelID    string `validate:"required"`
	VoteChannelID        string `validate:"required"`
	DiscussionCategoryID string `validate:"required"`
	ServerOwnerRoleID    string `validate:"required"`
	InviteBaseURL        string `validate:"required,url"`
}

// ReviewConfig holds the vote thresholds
type ReviewConfig struct {
	ApprovalThreshold      int
	DenyFloor              int
	ContestMinApprovals    int
	ContestMinDenies       int
	SupermajorityRatio     decimal.Decimal
	Quorum                 int
	EarlyApprovalThreshold int
	ReviewWindow           time.Duration
	InviteMaxUses          int
}

// ReconcileConfig holds the periodic resync settings
type ReconcileConfig struct {
	Enabled     bool
	Interval    time.Duration
	RunOnStart  bool
	PassTimeout time.Duration
	CallTimeout time.Duration
	// RetryWindow is how far back decided applications are rescanned for unfinished side effects
	RetryWindow time.Duration
}

// RouterConfig holds gateway event routing settings
type RouterConfig struct {
	Debounce       time.Duration
	HandlerTimeout time.Duration
}

// IdempotencyConfig holds settings for the side effect de-duplication store
type IdempotencyConfig struct {
	Backend string // memory or redis
	TTL     time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
	LogExportEnabled  bool
	DBTraceEnabled    bool
	DBLogFullSQL      bool // dev only
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with HOTLINE_ prefix (e.g., HOTLINE_DISCORD_TOKEN)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("HOTLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	ratio := decimal.Zero
	if raw := v.GetString("review.supermajority_ratio"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("review.supermajority_ratio: %w", err)
		}
		ratio = parsed
	}

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			Path:            v.GetString("database.path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:    v.GetString("jwt.secret"),
			Issuer:    v.GetString("jwt.issuer"),
			StaffRole: v.GetString("jwt.staff_role"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
			MaxBodyBytes:   v.GetInt64("http.max_body_bytes"),
			RateLimit:      v.GetInt("http.rate_limit"),
			RateWindow:     v.GetDuration("http.rate_window"),
		},
		Discord: DiscordConfig{
			Token:                v.GetString("discord.token"),
			GuildID:              v.GetString("discord.guild_id"),
			ApprovalChannelID:    v.GetString("discord.approval_channel_id"),
			VoteChannelID:        v.GetString("discord.vote_channel_id"),
			DiscussionCategoryID: v.GetString("discord.discussion_category_id"),
			ServerOwnerRoleID:    v.GetString("discord.server_owner_role_id"),
			InviteBaseURL:        v.GetString("discord.invite_base_url"),
		},
		Review: ReviewConfig{
			ApprovalThreshold:      v.GetInt("review.approval_threshold"),
			DenyFloor:              v.GetInt("review.deny_floor"),
			ContestMinApprovals:    v.GetInt("review.contest_min_approvals"),
			ContestMinDenies:       v.GetInt("review.contest_min_denies"),
			SupermajorityRatio:     ratio,
			Quorum:                 v.GetInt("review.quorum"),
			EarlyApprovalThreshold: v.GetInt("review.early_approval_threshold"),
			ReviewWindow:           v.GetDuration("review.window"),
			InviteMaxUses:          v.GetInt("review.invite_max_uses"),
		},
		Reconcile: ReconcileConfig{
			Enabled:     !v.IsSet("reconcile.enabled") || v.GetBool("reconcile.enabled"),
			Interval:    v.GetDuration("reconcile.interval"),
			RunOnStart:  !v.IsSet("reconcile.run_on_start") || v.GetBool("reconcile.run_on_start"),
			PassTimeout: v.GetDuration("reconcile.pass_timeout"),
			CallTimeout: v.GetDuration("reconcile.call_timeout"),
			RetryWindow: v.GetDuration("reconcile.retry_window"),
		},
		Router: RouterConfig{
			Debounce:       v.GetDuration("router.debounce"),
			HandlerTimeout: v.GetDuration("router.handler_timeout"),
		},
		Idempotency: IdempotencyConfig{
			Backend: v.GetString("idempotency.backend"),
			TTL:     v.GetDuration("idempotency.ttl"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			LogExportEnabled:  v.GetBool("telemetry.log_export_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
		},
	}

	applyDefaults(cfg)
	// 0 is a meaningful value here (disables early approval), so only default when unset
	if !v.IsSet("review.early_approval_threshold") {
		cfg.Review.EarlyApprovalThreshold = 20
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "hotline-admissions"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "hotline"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "hotline.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "hotline-admissions"
	}
	if cfg.JWT.StaffRole == "" {
		cfg.JWT.StaffRole = "staff"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodyBytes == 0 {
		cfg.HTTP.MaxBodyBytes = 64 << 10
	}
	if cfg.HTTP.RateWindow == 0 {
		cfg.HTTP.RateWindow = time.Minute
	}
	if cfg.Discord.InviteBaseURL == "" {
		cfg.Discord.InviteBaseURL = "https://apply.hotline.gg/"
	}
	if cfg.Review.ApprovalThreshold == 0 {
		cfg.Review.ApprovalThreshold = 10
	}
	if cfg.Review.DenyFloor == 0 {
		cfg.Review.DenyFloor = 5
	}
	if cfg.Review.ContestMinApprovals == 0 {
		cfg.Review.ContestMinApprovals = 3
	}
	if cfg.Review.ContestMinDenies == 0 {
		cfg.Review.ContestMinDenies = 3
	}
	if cfg.Review.SupermajorityRatio.IsZero() {
		cfg.Review.SupermajorityRatio = decimal.NewFromInt(3)
	}
	if cfg.Review.Quorum == 0 {
		cfg.Review.Quorum = 11
	}
	if cfg.Review.ReviewWindow == 0 {
		cfg.Review.ReviewWindow = 72 * time.Hour
	}
	if cfg.Review.InviteMaxUses == 0 {
		cfg.Review.InviteMaxUses = 5
	}
	if cfg.Reconcile.Interval == 0 {
		cfg.Reconcile.Interval = 15 * time.Minute
	}
	if cfg.Reconcile.PassTimeout == 0 {
		cfg.Reconcile.PassTimeout = 10 * time.Minute
	}
	if cfg.Reconcile.CallTimeout == 0 {
		cfg.Reconcile.CallTimeout = 10 * time.Second
	}
	if cfg.Reconcile.RetryWindow == 0 {
		cfg.Reconcile.RetryWindow = 7 * 24 * time.Hour
	}
	if cfg.Router.Debounce == 0 {
		cfg.Router.Debounce = 5 * time.Second
	}
	if cfg.Router.HandlerTimeout == 0 {
		cfg.Router.HandlerTimeout = time.Minute
	}
	if cfg.Idempotency.Backend == "" {
		if cfg.Redis.Enabled {
			cfg.Idempotency.Backend = "redis"
		} else {
			cfg.Idempotency.Backend = "memory"
		}
	}
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = 30 * 24 * time.Hour
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "hotline-admissions"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if !c.Review.SupermajorityRatio.IsPositive() {
		return fmt.Errorf("review.supermajority_ratio must be positive")
	}
	if c.Review.EarlyApprovalThreshold < 0 {
		return fmt.Errorf("review.early_approval_threshold cannot be negative")
	}
	if c.Reconcile.CallTimeout > c.Reconcile.PassTimeout {
		return fmt.Errorf("reconcile.call_timeout (%s) cannot exceed reconcile.pass_timeout (%s)",
			c.Reconcile.CallTimeout, c.Reconcile.PassTimeout)
	}
	switch c.Idempotency.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("idempotency.backend=redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("idempotency.backend must be memory or redis, got %q", c.Idempotency.Backend)
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Driver == "postgres" && c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// Validate checks that every chat platform setting is present.
// The review subsystem cannot run without them.
func (d *DiscordConfig) Validate() error {
	err := validator.New().Struct(d)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return shared.ErrConfigurationMissing.Wrap(err)
	}
	missing := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		missing = append(missing, "discord."+toSnake(fe.Field()))
	}
	return shared.ErrConfigurationMissing.WithMessage("missing or invalid settings: " + strings.Join(missing, ", "))
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the Redis host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
