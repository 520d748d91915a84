package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	JWT       JWTConfig
	Log       LogConfig
	Ledger    LedgerConfig
	Audit     AuditConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// DSN returns a lib/pq keyword/value connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as golang-migrate expects.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	AuditKey string
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	AuditTopic string
}

type JWTConfig struct {
	SecretKey string
	Issuer    string
}

type LogConfig struct {
	Level string
}

// LedgerConfig holds the money policy. Amounts are in minor units.
type LedgerConfig struct {
	Currency               string
	Timezone               string
	DailyLimit             int64
	LargeDepositThreshold  int64
	DepositHoldPeriod      time.Duration
	WithdrawalFeeThreshold int64
	WithdrawalFee          int64
	PaymentFeeThreshold    int64
	PaymentFee             int64
}

// Location resolves Timezone, falling back to UTC.
func (c LedgerConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type AuditConfig struct {
	Sinks                     []string
	QueueSize                 int
	MaxRetries                int
	RetryBackoff              time.Duration
	LargeTransactionThreshold int64
	FailedLoginThreshold      int
	FailedLoginWindow         time.Duration
	MaxDistinctIPs            int
}

type SchedulerConfig struct {
	Enabled        bool
	ReleaseHolds   string
	AccrueInterest string
	Reconcile      string
}

// DefaultLedgerConfig is the policy used when nothing is configured.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Currency:               "USD",
		Timezone:               "UTC",
		DailyLimit:             1_000_000,
		LargeDepositThreshold:  1_000_000,
		DepositHoldPeriod:      72 * time.Hour,
		WithdrawalFeeThreshold: 50_000,
		WithdrawalFee:          250,
		PaymentFeeThreshold:    100_000,
		PaymentFee:             500,
	}
}

// DefaultAuditConfig is the audit setup used when nothing is configured.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Sinks:                     []string{"log"},
		QueueSize:                 1024,
		MaxRetries:                3,
		RetryBackoff:              200 * time.Millisecond,
		LargeTransactionThreshold: 1_000_000,
		FailedLoginThreshold:      3,
		FailedLoginWindow:         time.Hour,
		MaxDistinctIPs:            3,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"https://*", "http://*"})

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "ledgercore")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.audit_key", "audit_events")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.audit_topic", "ledger.audit")

	v.SetDefault("jwt.issuer", "")
	v.SetDefault("log.level", "info")

	l := DefaultLedgerConfig()
	v.SetDefault("ledger.currency", l.Currency)
	v.SetDefault("ledger.timezone", l.Timezone)
	v.SetDefault("ledger.daily_limit", l.DailyLimit)
	v.SetDefault("ledger.large_deposit_threshold", l.LargeDepositThreshold)
	v.SetDefault("ledger.deposit_hold_period", l.DepositHoldPeriod)
	v.SetDefault("ledger.withdrawal_fee_threshold", l.WithdrawalFeeThreshold)
	v.SetDefault("ledger.withdrawal_fee", l.WithdrawalFee)
	v.SetDefault("ledger.payment_fee_threshold", l.PaymentFeeThreshold)
	v.SetDefault("ledger.payment_fee", l.PaymentFee)

	a := DefaultAuditConfig()
	v.SetDefault("audit.sinks", a.Sinks)
	v.SetDefault("audit.queue_size", a.QueueSize)
	v.SetDefault("audit.max_retries", a.MaxRetries)
	v.SetDefault("audit.retry_backoff", a.RetryBackoff)
	v.SetDefault("audit.large_transaction_threshold", a.LargeTransactionThreshold)
	v.SetDefault("audit.failed_login_threshold", a.FailedLoginThreshold)
	v.SetDefault("audit.failed_login_window", a.FailedLoginWindow)
	v.SetDefault("audit.max_distinct_ips", a.MaxDistinctIPs)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.release_holds", "0 */15 * * * *")
	v.SetDefault("scheduler.accrue_interest", "0 5 0 * * *")
	v.SetDefault("scheduler.reconcile", "0 30 2 * * *")
}

var envBindings = map[string]string{
	"server.port":       "PORT",
	"database.host":     "DATABASE_HOST",
	"database.port":     "DATABASE_PORT",
	"database.user":     "DATABASE_USER",
	"database.password": "DATABASE_PASSWORD",
	"database.name":     "DATABASE_NAME",
	"database.ssl_mode": "DATABASE_SSL_MODE",
	"redis.host":        "REDIS_HOST",
	"redis.port":        "REDIS_PORT",
	"redis.password":    "REDIS_PASSWORD",
	"redis.db":          "REDIS_DB",
	"kafka.brokers":     "KAFKA_BROKERS",
	"jwt.secret_key":    "JWT_SECRET_KEY",
	"log.level":         "LOG_LEVEL",
}

// Load reads configFile (if present) and the environment. A missing file is
// not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
		},
		Database: DatabaseConfig{
			Enabled:         v.GetBool("database.enabled"),
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			MigrateOnStart:  v.GetBool("database.migrate_on_start"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			AuditKey: v.GetString("redis.audit_key"),
		},
		Kafka: KafkaConfig{
			Enabled:    v.GetBool("kafka.enabled"),
			Brokers:    v.GetStringSlice("kafka.brokers"),
			AuditTopic: v.GetString("kafka.audit_topic"),
		},
		JWT: JWTConfig{
			SecretKey: v.GetString("jwt.secret_key"),
			Issuer:    v.GetString("jwt.issuer"),
		},
		Log: LogConfig{Level: v.GetString("log.level")},
		Ledger: LedgerConfig{
			Currency:               v.GetString("ledger.currency"),
			Timezone:               v.GetString("ledger.timezone"),
			DailyLimit:             v.GetInt64("ledger.daily_limit"),
			LargeDepositThreshold:  v.GetInt64("ledger.large_deposit_threshold"),
			DepositHoldPeriod:      v.GetDuration("ledger.deposit_hold_period"),
			WithdrawalFeeThreshold: v.GetInt64("ledger.withdrawal_fee_threshold"),
			WithdrawalFee:          v.GetInt64("ledger.withdrawal_fee"),
			PaymentFeeThreshold:    v.GetInt64("ledger.payment_fee_threshold"),
			PaymentFee:             v.GetInt64("ledger.payment_fee"),
		},
		Audit: AuditConfig{
			Sinks:                     v.GetStringSlice("audit.sinks"),
			QueueSize:                 v.GetInt("audit.queue_size"),
			MaxRetries:                v.GetInt("audit.max_retries"),
			RetryBackoff:              v.GetDuration("audit.retry_backoff"),
			LargeTransactionThreshold: v.GetInt64("audit.large_transaction_threshold"),
			FailedLoginThreshold:      v.GetInt("audit.failed_login_threshold"),
			FailedLoginWindow:         v.GetDuration("audit.failed_login_window"),
			MaxDistinctIPs:            v.GetInt("audit.max_distinct_ips"),
		},
		Scheduler: SchedulerConfig{
			Enabled:        v.GetBool("scheduler.enabled"),
			ReleaseHolds:   v.GetString("scheduler.release_holds"),
			AccrueInterest: v.GetString("scheduler.accrue_interest"),
			Reconcile:      v.GetString("scheduler.reconcile"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects policies that would make the ledger misbehave.
func (c *Config) Validate() error {
	l := c.Ledger
	if l.DailyLimit <= 0 {
		return fmt.Errorf("ledger.daily_limit must be positive")
	}
	if l.LargeDepositThreshold <= 0 {
		return fmt.Errorf("ledger.large_deposit_threshold must be positive")
	}
	if l.WithdrawalFee < 0 || l.PaymentFee < 0 {
		return fmt.Errorf("ledger fees must not be negative")
	}
	if len(l.Currency) != 3 {
		return fmt.Errorf("ledger.currency must be a 3-letter code")
	}
	if _, err := time.LoadLocation(l.Timezone); err != nil {
		return fmt.Errorf("ledger.timezone: %w", err)
	}
	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("audit.queue_size must be positive")
	}
	for _, s := range c.Audit.Sinks {
		switch s {
		case "log", "redis", "kafka", "postgres":
		default:
			return fmt.Errorf("audit.sinks: unknown sink %q", s)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, fs.ErrNotExist)
}
