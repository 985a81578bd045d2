package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Mpesa    MpesaConfig    `mapstructure:"mpesa"`
	Pesapal  PesapalConfig  `mapstructure:"pesapal"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	WorkerID        int64         `mapstructure:"worker_id"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
	Debug        bool   `mapstructure:"debug"`
}

func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Payments string `mapstructure:"payments"`
	Unlocks  string `mapstructure:"unlocks"`
	Vouchers string `mapstructure:"vouchers"`
	Reports  string `mapstructure:"reports"`
	Wallets  string `mapstructure:"wallets"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type AuthConfig struct {
	Disabled  bool   `mapstructure:"disabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type LedgerConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

type PaymentConfig struct {
	SandboxMock     bool          `mapstructure:"sandbox_mock"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxPollAttempts int           `mapstructure:"max_poll_attempts"`
	Currency        string        `mapstructure:"currency"`
	Retry           RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxTries        uint          `mapstructure:"max_tries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type MpesaConfig struct {
	ConsumerKey    string `mapstructure:"consumer_key"`
	ConsumerSecret string `mapstructure:"consumer_secret"`
	PassKey        string `mapstructure:"pass_key"`
	ShortCode      string `mapstructure:"short_code"`
	CallbackURL    string `mapstructure:"callback_url"`
	Sandbox        bool   `mapstructure:"sandbox"`
	BaseURL        string `mapstructure:"base_url"`
}

type PesapalConfig struct {
	ConsumerKey    string `mapstructure:"consumer_key"`
	ConsumerSecret string `mapstructure:"consumer_secret"`
	NotificationID string `mapstructure:"notification_id"`
	CallbackURL    string `mapstructure:"callback_url"`
	Sandbox        bool   `mapstructure:"sandbox"`
	BaseURL        string `mapstructure:"base_url"`
}

type PricingConfig struct {
	CreditPriceKES    string           `mapstructure:"credit_price_kes"`
	Packages          []PackageConfig  `mapstructure:"packages"`
	UnlockCosts       map[string]int64 `mapstructure:"unlock_costs"`
	DefaultUnlockCost int64            `mapstructure:"default_unlock_cost"`
}

type PackageConfig struct {
	Credits      int64  `mapstructure:"credits"`
	PriceKES     string `mapstructure:"price_kes"`
	PlanTier     string `mapstructure:"plan_tier"`
	BonusCredits int64  `mapstructure:"bonus_credits"`
}

type SweepConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	LeaderLockTTL  time.Duration `mapstructure:"leader_lock_ttl"`
	OutboxInterval time.Duration `mapstructure:"outbox_interval"`
}

type BusinessConfig struct {
	MaxRetryCount int `mapstructure:"max_retry_count"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "credit_wallet")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.auto_migrate", false)
	v.SetDefault("mysql.debug", false)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.payments", "wallet.payments")
	v.SetDefault("kafka.topic.unlocks", "wallet.unlocks")
	v.SetDefault("kafka.topic.vouchers", "wallet.vouchers")
	v.SetDefault("kafka.topic.reports", "wallet.reports")
	v.SetDefault("kafka.topic.wallets", "wallet.wallets")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("ledger.max_retries", 5)
	v.SetDefault("ledger.retry_base_delay", 10*time.Millisecond)

	v.SetDefault("payment.sandbox_mock", false)
	v.SetDefault("payment.poll_interval", 2*time.Second)
	v.SetDefault("payment.max_poll_attempts", 30)
	v.SetDefault("payment.currency", "KES")
	v.SetDefault("payment.retry.max_tries", 3)
	v.SetDefault("payment.retry.initial_interval", 500*time.Millisecond)
	v.SetDefault("payment.retry.max_interval", 5*time.Second)

	v.SetDefault("mpesa.consumer_key", "")
	v.SetDefault("mpesa.consumer_secret", "")
	v.SetDefault("mpesa.pass_key", "")
	v.SetDefault("mpesa.short_code", "")
	v.SetDefault("mpesa.callback_url", "")
	v.SetDefault("mpesa.sandbox", true)
	v.SetDefault("mpesa.base_url", "")

	v.SetDefault("pesapal.consumer_key", "")
	v.SetDefault("pesapal.consumer_secret", "")
	v.SetDefault("pesapal.notification_id", "")
	v.SetDefault("pesapal.callback_url", "")
	v.SetDefault("pesapal.sandbox", true)
	v.SetDefault("pesapal.base_url", "")

	v.SetDefault("pricing.credit_price_kes", "10")
	v.SetDefault("pricing.default_unlock_cost", 5)

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.interval", time.Minute)
	v.SetDefault("sweep.batch_size", 50)
	v.SetDefault("sweep.stale_after", 5*time.Minute)
	v.SetDefault("sweep.leader_lock_ttl", 2*time.Minute)
	v.SetDefault("sweep.outbox_interval", 500*time.Millisecond)

	v.SetDefault("business.max_retry_count", 5)
}

// Load reads the YAML file at path (optional), .env, and WALLET_* env
// overrides, in increasing priority.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WALLET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Payment.MaxPollAttempts <= 0 {
		return errors.New("payment.max_poll_attempts must be positive")
	}
	if c.Ledger.MaxRetries <= 0 {
		return errors.New("ledger.max_retries must be positive")
	}
	if c.Pricing.DefaultUnlockCost <= 0 {
		return errors.New("pricing.default_unlock_cost must be positive")
	}
	for _, p := range c.Pricing.Packages {
		if p.Credits <= 0 {
			return fmt.Errorf("pricing package with non-positive credits: %d", p.Credits)
		}
	}
	if !c.Auth.Disabled && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required unless auth.disabled is set")
	}
	return nil
}
