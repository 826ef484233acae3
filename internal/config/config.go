package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Log      LogConfig
	Auth     AuthConfig
	Catalog  CatalogConfig
	Booking  BookingConfig
	Sweeper  SweeperConfig
}

type ServerConfig struct {
	Host string `validate:"required"`
	Port int    `validate:"gt=0,lte=65535"`

	// RateLimit is the number of booking initiations a user may start per
	// minute. Zero disables the limiter.
	RateLimit      int           `validate:"gte=0"`
	IdempotencyTTL time.Duration `validate:"gt=0"`
}

type RedisConfig struct {
	Addr     string `validate:"required"`
	Password string
	DB       int `validate:"gte=0"`
}

type PostgresConfig struct {
	User     string `validate:"required"`
	Password string `validate:"required"`
	Name     string `validate:"required"`
	Host     string `validate:"required"`
	Port     int    `validate:"gt=0"`
	SSLMode  string `validate:"required"`
	MaxConns int32  `validate:"gte=0"`
}

// RabbitMQConfig is optional. With an empty URL seat confirmation failures
// are only logged.
type RabbitMQConfig struct {
	URL         string
	MaxAttempts int           `validate:"gt=0"`
	RetryDelay  time.Duration `validate:"gte=0"`
}

type LogConfig struct {
	Debug bool
	Path  string
}

// AuthConfig enables bearer token identity when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string
}

// CatalogConfig points the booking saga at a remote seat service. An empty
// URL uses the in-process ledger.
type CatalogConfig struct {
	URL string `validate:"omitempty,url"`
}

type BookingConfig struct {
	LockDuration          time.Duration `validate:"gt=0"`
	LockRetryAttempts     int           `validate:"gt=0"`
	LockRetryDelay        time.Duration `validate:"gte=0"`
	LockOpTimeout         time.Duration `validate:"gt=0"`
	ConvenienceFeePercent float64       `validate:"gte=0"`
	TaxPercent            float64       `validate:"gte=0"`
	CatalogTimeout        time.Duration `validate:"gt=0"`
	PaymentTimeout        time.Duration `validate:"gt=0"`
	PaymentLatency        time.Duration `validate:"gte=0"`
}

type SweeperConfig struct {
	Interval  time.Duration `validate:"gt=0"`
	BatchSize int           `validate:"gt=0"`

	// StallTimeout is how long a payment or cancellation may sit claimed
	// before the sweepers take the booking over.
	StallTimeout time.Duration `validate:"gt=0"`
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetInt("SERVER_PORT"),

			RateLimit:      v.GetInt("SERVER_RATE_LIMIT"),
			IdempotencyTTL: v.GetDuration("SERVER_IDEMPOTENCY_TTL"),
		},
		Postgres: PostgresConfig{
			User:     v.GetString("POSTGRES_USER"),
			Password: v.GetString("POSTGRES_PASSWORD"),
			Name:     v.GetString("POSTGRES_DB"),
			Host:     v.GetString("POSTGRES_HOST"),
			Port:     v.GetInt("POSTGRES_PORT"),
			SSLMode:  v.GetString("POSTGRES_SSLMODE"),
			MaxConns: v.GetInt32("POSTGRES_MAX_CONNS"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:         v.GetString("RABBITMQ_URL"),
			MaxAttempts: v.GetInt("RABBITMQ_MAX_ATTEMPTS"),
			RetryDelay:  v.GetDuration("RABBITMQ_RETRY_DELAY"),
		},
		Log: LogConfig{
			Debug: v.GetBool("LOG_DEBUG"),
			Path:  v.GetString("LOG_PATH"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("JWT_SECRET"),
		},
		Catalog: CatalogConfig{
			URL: v.GetString("CATALOG_URL"),
		},
		Booking: BookingConfig{
			LockDuration:          time.Duration(v.GetInt("BOOKING_LOCK_DURATION_SECONDS")) * time.Second,
			LockRetryAttempts:     v.GetInt("BOOKING_LOCK_RETRY_ATTEMPTS"),
			LockRetryDelay:        time.Duration(v.GetInt("BOOKING_LOCK_RETRY_DELAY_MS")) * time.Millisecond,
			LockOpTimeout:         v.GetDuration("BOOKING_LOCK_OP_TIMEOUT"),
			ConvenienceFeePercent: v.GetFloat64("BOOKING_CONVENIENCE_FEE_PERCENT"),
			TaxPercent:            v.GetFloat64("BOOKING_TAX_PERCENT"),
			CatalogTimeout:        v.GetDuration("BOOKING_CATALOG_TIMEOUT"),
			PaymentTimeout:        v.GetDuration("BOOKING_PAYMENT_TIMEOUT"),
			PaymentLatency:        v.GetDuration("BOOKING_PAYMENT_LATENCY"),
		},
		Sweeper: SweeperConfig{
			Interval:     v.GetDuration("SWEEPER_INTERVAL"),
			BatchSize:    v.GetInt("SWEEPER_BATCH_SIZE"),
			StallTimeout: v.GetDuration("SWEEPER_STALL_TIMEOUT"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return cfg, nil
}

// DSN builds the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_HOST", "localhost")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_RATE_LIMIT", 20)
	v.SetDefault("SERVER_IDEMPOTENCY_TTL", "2h")

	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_SSLMODE", "disable")
	v.SetDefault("POSTGRES_MAX_CONNS", 0)

	v.SetDefault("REDIS_ADDR", "localhost:6380")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("RABBITMQ_MAX_ATTEMPTS", 5)
	v.SetDefault("RABBITMQ_RETRY_DELAY", "5s")

	v.SetDefault("LOG_DEBUG", false)
	v.SetDefault("LOG_PATH", "logs/")

	v.SetDefault("BOOKING_LOCK_DURATION_SECONDS", 300)
	v.SetDefault("BOOKING_LOCK_RETRY_ATTEMPTS", 3)
	v.SetDefault("BOOKING_LOCK_RETRY_DELAY_MS", 100)
	v.SetDefault("BOOKING_LOCK_OP_TIMEOUT", "500ms")
	v.SetDefault("BOOKING_CONVENIENCE_FEE_PERCENT", 2.0)
	v.SetDefault("BOOKING_TAX_PERCENT", 18.0)
	v.SetDefault("BOOKING_CATALOG_TIMEOUT", "3s")
	v.SetDefault("BOOKING_PAYMENT_TIMEOUT", "10s")
	v.SetDefault("BOOKING_PAYMENT_LATENCY", "1s")

	v.SetDefault("SWEEPER_INTERVAL", "60s")
	v.SetDefault("SWEEPER_BATCH_SIZE", 200)
	v.SetDefault("SWEEPER_STALL_TIMEOUT", "2m")
}
