package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Booking  BookingConfig
	Outbox   OutboxConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
	RateLimitRPS   int `mapstructure:"rate_limit_rps"`
	RateLimitBurst int `mapstructure:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string `mapstructure:"url"`
	MaxRetries   int    `mapstructure:"max_retries"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type BookingConfig struct {
	// IntervalMinutes is the size of the quantized sub-intervals bookings
	// land on inside a slot.
	IntervalMinutes int `mapstructure:"interval_minutes"`
	// LockTTLSeconds bounds the per-slot admission critical section.
	LockTTLSeconds int `mapstructure:"lock_ttl_seconds"`
	// SweepIntervalSeconds is the cadence of the periodic reconciliation
	// sweep across providers.
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	// Timezone is the clinic-local timezone used for past-slot filtering.
	Timezone string `mapstructure:"timezone"`
	// OccupancyCacheTTLSeconds bounds staleness of the display-only
	// occupancy cache on list reads.
	OccupancyCacheTTLSeconds int `mapstructure:"occupancy_cache_ttl_seconds"`
}

type OutboxConfig struct {
	BatchSize        int `mapstructure:"batch_size"`
	PollIntervalSecs int `mapstructure:"poll_interval_seconds"`
	RetryAttempts    int `mapstructure:"retry_attempts"`
	RetryDelaySecs   int `mapstructure:"retry_delay_seconds"`
}

func (b BookingConfig) Interval() time.Duration {
	if b.IntervalMinutes <= 0 {
		return 40 * time.Minute
	}
	return time.Duration(b.IntervalMinutes) * time.Minute
}

func (b BookingConfig) LockTTL() time.Duration {
	if b.LockTTLSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(b.LockTTLSeconds) * time.Second
}

func (b BookingConfig) SweepInterval() time.Duration {
	if b.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(b.SweepIntervalSeconds) * time.Second
}

func (b BookingConfig) OccupancyCacheTTL() time.Duration {
	if b.OccupancyCacheTTLSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(b.OccupancyCacheTTLSeconds) * time.Second
}

func (b BookingConfig) Location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(b.Timezone)
}

func (o OutboxConfig) PollInterval() time.Duration {
	if o.PollIntervalSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(o.PollIntervalSecs) * time.Second
}

func (o OutboxConfig) RetryDelay() time.Duration {
	if o.RetryDelaySecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(o.RetryDelaySecs) * time.Second
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
