// Package config содержит логику чтения конфигурации сервиса проверки платежей.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса проверки платежей.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	GatewayAPIURL       string        `env:"GATEWAY_API_URL"`
	GatewayAuthURL      string        `env:"GATEWAY_AUTH_URL"`
	GatewayClientID     string        `env:"GATEWAY_CLIENT_ID"`
	GatewayClientSecret string        `env:"GATEWAY_CLIENT_SECRET"`
	GatewayAPIKey       string        `env:"GATEWAY_API_KEY"`
	GatewayTimeout      time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"20s"`

	VerifyInterval      time.Duration `env:"VERIFY_INTERVAL" envDefault:"5m"`
	MaxOrdersPerCycle   int           `env:"MAX_ORDERS_PER_CYCLE" envDefault:"20"`
	MaxOrderAge         time.Duration `env:"MAX_ORDER_AGE" envDefault:"2h"`
	StuckOrderThreshold time.Duration `env:"STUCK_ORDER_THRESHOLD" envDefault:"30m"`

	AdminAlertEmail string `env:"ADMIN_ALERT_EMAIL"`
	AdminToken      string `env:"ADMIN_TOKEN"`

	AMQPURL        string `env:"AMQP_URL"`
	NotifyExchange string `env:"NOTIFY_EXCHANGE" envDefault:"marketplace.notifications"`
}

const (
	defaultRunAddress = "localhost:8080"
	defaultAPIURL     = "https://api.sumup.com/v0.1"
	defaultAuthURL    = "https://api.sumup.com"
)

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAPIURL := cfg.GatewayAPIURL
	envAMQPURL := cfg.AMQPURL

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GatewayAPIURL, "g", defaultAPIURL, "payment gateway API base URL")
	flag.StringVar(&cfg.AMQPURL, "q", "", "AMQP broker URL for notifications")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAPIURL != "" {
		cfg.GatewayAPIURL = envAPIURL
	}
	if envAMQPURL != "" {
		cfg.AMQPURL = envAMQPURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.GatewayAuthURL == "" {
		cfg.GatewayAuthURL = defaultAuthURL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxOrdersPerCycle <= 0 {
		return fmt.Errorf("MAX_ORDERS_PER_CYCLE must be positive, got %d", c.MaxOrdersPerCycle)
	}
	if c.MaxOrderAge <= 0 {
		return fmt.Errorf("MAX_ORDER_AGE must be positive, got %s", c.MaxOrderAge)
	}
	if c.StuckOrderThreshold <= 0 || c.StuckOrderThreshold >= c.MaxOrderAge {
		return fmt.Errorf("STUCK_ORDER_THRESHOLD must be in (0, %s), got %s", c.MaxOrderAge, c.StuckOrderThreshold)
	}
	if c.VerifyInterval <= 0 {
		return fmt.Errorf("VERIFY_INTERVAL must be positive, got %s", c.VerifyInterval)
	}
	return nil
}
