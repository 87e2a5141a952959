package config

import (
	"flag"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	DatabaseURI     string `env:"DATABASE_URI"`
	ProcessorURL    string `env:"PROCESSOR_URL"`
	ProcessorAPIKey string `env:"PROCESSOR_API_KEY"`
	WebhookSecret   string `env:"WEBHOOK_SECRET"`
	SuccessURL      string `env:"CHECKOUT_SUCCESS_URL"`
	CancelURL       string `env:"CHECKOUT_CANCEL_URL"`
	MinTopUp        string `env:"MIN_TOPUP"`
	TopUpTiers      string `env:"TOPUP_DISCOUNT_TIERS"`
	Key             string `env:"COPYDESK_KEY"`

	Logger *zap.SugaredLogger `env:"-"`
}

func NewConfig() (*Config, error) {
	logCfg := zap.NewProductionConfig()
	logCfg.OutputPaths = []string{"stdout", "server.log"}

	logger := zap.Must(logCfg.Build())

	cfg := &Config{}
	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "HTTP server address")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "DB connection string")
	flag.StringVar(&cfg.ProcessorURL, "p", "", "payment processor base URL")
	flag.StringVar(&cfg.MinTopUp, "m", "20", "minimum top-up amount")
	flag.StringVar(&cfg.TopUpTiers, "t", "500:20,200:10", "top-up discount tiers, min:percent pairs")
	flag.Parse()

	cfg.Logger = logger.Sugar()

	if err := ReadServerEnvironment(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func ReadServerEnvironment(cfg *Config) error {
	return env.Parse(cfg)
}

// MinTopUpAmount parses the configured top-up floor; a bad value falls back
// to the 20 currency unit default.
func (c *Config) MinTopUpAmount() decimal.Decimal {
	d, err := decimal.NewFromString(c.MinTopUp)
	if err != nil || d.IsNegative() {
		return decimal.NewFromInt(20)
	}
	return d
}
