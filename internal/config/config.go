package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env               string        `mapstructure:"ENV"`
	Port              string        `mapstructure:"PORT"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	AdminKey          string        `mapstructure:"ADMIN_KEY"`
	SMSGatewayURL     string        `mapstructure:"SMS_GATEWAY_URL"`
	SMSAPIKey         string        `mapstructure:"SMS_API_KEY"`
	SMSSenderID       string        `mapstructure:"SMS_SENDER_ID"`
	NotifyTimeout     time.Duration `mapstructure:"NOTIFY_TIMEOUT"`
	CORSAllowed       string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	RedisAddr         string        `mapstructure:"REDIS_ADDR"`
	AutoAssignEvery   time.Duration `mapstructure:"AUTO_ASSIGN_INTERVAL"`
	DuplicateEvery    time.Duration `mapstructure:"DUPLICATE_SWEEP_INTERVAL"`
	ClassifyEvery     time.Duration `mapstructure:"CLASSIFY_SWEEP_INTERVAL"`
	PassDeadline      time.Duration `mapstructure:"PASS_DEADLINE"`
	DuplicateLookback time.Duration `mapstructure:"DUPLICATE_LOOKBACK"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("SMS_SENDER_ID", "EcoManager")
	v.SetDefault("NOTIFY_TIMEOUT", "3s")
	v.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("AUTO_ASSIGN_INTERVAL", "10m")
	v.SetDefault("DUPLICATE_SWEEP_INTERVAL", "1h")
	v.SetDefault("CLASSIFY_SWEEP_INTERVAL", "24h")
	v.SetDefault("PASS_DEADLINE", "5m")
	v.SetDefault("DUPLICATE_LOOKBACK", "168h")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
