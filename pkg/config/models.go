package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Judge0    Judge0Config
	AI        AIConfig
}

type ServerConfig struct {
	Address         string
	AllowedOrigins  []string              `mapstructure:"allowedOrigins"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type ConnectionLimitConfig struct {
	MaxPerIP int    `mapstructure:"maxPerIP"`
	Mode     string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type Judge0Config struct {
	BaseURL         string        `mapstructure:"baseURL"`
	APIKey          string        `mapstructure:"apiKey"`
	PollInterval    time.Duration `mapstructure:"pollInterval"`
	MaxPollAttempts int           `mapstructure:"maxPollAttempts"`
}

type AIConfig struct {
	BaseURL string        `mapstructure:"baseURL"`
	APIKey  string        `mapstructure:"apiKey"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}
