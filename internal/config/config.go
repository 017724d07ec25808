package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	RelayURL string `mapstructure:"relay_url"`
	AuthURL  string `mapstructure:"auth_url"`

	STUNServers []string `mapstructure:"stun_servers"`

	// Signaling transport knobs.
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffCap   int           `mapstructure:"backoff_cap"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	QueueBytes   int           `mapstructure:"queue_bytes"`

	// Negotiation timing. The settle delay keeps the initiator from
	// offering before the responder has registered the peer; there is no
	// readiness signal on the wire to replace it with.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`

	ChatLabel string `mapstructure:"chat_label"`

	// Dev relay only.
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("relay_url", "ws://localhost:8080/ws/signal")
	v.SetDefault("auth_url", "http://localhost:8080")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("dial_timeout", "10s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("backoff_base", "2s")
	v.SetDefault("backoff_cap", 5)
	v.SetDefault("max_attempts", 5)
	v.SetDefault("queue_bytes", 262144)
	v.SetDefault("settle_delay", "2s")
	v.SetDefault("retry_delay", "3s")
	v.SetDefault("chat_label", "chat")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "dev-secret")
}
