package main

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration. Values come from the YAML file first,
// then environment variables override.
type Config struct {
	ChatFeedURL string `yaml:"chat_feed_url" env:"BIOMA_CHAT_FEED_URL"`
	CallFeedURL string `yaml:"call_feed_url" env:"BIOMA_CALL_FEED_URL"`
	BackendURL  string `yaml:"backend_url" env:"BIOMA_BACKEND_URL"`

	UserID   int64  `yaml:"user_id" env:"BIOMA_USER_ID"`
	UserName string `yaml:"user_name" env:"BIOMA_USER_NAME"`

	// CacheFile enables the on-disk message cache. Empty keeps messages in
	// memory only.
	CacheFile string `yaml:"cache_file" env:"BIOMA_CACHE_FILE"`

	ReconnectDelay    time.Duration `yaml:"reconnect_delay" env:"BIOMA_RECONNECT_DELAY"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"BIOMA_HEARTBEAT_INTERVAL"`
	CallAnswerTimeout time.Duration `yaml:"call_answer_timeout" env:"BIOMA_CALL_ANSWER_TIMEOUT"`
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Wrap(err, "parse config file")
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	if cfg.ChatFeedURL == "" {
		return Config{}, errors.New("chat feed URL is not configured")
	}
	if cfg.CallFeedURL == "" {
		return Config{}, errors.New("call feed URL is not configured")
	}
	if cfg.BackendURL == "" {
		return Config{}, errors.New("backend URL is not configured")
	}
	if cfg.UserID == 0 {
		return Config{}, errors.New("user id is not configured")
	}
	return cfg, nil
}
