package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port   string `yaml:"port"`
		WSPath string `yaml:"ws_path"`
	} `yaml:"server"`
	Transport struct {
		// Kind selects the broker: memory, redis, nats or ws.
		Kind                 string `yaml:"kind"`
		URL                  string `yaml:"url"`
		Token                string `yaml:"token"`
		ReconnectDelay       string `yaml:"reconnect_delay"`
		MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
		QueueSize            int    `yaml:"queue_size"`
	} `yaml:"transport"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	NATS struct {
		URL            string `yaml:"url"`
		Name           string `yaml:"name"`
		ConnectTimeout string `yaml:"connect_timeout"`
	} `yaml:"nats"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	API struct {
		BaseURL    string `yaml:"base_url"`
		Token      string `yaml:"token"`
		Timeout    string `yaml:"timeout"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"api"`
	Timing struct {
		Settle           string `yaml:"settle"`
		Advance          string `yaml:"advance"`
		BarrierFallback  string `yaml:"barrier_fallback"`
		QuestionFallback string `yaml:"question_fallback"`
		Heartbeat        string `yaml:"heartbeat"`
		DefaultTimeLimit string `yaml:"default_time_limit"`
	} `yaml:"timing"`
	Backend struct {
		Enabled     bool              `yaml:"enabled"`
		Stages      int               `yaml:"stages"`
		StageDelay  string            `yaml:"stage_delay"`
		DefaultBank string            `yaml:"default_bank"`
		Banks       map[string]string `yaml:"banks"`
		DedupWindow string            `yaml:"dedup_window"`
	} `yaml:"backend"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Default is the configuration used when no file is present: an in-process
// broker with the backend simulator enabled.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Server.WSPath = "/ws"
	cfg.Transport.Kind = "memory"
	cfg.Backend.Enabled = true
	cfg.Log.Level = "info"
	return cfg
}

// Load reads YAML config from path on top of Default, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

// FromEnv is Default with environment overrides, for runs without a file.
func FromEnv() Config {
	cfg := Default()
	applyEnv(&cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Transport.Kind, "QUIZ_TRANSPORT")
	set(&cfg.Transport.URL, "QUIZ_TRANSPORT_URL")
	set(&cfg.Transport.Token, "QUIZ_TOKEN")
	set(&cfg.Redis.Addr, "REDIS_ADDR")
	set(&cfg.NATS.URL, "NATS_URL")
	set(&cfg.Postgres.URL, "DATABASE_URL")
	set(&cfg.API.BaseURL, "QUIZ_API_URL")
	set(&cfg.API.Token, "QUIZ_TOKEN")
	set(&cfg.Log.Level, "LOG_LEVEL")
	if v, err := strconv.ParseBool(os.Getenv("LOG_PRETTY")); err == nil {
		cfg.Log.Pretty = v
	}
}

// Duration parses a duration string or returns the fallback if empty.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
