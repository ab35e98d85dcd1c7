package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config is the daemon configuration file.
	Config struct {
		// UserID scopes stored state and notification streams.
		UserID string `yaml:"user_id"`
		// Timezone is an IANA name used for quiet hours and rule windows.
		// Empty uses the host zone.
		Timezone string `yaml:"timezone"`
		// HealthAddr serves /livez when set, e.g. ":8081".
		HealthAddr string         `yaml:"health_addr"`
		User       UserConfig     `yaml:"user"`
		Engine     EngineConfig   `yaml:"engine"`
		Redis      RedisConfig    `yaml:"redis"`
		Store      StoreConfig    `yaml:"store"`
		Model      ModelConfig    `yaml:"model"`
		Notify     NotifyConfig   `yaml:"notify"`
		Schedule   ScheduleConfig `yaml:"schedule"`
		// Catalog is an optional rule file; the built-in catalog is used
		// otherwise.
		Catalog string `yaml:"catalog"`
		// Signals is an optional static signals file, reloaded when it
		// changes.
		Signals string `yaml:"signals"`
	}

	UserConfig struct {
		Name        string `yaml:"name"`
		Preferences string `yaml:"preferences"`
	}

	EngineConfig struct {
		TickInterval    time.Duration `yaml:"tick_interval"`
		GlobalMaxPerDay int           `yaml:"global_max_per_day"`
		CheckInTTL      time.Duration `yaml:"checkin_ttl"`
		SnoozeBuffer    time.Duration `yaml:"snooze_buffer"`
	}

	RedisConfig struct {
		URL string `yaml:"url"`
	}

	StoreConfig struct {
		// Backend is memory, sqlite, redis or mongo.
		Backend       string `yaml:"backend"`
		Path          string `yaml:"path"`
		MongoURI      string `yaml:"mongo_uri"`
		MongoDatabase string `yaml:"mongo_database"`
	}

	ModelConfig struct {
		// Provider is none, anthropic, openai or bedrock.
		Provider  string        `yaml:"provider"`
		Model     string        `yaml:"model"`
		APIKey    string        `yaml:"api_key"`
		Region    string        `yaml:"region"`
		Timeout   time.Duration `yaml:"timeout"`
		MaxTokens int           `yaml:"max_tokens"`
		// TokensPerMinute seeds the adaptive limiter; MaxTokensPerMinute
		// caps it. The budget is shared through Redis when a URL is set.
		TokensPerMinute    float64 `yaml:"tokens_per_minute"`
		MaxTokensPerMinute float64 `yaml:"max_tokens_per_minute"`
	}

	NotifyConfig struct {
		// Backend is log or pulse.
		Backend      string `yaml:"backend"`
		StreamMaxLen int    `yaml:"stream_max_len"`
	}

	ScheduleConfig struct {
		// Backend is none or temporal.
		Backend   string `yaml:"backend"`
		HostPort  string `yaml:"host_port"`
		Namespace string `yaml:"namespace"`
		TaskQueue string `yaml:"task_queue"`
	}
)

// defaultConfig is the configuration used when no file is given.
func defaultConfig() Config {
	return Config{
		UserID:   "default",
		Store:    StoreConfig{Backend: "memory", MongoDatabase: "checkin"},
		Model:    ModelConfig{Provider: "none", TokensPerMinute: 20000, MaxTokensPerMinute: 60000},
		Notify:   NotifyConfig{Backend: "log", StreamMaxLen: 1000},
		Schedule: ScheduleConfig{Backend: "none", HostPort: "localhost:7233", Namespace: "default", TaskQueue: "checkin"},
	}
}

// loadConfig reads path over the defaults, applies environment overrides
// and validates the result. An empty path skips the file.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.UserID, "CHECKIN_USER_ID")
	set(&c.Timezone, "CHECKIN_TIMEZONE")
	set(&c.HealthAddr, "CHECKIN_HEALTH_ADDR")
	set(&c.Redis.URL, "CHECKIN_REDIS_URL")
	set(&c.Store.Backend, "CHECKIN_STORE")
	set(&c.Store.Path, "CHECKIN_STORE_PATH")
	set(&c.Store.MongoURI, "CHECKIN_MONGO_URI")
	set(&c.Model.Provider, "CHECKIN_MODEL_PROVIDER")
	set(&c.Model.Model, "CHECKIN_MODEL")
	set(&c.Notify.Backend, "CHECKIN_NOTIFY")
	set(&c.Schedule.Backend, "CHECKIN_SCHEDULE")
	set(&c.Schedule.HostPort, "CHECKIN_TEMPORAL_HOSTPORT")
	set(&c.Catalog, "CHECKIN_CATALOG")
	set(&c.Signals, "CHECKIN_SIGNALS")
	if v := getenv("CHECKIN_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CHECKIN_TICK_INTERVAL: %w", err)
		}
		c.Engine.TickInterval = d
	}
	if v := getenv("CHECKIN_MAX_PER_DAY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHECKIN_MAX_PER_DAY: %w", err)
		}
		c.Engine.GlobalMaxPerDay = n
	}
	if c.Model.APIKey == "" {
		switch c.Model.Provider {
		case "anthropic":
			c.Model.APIKey = getenv("ANTHROPIC_API_KEY")
		case "openai":
			c.Model.APIKey = getenv("OPENAI_API_KEY")
		}
	}
	if c.Model.Provider == "bedrock" && c.Model.Region == "" {
		c.Model.Region = getenv("AWS_REGION")
	}
	return nil
}

func (c Config) validate() error {
	var errs []error
	if c.UserID == "" {
		errs = append(errs, errors.New("user_id is required"))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis store"))
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("store.mongo_uri is required for mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	switch c.Model.Provider {
	case "none":
	case "anthropic", "openai":
		if c.Model.APIKey == "" {
			errs = append(errs, fmt.Errorf("an API key is required for %s", c.Model.Provider))
		}
		if c.Model.Model == "" {
			errs = append(errs, fmt.Errorf("model.model is required for %s", c.Model.Provider))
		}
	case "bedrock":
		if c.Model.Region == "" {
			errs = append(errs, errors.New("model.region is required for bedrock"))
		}
		if c.Model.Model == "" {
			errs = append(errs, errors.New("model.model is required for bedrock"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown model provider %q", c.Model.Provider))
	}
	switch c.Notify.Backend {
	case "log":
	case "pulse":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for pulse notifications"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify backend %q", c.Notify.Backend))
	}
	switch c.Schedule.Backend {
	case "none":
	case "temporal":
		if c.Schedule.HostPort == "" || c.Schedule.TaskQueue == "" {
			errs = append(errs, errors.New("schedule.host_port and schedule.task_queue are required for temporal"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown schedule backend %q", c.Schedule.Backend))
	}
	if c.Engine.GlobalMaxPerDay < 0 {
		errs = append(errs, errors.New("engine.global_max_per_day must not be negative"))
	}
	return errors.Join(errs...)
}

// location resolves the configured zone.
func (c Config) location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
