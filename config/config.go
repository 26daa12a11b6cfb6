package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type OllamaConfig struct {
	URL            string `yaml:"url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	PromptFile     string `yaml:"prompt_file"`
}

type ExpoConfig struct {
	AccessToken string `yaml:"access_token"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// ParserConfig tunes the extraction loop. The two confidence thresholds
// are deliberately distinct: MinConfidence gates whether a regex result is
// usable at all, EscalateBelow gates whether it is trusted without the LLM.
type ParserConfig struct {
	MinConfidence     float64 `yaml:"min_confidence"`
	EscalateBelow     float64 `yaml:"escalate_below"`
	MaxRetries        int     `yaml:"max_retries"`
	IdleWaitSeconds   int     `yaml:"idle_wait_seconds"`
	BatchPauseSeconds int     `yaml:"batch_pause_seconds"`
	RetryDelaySeconds int     `yaml:"retry_delay_seconds"`
}

// WorkerConfig tunes the reminder worker's batch cadence.
type WorkerConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

type Config struct {
	DB     DBConfig     `yaml:"db"`
	Redis  RedisConfig  `yaml:"redis"`
	Ollama OllamaConfig `yaml:"ollama"`
	Expo   ExpoConfig   `yaml:"expo"`
	Google GoogleConfig `yaml:"google"`
	Parser ParserConfig `yaml:"parser"`
	Worker WorkerConfig `yaml:"worker"`
}

func Load() *Config {
	f, err := os.Open("config.yaml")
	if err != nil {
		log.Fatalf("failed to open config.yaml: %v", err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config.yaml: %v", err)
	}

	applyDefaults(&cfg)
	overrideFromEnv(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Ollama.URL == "" {
		cfg.Ollama.URL = "http://localhost:11434"
	}
	if cfg.Ollama.Model == "" {
		cfg.Ollama.Model = "llama3.1:8b"
	}
	if cfg.Ollama.TimeoutSeconds == 0 {
		cfg.Ollama.TimeoutSeconds = 30
	}
	if cfg.Parser.MinConfidence == 0 {
		cfg.Parser.MinConfidence = 0.4
	}
	if cfg.Parser.EscalateBelow == 0 {
		cfg.Parser.EscalateBelow = 0.7
	}
	if cfg.Parser.MaxRetries == 0 {
		cfg.Parser.MaxRetries = 3
	}
	if cfg.Parser.IdleWaitSeconds == 0 {
		cfg.Parser.IdleWaitSeconds = 10
	}
	if cfg.Parser.BatchPauseSeconds == 0 {
		cfg.Parser.BatchPauseSeconds = 5
	}
	if cfg.Parser.RetryDelaySeconds == 0 {
		cfg.Parser.RetryDelaySeconds = 1
	}
	if cfg.Worker.PollIntervalSeconds == 0 {
		cfg.Worker.PollIntervalSeconds = 10
	}
}

func overrideFromEnv(cfg *Config) {
	// DB配置
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	// Redis配置
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	// Ollama配置
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		cfg.Ollama.URL = url
	}
	if m := os.Getenv("OLLAMA_MODEL"); m != "" {
		cfg.Ollama.Model = m
	}

	// Worker配置
	if interval := os.Getenv("WORKER_POLL_INTERVAL"); interval != "" {
		if v, err := strconv.Atoi(interval); err == nil {
			cfg.Worker.PollIntervalSeconds = v
		}
	}

	// Provider credentials
	if token := os.Getenv("EXPO_ACCESS_TOKEN"); token != "" {
		cfg.Expo.AccessToken = token
	}
	if id := os.Getenv("GOOGLE_CLIENT_ID"); id != "" {
		cfg.Google.ClientID = id
	}
	if secret := os.Getenv("GOOGLE_CLIENT_SECRET"); secret != "" {
		cfg.Google.ClientSecret = secret
	}
}

// OllamaTimeout returns the configured request timeout as a duration.
func (c *Config) OllamaTimeout() time.Duration {
	return time.Duration(c.Ollama.TimeoutSeconds) * time.Second
}
