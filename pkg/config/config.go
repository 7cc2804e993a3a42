package config

import (
	"log"
	"os"
	"time"

	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/utils"
	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string     `yaml:"env" env:"ENV" env-default:"local"`
	Postgres   PG         `yaml:"postgres"`
	Kafka      Kafka      `yaml:"kafka"`
	Redis      Redis      `yaml:"redis"`
	SMTP       SMTP       `yaml:"smtp"`
	Push       Push       `yaml:"push"`
	Dispatcher Dispatcher `yaml:"dispatcher"`
	Metrics    Metrics    `yaml:"metrics"`
}

type PG struct {
	URL      string `yaml:"url" env:"DB_URL"`
	MaxConns int32  `yaml:"max_conns" env-default:"10"`
	MinConns int32  `yaml:"min_conns" env-default:"2"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"notifier-group"`
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
}

type SMTP struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	From     string `yaml:"from" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
}

type Push struct {
	ProviderURL string        `yaml:"provider_url" env:"PUSH_PROVIDER_URL"`
	APIKey      string        `yaml:"api_key" env:"PUSH_API_KEY"`
	Timeout     time.Duration `yaml:"timeout" env-default:"5s"`
}

// Dispatcher carries the retry policy. The backoff curve and maximum attempt
// count are deliberately configuration, not constants.
type Dispatcher struct {
	PollInterval  time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL" env-default:"2s"`
	BatchSize     int           `yaml:"batch_size" env-default:"50"`
	Concurrency   int           `yaml:"concurrency" env-default:"8"`
	SendTimeout   time.Duration `yaml:"send_timeout" env-default:"10s"`
	LeaseDuration time.Duration `yaml:"lease_duration" env-default:"30s"`
	ReclaimEvery  time.Duration `yaml:"reclaim_every" env-default:"15s"`
	MaxAttempts   int           `yaml:"max_attempts" env:"MAX_ATTEMPTS" env-default:"5"`
	BaseDelay     time.Duration `yaml:"base_delay" env-default:"1s"`
	MaxDelay      time.Duration `yaml:"max_delay" env-default:"5m"`
}

type Metrics struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR" env-default:":9091"`
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exists: %v\n", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return &cfg
}
