package config

import (
	"time"

	"github.com/caarlos0/env/v9"
)

const (
	AuthModeFirebase = "firebase"
	AuthModeHeader   = "header"
)

type Config struct {
	Port                   string `env:"PORT" envDefault:"8080"`
	DBUser                 string `env:"DB_USER,required,notEmpty"`
	DBPassword             string `env:"DB_PASSWORD,required,notEmpty"`
	DBHost                 string `env:"DB_HOST,required,notEmpty"` // e.g. tcp(host:3306) or unix(/cloudsql/instance)
	DBName                 string `env:"DB_NAME,required,notEmpty"`
	DBPort                 string `env:"DB_PORT" envDefault:"3306"`
	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	AuthMode                string `env:"AUTH_MODE" envDefault:"firebase"`
	FirebaseProjectID       string `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173,http://127.0.0.1:5173"`

	WS WSConfig

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	GitSHA          string        `env:"GIT_SHA" envDefault:"dev"`
	BuildTime       string        `env:"BUILD_TIME"`
}

// WSConfig tunes the realtime gateway sessions. RequireAuth rejects handshakes
// without a verifiable credential; RequireMembership limits room joins and
// relays to conversation participants.
type WSConfig struct {
	WriteTimeout      time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"5s"`
	ReadIdleTimeout   time.Duration `env:"WS_READ_IDLE_TIMEOUT" envDefault:"2m"`
	HeartbeatInterval time.Duration `env:"WS_HEARTBEAT_INTERVAL" envDefault:"25s"`
	HeartbeatTimeout  time.Duration `env:"WS_HEARTBEAT_TIMEOUT" envDefault:"5s"`
	SendQueueSize     int           `env:"WS_SEND_QUEUE" envDefault:"256"`
	RateEvents        int           `env:"WS_RATE_EVENTS" envDefault:"120"`
	RateWindow        time.Duration `env:"WS_RATE_WINDOW" envDefault:"10s"`

	OriginRequired    bool `env:"WS_ORIGIN_REQUIRED" envDefault:"false"`
	RequireAuth       bool `env:"WS_REQUIRE_AUTH" envDefault:"false"`
	RequireMembership bool `env:"WS_REQUIRE_MEMBERSHIP" envDefault:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
