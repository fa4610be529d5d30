package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN"`
	DataDir      string `env:"DATA_DIR" envDefault:"./data"`

	// BufferFrames is the capacity of the decoded frame buffer, in 20ms frames.
	BufferFrames int `env:"BUFFER_FRAMES" envDefault:"250"`

	// MaxQueueSize caps the number of pending songs per guild.
	MaxQueueSize int `env:"MAX_QUEUE_SIZE" envDefault:"1000"`

	// SongWait is how long the player waits for the queue to yield a song
	// before going to sleep.
	SongWait time.Duration `env:"SONG_WAIT" envDefault:"120s"`

	// ListenerWait is how long the player waits for a non-bot listener to
	// join an empty channel before going to sleep.
	ListenerWait time.Duration `env:"LISTENER_WAIT" envDefault:"120s"`

	// IdleTimeout is how long an unused player (never joined voice) is kept
	// in the registry.
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s"`

	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"20s"`
}

func LoadConfig() (*Config, error) {
	// optional .env for local runs
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.DiscordToken == "" {
		return nil, ErrConfig("DISCORD_TOKEN required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	return cfg, nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
