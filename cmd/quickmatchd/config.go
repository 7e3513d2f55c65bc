package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type statsConfig struct {
	Enabled       bool          `env:"ENABLED" envDefault:"false"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	Prefix        string        `env:"PREFIX" envDefault:"quickmatch:stats"`
	TTL           time.Duration `env:"TTL" envDefault:"24h"`
	Bucket        string        `env:"BUCKET" envDefault:"minute"`
	TrackSlots    bool          `env:"TRACK_SLOTS" envDefault:"false"`
}

type config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	TargetSpare     int           `env:"QM_TARGET_SPARE_SLOTS" envDefault:"1"`
	SlotCapacity    int           `env:"QM_SLOT_CAPACITY" envDefault:"3"`
	IdleShutdown    time.Duration `env:"QM_IDLE_SHUTDOWN" envDefault:"180s"`
	MaxParticipants int           `env:"QM_MAX_PARTICIPANTS" envDefault:"18"`
	SetupTimeout    time.Duration `env:"QM_SLOT_SETUP_TIMEOUT" envDefault:"10s"`
	Tick            time.Duration `env:"QM_TICK" envDefault:"1s"`
	BasePort        int           `env:"QM_BASE_PORT" envDefault:"27015"`
	RoomPrefix      string        `env:"QM_ROOM_PREFIX" envDefault:"DedicatedRoom"`
	BindHost        string        `env:"QM_BIND_HOST" envDefault:"0.0.0.0"`
	PublicHost      string        `env:"QM_PUBLIC_HOST" envDefault:"127.0.0.1"`
	HostWrite       time.Duration `env:"QM_HOST_WRITE_TIMEOUT" envDefault:"5s"`
	ReconnectGrace  time.Duration `env:"QM_RECONNECT_GRACE" envDefault:"5s"`
	ConfirmTimeout  time.Duration `env:"QM_CONFIRM_TIMEOUT" envDefault:"30s"`
	AdmissionWait   time.Duration `env:"QM_ADMISSION_WAIT" envDefault:"0s"`
	DashboardEvery  time.Duration `env:"QM_DASHBOARD_EVERY" envDefault:"0s"`

	// IMPORTANTE: o "burst" permite uma rajada inicial de pedidos por
	// participante; com RPS baixo e burst alto o limite parece não funcionar.
	RateRPS    float64       `env:"RATE_RPS" envDefault:"5"`
	RateBurst  int           `env:"RATE_BURST" envDefault:"10"`
	RetryAfter time.Duration `env:"RETRY_AFTER" envDefault:"1s"`

	ConnectRateEnabled bool    `env:"CONNECT_RATE_ENABLED" envDefault:"true"`
	ConnectRateRPS     float64 `env:"CONNECT_RATE_RPS" envDefault:"2"`
	ConnectRateBurst   int     `env:"CONNECT_RATE_BURST" envDefault:"5"`
	TrustXFF           bool    `env:"TRUST_XFF" envDefault:"false"`
	AddHeaders         bool    `env:"ADD_RATELIMIT_HEADERS" envDefault:"false"`

	Stats statsConfig `envPrefix:"STATS_"`

	RosterURL     string        `env:"ROSTER_API_URL"`
	RosterTimeout time.Duration `env:"ROSTER_TIMEOUT" envDefault:"5s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// readConfig lê o ambiente e depois as flags; -port e -room-prefix têm
// prioridade sobre QM_BASE_PORT e QM_ROOM_PREFIX.
func readConfig(args []string) (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("quickmatchd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&cfg.BasePort, "port", cfg.BasePort, "first port handed to session slots")
	fs.StringVar(&cfg.RoomPrefix, "room-prefix", cfg.RoomPrefix, "session name prefix")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "matchmaking listen address")
	if err := fs.Parse(args); err != nil {
		return config{}, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	switch {
	case c.SlotCapacity <= 0:
		return errors.New("QM_SLOT_CAPACITY must be > 0")
	case c.TargetSpare < 0:
		return errors.New("QM_TARGET_SPARE_SLOTS must be >= 0")
	case c.MaxParticipants <= 0:
		return errors.New("QM_MAX_PARTICIPANTS must be > 0")
	case c.BasePort <= 0 || c.BasePort > 65535:
		return errors.New("QM_BASE_PORT must be a valid port")
	case c.Tick <= 0:
		return errors.New("QM_TICK must be > 0")
	case c.SetupTimeout <= 0:
		return errors.New("QM_SLOT_SETUP_TIMEOUT must be > 0")
	case c.IdleShutdown < 0 || c.ReconnectGrace < 0 || c.ConfirmTimeout < 0 || c.HostWrite < 0:
		return errors.New("durations must be >= 0")
	case strings.TrimSpace(c.RoomPrefix) == "":
		return errors.New("QM_ROOM_PREFIX must not be empty")
	case c.RateRPS <= 0:
		return errors.New("RATE_RPS must be > 0")
	case c.RateBurst <= 0:
		return errors.New("RATE_BURST must be > 0")
	case c.ConnectRateEnabled && (c.ConnectRateRPS <= 0 || c.ConnectRateBurst <= 0):
		return errors.New("CONNECT_RATE_RPS and CONNECT_RATE_BURST must be > 0")
	case c.Stats.Enabled && strings.TrimSpace(c.Stats.RedisAddr) == "":
		return errors.New("STATS_REDIS_ADDR is required when STATS_ENABLED=true")
	}
	if _, err := c.level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text", "pretty":
	default:
		return fmt.Errorf("LOG_FORMAT must be json, text or pretty, got %q", c.LogFormat)
	}
	return nil
}

func (c config) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
