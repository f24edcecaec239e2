package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/voicestage/internal/app/fanout"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "STAGE"

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	StaticPath    string        `mapstructure:"static_path"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	Secret        string        `mapstructure:"secret"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	AllowGuests   bool          `mapstructure:"allow_guests"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	LogLevel      string        `mapstructure:"log_level"`

	Seats         SeatsConfig   `mapstructure:"seats"`
	Rooms         []RoomConfig  `mapstructure:"rooms"`
	RoomsIdleTTL  time.Duration `mapstructure:"rooms_idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	Fanout   FanoutConfig   `mapstructure:"fanout"`
	Presence PresenceConfig `mapstructure:"presence"`
	Vip      []VipConfig    `mapstructure:"vip"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type SeatsConfig struct {
	DefaultMaxSpeakers int           `mapstructure:"default_max_speakers"`
	DefaultMode        string        `mapstructure:"default_mode"`
	PendingTTL         time.Duration `mapstructure:"pending_ttl"`
	AutoPromote        bool          `mapstructure:"auto_promote"`
}

// RoomConfig overrides the seat defaults for one room.
type RoomConfig struct {
	ID          string   `mapstructure:"id"`
	MaxSpeakers int      `mapstructure:"max_speakers"`
	Mode        string   `mapstructure:"mode"`
	Moderators  []string `mapstructure:"moderators"`
}

type FanoutConfig struct {
	Buffer       int    `mapstructure:"buffer"`
	Backpressure string `mapstructure:"backpressure"`
}

type PresenceConfig struct {
	DedupTTL       time.Duration `mapstructure:"dedup_ttl"`
	Workers        int           `mapstructure:"workers"`
	RescoreEvery   time.Duration `mapstructure:"rescore_interval"`
	RetainEndedFor time.Duration `mapstructure:"retain_ended"`
}

type VipConfig struct {
	User     string `mapstructure:"user"`
	Priority int    `mapstructure:"priority"`
	Name     string `mapstructure:"name"`
	Badge    string `mapstructure:"badge"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
	// SeatTTL expires a room's seat set after it sees no grant; 0 keeps it.
	SeatTTL time.Duration `mapstructure:"seat_ttl"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Load reads config/config.<env>.yaml. An empty env falls back to
// CONFIG_ENV, then to "dev". A .env file is loaded into the process
// environment first when present.
func Load(env string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Str("module", "config").Msg("loaded .env")
	}
	if env == "" {
		env = os.Getenv("CONFIG_ENV")
	}
	if env == "" {
		env = "dev"
	}
	return load(fmt.Sprintf("config/config.%s.yaml", env))
}

func load(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Bool("redis", cfg.Redis.URL != "").Bool("postgres", cfg.Postgres.DSN != "").Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("allow_guests", true)
	v.SetDefault("webhook_secret", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("seats.default_max_speakers", domain.DefaultMaxSpeakers)
	v.SetDefault("seats.default_mode", string(domain.SeatModeQueue))
	v.SetDefault("seats.pending_ttl", "0s")
	v.SetDefault("seats.auto_promote", false)
	v.SetDefault("rooms_idle_ttl", "5m")
	v.SetDefault("sweep_interval", "30s")

	v.SetDefault("fanout.buffer", fanout.DefaultBuffer)
	v.SetDefault("fanout.backpressure", fanout.Resync.String())

	v.SetDefault("presence.dedup_ttl", "24h")
	v.SetDefault("presence.workers", 8)
	v.SetDefault("presence.rescore_interval", "1m")
	v.SetDefault("presence.retain_ended", "24h")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.seat_ttl", "0s")
	v.SetDefault("postgres.dsn", "")
}

var ErrInvalid = errors.New("invalid config")

func (c *Config) Validate() error {
	if _, err := domain.ParseSeatMode(c.Seats.DefaultMode); err != nil {
		return fmt.Errorf("%w: seats.default_mode: %w", ErrInvalid, err)
	}
	if c.Seats.DefaultMaxSpeakers < 1 {
		return fmt.Errorf("%w: seats.default_max_speakers must be positive", ErrInvalid)
	}
	if _, err := fanout.ParseAction(c.Fanout.Backpressure); err != nil {
		return fmt.Errorf("%w: fanout.backpressure: %w", ErrInvalid, err)
	}
	if c.Mode == "release" && c.WebhookSecret == "" {
		return fmt.Errorf("%w: webhook_secret is required in release mode", ErrInvalid)
	}
	seen := make(map[string]bool, len(c.Rooms))
	for _, r := range c.Rooms {
		if _, err := domain.ParseRoomID(r.ID); err != nil {
			return fmt.Errorf("%w: rooms: %w", ErrInvalid, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: room %s listed twice", ErrInvalid, r.ID)
		}
		seen[r.ID] = true
		if r.Mode != "" {
			if _, err := domain.ParseSeatMode(r.Mode); err != nil {
				return fmt.Errorf("%w: room %s: %w", ErrInvalid, r.ID, err)
			}
		}
	}
	return nil
}

// PolicyFor returns the seat policy of room: its own entry layered over
// the seat defaults.
func (c *Config) PolicyFor(room domain.RoomID) domain.RoomSeatPolicy {
	p := domain.RoomSeatPolicy{
		MaxSpeakers: c.Seats.DefaultMaxSpeakers,
		Mode:        domain.SeatMode(c.Seats.DefaultMode),
	}
	for _, r := range c.Rooms {
		if domain.RoomID(r.ID) != room {
			continue
		}
		if r.MaxSpeakers > 0 {
			p.MaxSpeakers = r.MaxSpeakers
		}
		if r.Mode != "" {
			p.Mode = domain.SeatMode(r.Mode)
		}
		for _, m := range r.Moderators {
			p.Moderators = append(p.Moderators, domain.UserID(m))
		}
	}
	return p
}

func (c *Config) Backpressure() fanout.BackpressureAction {
	a, _ := fanout.ParseAction(c.Fanout.Backpressure)
	return a
}
