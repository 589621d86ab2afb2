package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/armando-rios/pinturillo/crypto"
	"github.com/armando-rios/pinturillo/game"
	"github.com/armando-rios/pinturillo/storage"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	PostgresURL    string        `mapstructure:"postgres_url"`
	RedisURL       string        `mapstructure:"redis_url"`
	JWTKey         string        `mapstructure:"jwt_key"`
	TokenMaxAge    time.Duration `mapstructure:"token_max_age"`
	TrollTime      time.Duration `mapstructure:"troll_time"`
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`

	Game         GameConfig            `mapstructure:"game"`
	Cleanup      CleanupConfig         `mapstructure:"cleanup"`
	RoomPassword crypto.PasswordParams `mapstructure:"room_password"`
}

type GameConfig struct {
	MaxPlayers        int           `mapstructure:"max_players"`
	Rounds            int           `mapstructure:"rounds"`
	DrawingTimeLimit  int           `mapstructure:"drawing_time_limit"`
	GuessingTimeLimit int           `mapstructure:"guessing_time_limit"`
	Difficulty        string        `mapstructure:"difficulty"`
	PersistTimeout    time.Duration `mapstructure:"persist_timeout"`
}

type CleanupConfig struct {
	Schedule      string        `mapstructure:"schedule"`
	FinishedGames time.Duration `mapstructure:"finished_games"`
	StrokeLogs    time.Duration `mapstructure:"stroke_logs"`
	IdleRooms     time.Duration `mapstructure:"idle_rooms"`
}

const day = 24 * time.Hour

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "5000")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("postgres_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("jwt_key", "")
	v.SetDefault("token_max_age", 7*day)
	v.SetDefault("troll_time", 2*time.Second)
	v.SetDefault("debug", false)
	v.SetDefault("log_level", "info")

	defaults := game.DefaultSettings()
	v.SetDefault("game.max_players", defaults.MaxPlayers)
	v.SetDefault("game.rounds", defaults.Rounds)
	v.SetDefault("game.drawing_time_limit", defaults.DrawingTimeLimit)
	v.SetDefault("game.guessing_time_limit", defaults.GuessingTimeLimit)
	v.SetDefault("game.difficulty", string(defaults.Difficulty))
	v.SetDefault("game.persist_timeout", 5*time.Second)

	v.SetDefault("cleanup.schedule", "@daily")
	v.SetDefault("cleanup.finished_games", 30*day)
	v.SetDefault("cleanup.stroke_logs", 90*day)
	v.SetDefault("cleanup.idle_rooms", day)

	password := crypto.RoomPasswordParams()
	v.SetDefault("room_password.iterations", password.Iterations)
	v.SetDefault("room_password.memory_kib", password.MemoryKiB)
	v.SetDefault("room_password.parallelism", password.Parallelism)
}

// Load reads configuration from the environment and, when path is not empty,
// from a config file. Environment variables win over the file. Nested keys
// map to underscored names: game.rounds is GAME_ROUNDS.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.AllowedOrigins) == 0 {
		return errors.New("missing allowed origins")
	}
	if c.JWTKey == "" {
		return errors.New("missing jwt signing key")
	}
	if c.PostgresURL == "" && !c.Debug {
		return errors.New("missing postgres url")
	}
	if c.Cleanup.Schedule == "" {
		return errors.New("missing cleanup schedule")
	}
	if err := c.RoomDefaults().Validate(); err != nil {
		return fmt.Errorf("game defaults: %w", err)
	}
	if err := c.RoomPassword.Validate(); err != nil {
		return fmt.Errorf("room password: %w", err)
	}
	return nil
}

// RoomDefaults are the settings a room starts with when the create request
// leaves them out.
func (c *Config) RoomDefaults() game.RoomSettings {
	return game.RoomSettings{
		MaxPlayers:        c.Game.MaxPlayers,
		Rounds:            c.Game.Rounds,
		DrawingTimeLimit:  c.Game.DrawingTimeLimit,
		GuessingTimeLimit: c.Game.GuessingTimeLimit,
		Difficulty:        game.Difficulty(c.Game.Difficulty),
		CustomWords:       []string{},
	}
}

func (c *Config) Retention() storage.Retention {
	return storage.Retention{
		FinishedGames: c.Cleanup.FinishedGames,
		StrokeLogs:    c.Cleanup.StrokeLogs,
		IdleRooms:     c.Cleanup.IdleRooms,
	}
}
