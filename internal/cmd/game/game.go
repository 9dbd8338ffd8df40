// Package game parses game command flags and starts the game core runtime.
package game

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/lorebound/lorebound/internal/platform/cmd"
	"github.com/lorebound/lorebound/internal/services/game/app"
)

// Config holds game command configuration.
type Config struct {
	Port          int           `env:"LOREBOUND_GAME_PORT" envDefault:"8086"`
	DBPath        string        `env:"LOREBOUND_GAME_DB_PATH" envDefault:"data/game.db"`
	SweepInterval time.Duration `env:"LOREBOUND_GAME_SWEEP_INTERVAL" envDefault:"30s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The game server port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The game SQLite database path")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "How often expired compose locks are reclaimed")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the game core service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGame, func(ctx context.Context) error {
		return app.Run(ctx, app.RuntimeConfig{
			Port:          cfg.Port,
			DBPath:        cfg.DBPath,
			SweepInterval: cfg.SweepInterval,
		})
	})
}
