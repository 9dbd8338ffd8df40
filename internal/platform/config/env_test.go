package config

import "testing"

func TestParseEnvReadsValues(t *testing.T) {
	type target struct {
		Port int    `env:"LOREBOUND_TEST_PORT" envDefault:"8082"`
		Path string `env:"LOREBOUND_TEST_PATH"`
	}

	t.Setenv("LOREBOUND_TEST_PATH", "data/game.db")

	var cfg target
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 8082 {
		t.Fatalf("expected default port 8082, got %d", cfg.Port)
	}
	if cfg.Path != "data/game.db" {
		t.Fatalf("expected path override, got %q", cfg.Path)
	}
}
