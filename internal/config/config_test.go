package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Run("missing", func(t *testing.T) {
		path := filepath.Join(dir, "missing.yaml")
		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if *cfg != Default() {
			t.Errorf("Load() = %+v", cfg)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("Load() created the file")
		}
	})
	t.Run("partial", func(t *testing.T) {
		path := filepath.Join(dir, "partial.yaml")
		data := "store: sqlite:docs.db\nlog_level: debug\nwatch: true\nwatch_interval: 250ms\n"
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Store != "sqlite:docs.db" || cfg.Schemas != "schemas.yaml" || !cfg.Watch || cfg.WatchInterval != 250*time.Millisecond {
			t.Errorf("Load() = %+v", cfg)
		}
		if l, _ := cfg.Level(); l.String() != "DEBUG" {
			t.Errorf("Level() = %v", l)
		}
	})
	t.Run("round trip", func(t *testing.T) {
		path := filepath.Join(dir, "saved.yaml")
		want := Default()
		want.MetricsAddr = "localhost:9090"
		if err := want.Save(path); err != nil {
			t.Fatal(err)
		}
		got, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if *got != want {
			t.Errorf("Load() = %+v, want %+v", got, want)
		}
	})
	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name string
			data string
		}{
			{"yaml", "store: [\n"},
			{"store", "store: redis:x\n"},
			{"schemas", "schemas: ''\n"},
			{"level", "log_level: loud\n"},
			{"interval", "watch_interval: -1s\n"},
			{"watch", "watch: true\nwatch_interval: 0s\n"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				path := filepath.Join(dir, tt.name+".yaml")
				if err := os.WriteFile(path, []byte(tt.data), 0o600); err != nil {
					t.Fatal(err)
				}
				if _, err := Load(path); err == nil {
					t.Error("expected error")
				}
			})
		}
	})
}
