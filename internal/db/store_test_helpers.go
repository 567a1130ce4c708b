package db

import (
	"os"
	"testing"
)

// NewTestConfig returns a Config for in-memory SQLite testing.
func NewTestConfig() Config {
	return Config{Type: DialectSQLite, Path: ":memory:"}
}

// NewPostgresTestConfig returns a Config for PostgreSQL testing, or nil if
// TEST_POSTGRES_URL isn't set.
func NewPostgresTestConfig() *Config {
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		return nil
	}
	return &Config{Type: DialectPostgres, URL: url}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(NewTestConfig())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestDBConfig names a backend configuration for table-driven dual-dialect tests.
type TestDBConfig struct {
	Name   string
	Config Config
}

// GetTestConfigs always includes SQLite, and includes PostgreSQL when
// TEST_POSTGRES_URL is set.
func GetTestConfigs() []TestDBConfig {
	configs := []TestDBConfig{{Name: "SQLite", Config: NewTestConfig()}}
	if pg := NewPostgresTestConfig(); pg != nil {
		configs = append(configs, TestDBConfig{Name: "PostgreSQL", Config: *pg})
	}
	return configs
}

// RunWithBothDialects runs testFn against every available backend.
func RunWithBothDialects(t *testing.T, testFn func(t *testing.T, store *Store)) {
	for _, cfg := range GetTestConfigs() {
		t.Run(cfg.Name, func(t *testing.T) {
			store, err := NewStore(cfg.Config)
			if err != nil {
				t.Fatalf("failed to create %s store: %v", cfg.Name, err)
			}
			defer func() { _ = store.Close() }()

			testFn(t, store)

			if cfg.Config.Type == DialectPostgres {
				_ = store.Reset()
			}
		})
	}
}
