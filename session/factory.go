package session

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a storage backend.
type Config struct {
	Type   StoreType   `yaml:"type" json:"type"`
	SQLite SQLiteCfg   `yaml:"sqlite" json:"sqlite"`
	Redis  RedisConfig `yaml:"redis" json:"redis"`
}

// SQLiteCfg configures the SQLite backend.
type SQLiteCfg struct {
	Path string `yaml:"path" json:"path"`
}

// DefaultConfig returns a memory-backed configuration.
func DefaultConfig() Config {
	return Config{
		Type:   StoreTypeMemory,
		SQLite: SQLiteCfg{Path: "noveldrive.db"},
		Redis:  RedisConfig{Addr: "localhost:6379"},
	}
}

// NewStore builds the Store selected by cfg.Type.
func NewStore(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeSQLite:
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case StoreTypeRedis:
		return NewRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
