package state

import (
	"context"
	"fmt"

	"github.com/BaSui01/flowpilot/internal/database"
	"go.uber.org/zap"
)

// StoreConfig 存储后端配置
type StoreConfig struct {
	// Type 存储后端类型
	Type StoreType `json:"type" yaml:"type"`
	// BaseDir 文件存储目录
	BaseDir string `json:"base_dir" yaml:"base_dir"`
	// Redis 仅 Type 为 redis 时使用
	Redis RedisOptions `json:"redis" yaml:"redis"`
	// Database 仅 Type 为 sql 时使用
	Database DatabaseOptions `json:"database" yaml:"database"`
	// Mongo 仅 Type 为 mongo 时使用
	Mongo MongoOptions `json:"mongo" yaml:"mongo"`
}

// NewStore creates a Store based on the configuration.
func NewStore(ctx context.Context, cfg StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Type {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeFile:
		return NewFileStore(cfg.BaseDir)
	case StoreTypeRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case StoreTypeSQL:
		pool, err := database.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Pool, logger)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLStore(pool)
		if err != nil {
			_ = pool.Close()
			return nil, err
		}
		return store, nil
	case StoreTypeMongo:
		return NewMongoStore(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("unsupported state store type: %s", cfg.Type)
	}
}
