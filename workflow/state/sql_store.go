package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/flowpilot/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// kvEntry is one row of the key-value table. The column is kv_key since
// "key" is reserved in MySQL.
type kvEntry struct {
	Key       string    `gorm:"column:kv_key;primaryKey;size:191"`
	Value     []byte    `gorm:"column:kv_value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (kvEntry) TableName() string { return "flowpilot_kv" }

// DatabaseOptions SQL 存储配置
type DatabaseOptions struct {
	// Driver: postgres, mysql, sqlite
	Driver string              `json:"driver" yaml:"driver"`
	DSN    string              `json:"dsn" yaml:"dsn"`
	Pool   database.PoolConfig `json:"pool" yaml:"pool"`
}

// SQLStore is a GORM-backed Store.
type SQLStore struct {
	pool *database.PoolManager
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore migrates the key-value table on an open pool. The store owns
// the pool.
func NewSQLStore(pool *database.PoolManager) (*SQLStore, error) {
	if err := pool.DB().AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate state table: %w", err)
	}
	return &SQLStore{pool: pool}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var e kvEntry
	err := s.pool.DB().WithContext(ctx).Where("kv_key = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	return s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kv_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"kv_value", "updated_at"}),
		}).Create(&kvEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}).Error
	})
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	return s.pool.DB().WithContext(ctx).Where("kv_key = ?", key).Delete(&kvEntry{}).Error
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *SQLStore) Close() error {
	return s.pool.Close()
}

func (s *SQLStore) Type() StoreType { return StoreTypeSQL }
