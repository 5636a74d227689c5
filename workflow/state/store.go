package state

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrNotFound    = errors.New("key not found")
	ErrStoreClosed = errors.New("store is closed")
)

// StoreType 存储后端类型
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeMongo  StoreType = "mongo"
)

// Store is the key-value persistence behind the Service. Get returns
// ErrNotFound for a missing key. Writes to one key are last-writer-wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
	Type() StoreType
}
