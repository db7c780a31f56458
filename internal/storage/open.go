package storage

import (
	"fmt"

	"github.com/Ap3pp3rs94/signalbot/internal/config"
)

// Open constructs the Adapter named by cfg.Storage. Memory never touches
// disk; the other two kinds use cfg.StoragePath as their file.
func Open(cfg config.Config) (Adapter, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return NewMemoryAdapter(), nil
	case config.StorageEmbeddedSQL:
		return OpenSQL(cfg.StoragePath)
	case config.StorageKeyValue:
		return OpenKV(cfg.StoragePath)
	default:
		return nil, fmt.Errorf("storage: unknown kind %q", cfg.Storage)
	}
}
