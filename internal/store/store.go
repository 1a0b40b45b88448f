package store

import (
	"context"

	"github.com/me/harvest/pkg/model"
)

// Store is the shared data store that collectors read and write. The
// scheduler passes it through to collector functions without touching it;
// all synchronization of concurrent collector access happens behind this
// interface.
type Store interface {
	// PutRecord inserts or overwrites the record keyed by (plugin, key).
	PutRecord(ctx context.Context, rec *model.Record) error
	GetRecord(ctx context.Context, plugin, key string) (*model.Record, error)
	ListRecords(ctx context.Context, plugin string) ([]*model.Record, error)
	ListPlugins(ctx context.Context) ([]string, error)
	DeleteRecords(ctx context.Context, plugin string) error

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
