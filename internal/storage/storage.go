package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/storage/sql"
)

var ErrNoDatabase = errors.New("the run store needs a database section in the configuration")

// NewStorage opens the run store described by the database section of the
// configuration. Postgres and sqlite are the supported databases.
func NewStorage(databaseConfig *map[string]any, logger *slog.Logger) (abstractions.Storage, error) {
	if databaseConfig == nil || len(*databaseConfig) == 0 {
		return nil, ErrNoDatabase
	}
	store, err := sql.NewStorage(*databaseConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open the run store: %w", err)
	}
	return store.WithLogger(logger), nil
}
