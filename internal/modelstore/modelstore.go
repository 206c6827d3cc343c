// Package modelstore persists classifier models so every process serves the
// same current model.
package modelstore

import (
	"fmt"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

// New creates a model store based on configuration. The "sql" store shares
// the repository's database.
func New(cfg domain.ModelStoreConfig, repo domain.Repository) (domain.ModelStore, error) {
	switch cfg.Type {
	case "file", "":
		return NewFileStore(cfg.Dir, cfg.Retain)
	case "sql":
		if repo == nil {
			return nil, fmt.Errorf("sql model store requires a repository")
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported model store type: %s", cfg.Type)
	}
}
