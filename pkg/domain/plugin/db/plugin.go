package db

import (
	"context"

	"github.com/fnndsc/plinst/pkg/domain"
)

type Interface interface {
	// Register records a plugin with its parameters.
	//
	// Returns
	//
	// - domain.PluginID: id of the plugin.
	//
	// - error: ErrConflict when a plugin with the same name and version exists.
	Register(ctx context.Context, spec domain.PluginSpec) (domain.PluginID, error)

	// Get retrieves plugins. Plugins not found are not contained in the result.
	Get(ctx context.Context, ids []domain.PluginID) (map[domain.PluginID]domain.Plugin, error)
}
