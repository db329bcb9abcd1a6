package postgres

import (
	"context"
	"errors"
	"fmt"

	kpool "github.com/fnndsc/plinst/pkg/conn/db/postgres/pool"
	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/domain/errors/dberrors"
	kpgintr "github.com/fnndsc/plinst/pkg/domain/internal/db/postgres"
	kdb "github.com/fnndsc/plinst/pkg/domain/plugin/db"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
)

type pluginPG struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pluginPG{pool: pool}
}

func (m *pluginPG) Register(ctx context.Context, spec domain.PluginSpec) (domain.PluginID, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var id int64
	if err := tx.QueryRow(
		ctx,
		`
		insert into "plugin" (
			"name", "version", "type", "image", "exec_shell", "self_path", "self_exec",
			"min_cpu", "max_cpu", "min_memory", "max_memory",
			"min_workers", "max_workers", "min_gpu", "max_gpu"
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		returning "id"
		`,
		spec.Name, spec.Version, spec.Type.String(), spec.Image,
		spec.ExecShell, spec.SelfPath, spec.SelfExec,
		spec.Limits.Min.CPU, spec.Limits.Max.CPU,
		spec.Limits.Min.Memory, spec.Limits.Max.Memory,
		spec.Limits.Min.Workers, spec.Limits.Max.Workers,
		spec.Limits.Min.GPU, spec.Limits.Max.GPU,
	).Scan(&id); err != nil {
		var pgerr *pgconn.PgError
		if errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UniqueViolation {
			return 0, dberrors.Conflict{
				Table:    "plugin",
				Identity: fmt.Sprintf("name = %s, version = %s", spec.Name, spec.Version),
				Reason:   "already registered",
			}
		}
		return 0, err
	}

	for _, p := range spec.Parameters {
		action := p.Action
		if action == "" {
			action = "store"
		}
		if _, err := tx.Exec(
			ctx,
			`
			insert into "plugin_parameter"
				("plugin_id", "name", "flag", "type", "action", "optional", "default")
			values ($1, $2, $3, $4, $5, $6, $7)
			`,
			id, p.Name, p.Flag, p.Type.String(), action, p.Optional, p.Default,
		); err != nil {
			var pgerr *pgconn.PgError
			if errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UniqueViolation {
				return 0, dberrors.Conflict{
					Table:    "plugin_parameter",
					Identity: fmt.Sprintf("name = %s", p.Name),
					Reason:   "duplicated parameter",
				}
			}
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return domain.PluginID(id), nil
}

func (m *pluginPG) Get(ctx context.Context, ids []domain.PluginID) (map[domain.PluginID]domain.Plugin, error) {
	return kpgintr.GetPlugins(ctx, m.pool, ids)
}
