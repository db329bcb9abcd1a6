package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	kpool "github.com/fnndsc/plinst/pkg/conn/db/postgres/pool"
	"github.com/fnndsc/plinst/pkg/conn/db/postgres/scanner"
	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/domain/errors/dberrors"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	kpgintr "github.com/fnndsc/plinst/pkg/domain/internal/db/postgres"
	xe "github.com/fnndsc/plinst/pkg/errors"
	"github.com/fnndsc/plinst/pkg/utils/compress"
	"github.com/fnndsc/plinst/pkg/utils/slices"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
)

// a struct for DB operations related to plugin instances
type instancePG struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &instancePG{pool: pool}
}

var _ kdb.Interface = &instancePG{}

func missing(id domain.InstanceID) error {
	return dberrors.Missing{Table: "plugin_instance", Identity: fmt.Sprintf("id = %d", id)}
}

func (m *instancePG) New(ctx context.Context, spec domain.InstanceSpec) (domain.InstanceID, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	plugins, err := kpgintr.GetPlugins(ctx, tx, []domain.PluginID{spec.PluginId})
	if err != nil {
		return 0, err
	}
	plugin, ok := plugins[spec.PluginId]
	if !ok {
		return 0, dberrors.Missing{Table: "plugin", Identity: fmt.Sprintf("id = %d", spec.PluginId)}
	}

	var feedId int64
	var previousId *int64
	switch plugin.Type {
	case domain.FS:
		if spec.Previous != nil {
			return 0, fmt.Errorf("%w: fs instance cannot have previous", domain.ErrInvalidRequest)
		}
		if err := tx.QueryRow(
			ctx,
			`insert into "feed" ("name", "owner") values ($1, $2) returning "id"`,
			spec.FeedName, spec.Owner,
		).Scan(&feedId); err != nil {
			return 0, err
		}
	case domain.DS, domain.TS:
		if spec.Previous == nil {
			return 0, fmt.Errorf("%w: %s instance requires previous", domain.ErrInvalidRequest, plugin.Type)
		}
		if err := tx.QueryRow(
			ctx,
			`select "feed_id" from "plugin_instance" where "id" = $1`,
			int64(*spec.Previous),
		).Scan(&feedId); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, missing(*spec.Previous)
			}
			return 0, err
		}
		prev := int64(*spec.Previous)
		previousId = &prev
	default:
		return 0, fmt.Errorf("%w: unknown plugin type %q", domain.ErrInvalidRequest, plugin.Type)
	}

	var id int64
	if err := tx.QueryRow(
		ctx,
		`
		insert into "plugin_instance" (
			"title", "status", "owner", "compute_resource",
			"cpu_limit", "memory_limit", "number_of_workers", "gpu_limit",
			"plugin_id", "previous_id", "feed_id"
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning "id"
		`,
		spec.Title, domain.Created.String(), spec.Owner, spec.ComputeResource,
		spec.Limits.CPU, spec.Limits.Memory, spec.Limits.Workers, spec.Limits.GPU,
		int64(plugin.Id), previousId, feedId,
	).Scan(&id); err != nil {
		return 0, err
	}

	for name, value := range spec.Parameters {
		ps, ok := plugin.ParameterByName(name)
		if !ok {
			return 0, dberrors.Missing{
				Table:    "plugin_parameter",
				Identity: fmt.Sprintf("plugin_id = %d, name = %s", plugin.Id, name),
			}
		}
		if _, err := tx.Exec(
			ctx,
			`
			insert into "plugin_instance_parameter" ("plugin_instance_id", "plugin_parameter_id", "value")
			values ($1, $2, $3)
			`,
			id, ps.Id, value,
		); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return domain.InstanceID(id), nil
}

func (m *instancePG) Get(ctx context.Context, ids []domain.InstanceID) (map[domain.InstanceID]domain.PluginInstance, error) {
	return kpgintr.GetInstances(ctx, m.pool, ids)
}

func (m *instancePG) Find(ctx context.Context, query domain.InstanceFindQuery) ([]domain.InstanceID, error) {
	var previous *int64
	if query.Previous != nil {
		p := int64(*query.Previous)
		previous = &p
	}

	type idRow struct{ Id int64 }
	rows, err := scanner.New[idRow]().QueryAll(
		ctx, m.pool,
		`
		select "id" from "plugin_instance"
		where
			(cardinality($1::varchar[]) = 0 or "status" = any($1::varchar[]))
			and (cardinality($2::varchar[]) = 0 or "error_code" = any($2::varchar[]))
			and ($3::timestamp with time zone is null or "status_changed_at" < $3)
			and ($4::bigint is null or "previous_id" = $4)
		order by "id"
		`,
		slices.Map(query.Status, domain.InstanceStatus.String),
		slices.Map(query.ErrorCode, domain.ErrorCode.String),
		query.StatusChangedBefore,
		previous,
	)
	if err != nil {
		return nil, err
	}
	return slices.Map(rows, func(r idRow) domain.InstanceID { return domain.InstanceID(r.Id) }), nil
}

func (m *instancePG) Ancestry(ctx context.Context, id domain.InstanceID) ([]domain.PluginInstance, error) {
	type chainRow struct {
		Id    int64
		Depth int64
	}
	chain, err := scanner.New[chainRow]().QueryAll(
		ctx, m.pool,
		`
		with recursive "chain" as (
			select "id", "previous_id", 0::bigint as "depth"
			from "plugin_instance" where "id" = $1
			union all
			select "pi"."id", "pi"."previous_id", "chain"."depth" + 1
			from "plugin_instance" as "pi"
			inner join "chain" on "pi"."id" = "chain"."previous_id"
		)
		select "id", "depth" from "chain" order by "depth" desc
		`,
		int64(id),
	)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, missing(id)
	}

	ids := slices.Map(chain, func(r chainRow) domain.InstanceID { return domain.InstanceID(r.Id) })
	instances, err := kpgintr.GetInstances(ctx, m.pool, ids)
	if err != nil {
		return nil, err
	}
	ret := make([]domain.PluginInstance, 0, len(ids))
	for _, i := range ids {
		pi, ok := instances[i]
		if !ok {
			// deleted while reading
			return nil, missing(i)
		}
		ret = append(ret, pi)
	}
	return ret, nil
}

// setStatus saves update for the instance locked in tx.
//
// The status is changed only when the instance is still in pi.Status.
func setStatus(
	ctx context.Context, tx kpool.Tx, pi domain.PluginInstance,
	update domain.StatusUpdate, debounceIfNotChanged time.Duration,
) (bool, error) {
	var errorCode *string
	if update.ErrorCode != nil {
		c := update.ErrorCode.String()
		errorCode = &c
	}
	var summary, raw []byte
	if update.Summary != nil {
		summary = compress.Pack(update.Summary)
	}
	if update.Raw != nil {
		raw = compress.Pack(update.Raw)
	}

	if update.Status == pi.Status {
		_, err := tx.Exec(
			ctx,
			`
			update "plugin_instance" set
				"lifecycle_suspend_until" = now() + $1,
				"error_code" = coalesce($2, "error_code"),
				"summary" = coalesce($3, "summary"),
				"raw" = coalesce($4, "raw")
			where "id" = $5
			`,
			debounceIfNotChanged, errorCode, summary, raw, int64(pi.Id),
		)
		return false, err
	}

	if err := domain.CanTransit(pi.Status, update.Status); err != nil {
		return false, err
	}

	ctag, err := tx.Exec(
		ctx,
		`
		update "plugin_instance" set
			"status" = $1,
			"status_changed_at" = now(),
			"lifecycle_suspend_until" = now(),
			"end_date" = case when $2 then now() else "end_date" end,
			"error_code" = coalesce($3, "error_code"),
			"summary" = coalesce($4, "summary"),
			"raw" = coalesce($5, "raw")
		where "id" = $6 and "status" = $7
		`,
		update.Status.String(), update.Status.Terminal(), errorCode, summary, raw,
		int64(pi.Id), pi.Status.String(),
	)
	if err != nil {
		return false, err
	}
	return ctag.RowsAffected() == 1, nil
}

func (m *instancePG) PickAndSetStatus(
	ctx context.Context, cursor domain.InstanceCursor, task kdb.Task,
) (domain.InstanceCursor, bool, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return cursor, false, err
	}
	defer tx.Rollback(ctx)

	var id int64
	if err := tx.QueryRow(
		ctx,
		`
		select "id" from "plugin_instance"
		where
			"status" = any($1::varchar[])
			and "lifecycle_suspend_until" <= now()
		order by "id" <= $2, "id"
		limit 1
		for no key update skip locked
		`,
		slices.Map(cursor.Status, domain.InstanceStatus.String),
		int64(cursor.Head),
	).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cursor, false, nil
		}
		return cursor, false, err
	}

	instances, err := kpgintr.GetInstances(ctx, tx, []domain.InstanceID{domain.InstanceID(id)})
	if err != nil {
		return cursor, false, err
	}
	pi := instances[domain.InstanceID(id)]

	// cursor is moved!
	cursor = domain.InstanceCursor{
		Head:     pi.Id,
		Debounce: cursor.Debounce,
		Status:   cursor.Status,
	}

	update, err := task(pi)
	if err != nil {
		return cursor, false, err
	}
	changed, err := setStatus(ctx, tx, pi, update, cursor.Debounce)
	if err != nil {
		return cursor, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return cursor, false, err
	}
	return cursor, changed, nil
}

func (m *instancePG) LockAndSetStatus(ctx context.Context, id domain.InstanceID, task kdb.Task) (bool, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var locked int64
	if err := tx.QueryRow(
		ctx,
		`select "id" from "plugin_instance" where "id" = $1 for no key update skip locked`,
		int64(id),
	).Scan(&locked); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, err
		}
		var exists bool
		if err := m.pool.QueryRow(
			ctx, `select exists (select 1 from "plugin_instance" where "id" = $1)`, int64(id),
		).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, missing(id)
		}
		// locked by others
		return false, nil
	}

	instances, err := kpgintr.GetInstances(ctx, tx, []domain.InstanceID{id})
	if err != nil {
		return false, err
	}
	pi := instances[id]

	update, err := task(pi)
	if err != nil {
		return false, err
	}
	changed, err := setStatus(ctx, tx, pi, update, 0)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return changed, nil
}

func (m *instancePG) CompareAndSetStatus(
	ctx context.Context, id domain.InstanceID, expected domain.InstanceStatus, update domain.StatusUpdate,
) (bool, error) {
	if err := domain.CanTransit(expected, update.Status); err != nil {
		return false, err
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	changed, err := setStatus(
		ctx, tx, domain.PluginInstance{Id: id, Status: expected}, update, 0,
	)
	if err != nil {
		return false, err
	}
	if !changed {
		var exists bool
		if err := tx.QueryRow(
			ctx, `select exists (select 1 from "plugin_instance" where "id" = $1)`, int64(id),
		).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, missing(id)
		}
		return false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (m *instancePG) SetErrorCode(ctx context.Context, id domain.InstanceID, code domain.ErrorCode) error {
	ctag, err := m.pool.Exec(
		ctx,
		`update "plugin_instance" set "error_code" = $1 where "id" = $2`,
		code.String(), int64(id),
	)
	if err != nil {
		return err
	}
	if ctag.RowsAffected() == 0 {
		return missing(id)
	}
	return nil
}

func (m *instancePG) AddFile(ctx context.Context, id domain.InstanceID, path string) (bool, error) {
	ctag, err := m.pool.Exec(
		ctx,
		`
		insert into "plugin_instance_file" ("plugin_instance_id", "path")
		values ($1, $2)
		on conflict do nothing
		`,
		int64(id), path,
	)
	if err != nil {
		var pgerr *pgconn.PgError
		if errors.As(err, &pgerr) && pgerr.Code == pgerrcode.ForeignKeyViolation {
			return false, xe.WrapAsOuter(missing(id), 1)
		}
		return false, err
	}
	return ctag.RowsAffected() == 1, nil
}

func (m *instancePG) Files(ctx context.Context, id domain.InstanceID) ([]domain.InstanceFile, error) {
	type fileRow struct {
		Id               int64
		PluginInstanceId int64
		Path             string
		CreatedAt        time.Time
	}
	rows, err := scanner.New[fileRow]().QueryAll(
		ctx, m.pool,
		`
		select "id", "plugin_instance_id", "path", "created_at"
		from "plugin_instance_file"
		where "plugin_instance_id" = $1
		order by "path"
		`,
		int64(id),
	)
	if err != nil {
		return nil, err
	}
	return slices.Map(rows, func(r fileRow) domain.InstanceFile {
		return domain.InstanceFile{
			Id:           r.Id,
			InstanceId:   domain.InstanceID(r.PluginInstanceId),
			Path:         r.Path,
			CreationDate: r.CreatedAt,
		}
	}), nil
}
