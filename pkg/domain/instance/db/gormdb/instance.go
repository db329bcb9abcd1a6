// Package gormdb implements instance database with gorm.
//
// Rows are claimed by writing a lock owner on them, since not every database gorm supports
// has row locks with "skip locked". Claims are released when the task is done,
// and claims older than the claim lifetime are considered abandoned.
package gormdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fnndsc/plinst/pkg/domain"
	domerr "github.com/fnndsc/plinst/pkg/domain/errors"
	"github.com/fnndsc/plinst/pkg/domain/errors/dberrors"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	tables "github.com/fnndsc/plinst/pkg/domain/internal/db/gormdb"
	"github.com/fnndsc/plinst/pkg/utils/compress"
	"github.com/fnndsc/plinst/pkg/utils/slices"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const table = "plugin_instance"

type instanceGorm struct {
	db *gorm.DB

	// claims older than this are void.
	claimLifetime time.Duration

	// candidates fetched at once by PickAndSetStatus.
	pickBatch int

	now func() time.Time
}

type Option func(*instanceGorm) *instanceGorm

// WithClaimLifetime sets how long a claim lasts at most.
//
// It should be longer than tasks take. Default is 10 minutes.
func WithClaimLifetime(d time.Duration) Option {
	return func(ig *instanceGorm) *instanceGorm {
		ig.claimLifetime = d
		return ig
	}
}

// WithClock replaces the clock.
func WithClock(now func() time.Time) Option {
	return func(ig *instanceGorm) *instanceGorm {
		ig.now = now
		return ig
	}
}

func New(db *gorm.DB, options ...Option) kdb.Interface {
	ig := &instanceGorm{
		db:            db,
		claimLifetime: 10 * time.Minute,
		pickBatch:     16,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, o := range options {
		ig = o(ig)
	}
	return ig
}

var _ kdb.Interface = &instanceGorm{}

func missing(id domain.InstanceID) error {
	return dberrors.Missing{Table: table, Identity: fmt.Sprintf("id = %d", id)}
}

func (m *instanceGorm) New(ctx context.Context, spec domain.InstanceSpec) (domain.InstanceID, error) {
	var newId int64
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plugin := tables.Plugin{}
		if err := tx.Preload("Parameters").First(&plugin, int64(spec.PluginId)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return dberrors.Missing{Table: "plugin", Identity: fmt.Sprintf("id = %d", spec.PluginId)}
			}
			return err
		}

		now := m.now()
		row := tables.PluginInstance{
			Title:           spec.Title,
			Status:          domain.Created.String(),
			StatusChangedAt: now,
			StartDate:       now,
			Owner:           spec.Owner,
			ComputeResource: spec.ComputeResource,
			CPULimit:        spec.Limits.CPU,
			MemoryLimit:     spec.Limits.Memory,
			NumberOfWorkers: spec.Limits.Workers,
			GPULimit:        spec.Limits.GPU,
			PluginID:        plugin.ID,
			SuspendUntil:    now,
		}

		switch domain.PluginType(plugin.Type) {
		case domain.FS:
			if spec.Previous != nil {
				return fmt.Errorf("%w: fs instance cannot have previous", domain.ErrInvalidRequest)
			}
			feed := tables.Feed{Name: spec.FeedName, Owner: spec.Owner, CreatedAt: now}
			if err := tx.Create(&feed).Error; err != nil {
				return err
			}
			row.FeedID = feed.ID
		case domain.DS, domain.TS:
			if spec.Previous == nil {
				return fmt.Errorf("%w: %s instance requires previous", domain.ErrInvalidRequest, plugin.Type)
			}
			prev := tables.PluginInstance{}
			if err := tx.Select("id", "feed_id").First(&prev, int64(*spec.Previous)).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return missing(*spec.Previous)
				}
				return err
			}
			row.FeedID = prev.FeedID
			row.PreviousID = sql.NullInt64{Int64: prev.ID, Valid: true}
		default:
			return fmt.Errorf("%w: unknown plugin type %q", domain.ErrInvalidRequest, plugin.Type)
		}

		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		params := make([]tables.PluginInstanceParameter, 0, len(spec.Parameters))
		for name, value := range spec.Parameters {
			pp, ok := slices.First(plugin.Parameters, func(pp tables.PluginParameter) bool { return pp.Name == name })
			if !ok {
				return dberrors.Missing{
					Table:    "plugin_parameter",
					Identity: fmt.Sprintf("plugin_id = %d, name = %s", plugin.ID, name),
				}
			}
			params = append(params, tables.PluginInstanceParameter{
				PluginInstanceID: row.ID, PluginParameterID: pp.ID, Value: value,
			})
		}
		if len(params) != 0 {
			if err := tx.Create(&params).Error; err != nil {
				return err
			}
		}

		newId = row.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return domain.InstanceID(newId), nil
}

func (m *instanceGorm) Get(ctx context.Context, ids []domain.InstanceID) (map[domain.InstanceID]domain.PluginInstance, error) {
	return get(m.db.WithContext(ctx), ids)
}

func get(db *gorm.DB, ids []domain.InstanceID) (map[domain.InstanceID]domain.PluginInstance, error) {
	ret := map[domain.InstanceID]domain.PluginInstance{}
	if len(ids) == 0 {
		return ret, nil
	}
	rawIds := slices.Map(ids, func(id domain.InstanceID) int64 { return int64(id) })

	rows := []tables.PluginInstance{}
	if err := db.Where("id IN ?", rawIds).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return ret, nil
	}

	pluginIds := slices.Uniq(slices.Map(rows, func(r tables.PluginInstance) int64 { return r.PluginID }))
	plugins := []tables.Plugin{}
	if err := db.Preload("Parameters").Where("id IN ?", pluginIds).Find(&plugins).Error; err != nil {
		return nil, err
	}
	pluginById := slices.ToMap(plugins, func(p tables.Plugin) int64 { return p.ID })

	feedIds := slices.Uniq(slices.Map(rows, func(r tables.PluginInstance) int64 { return r.FeedID }))
	feeds := []tables.Feed{}
	if err := db.Where("id IN ?", feedIds).Find(&feeds).Error; err != nil {
		return nil, err
	}
	feedById := slices.ToMap(feeds, func(f tables.Feed) int64 { return f.ID })

	values := []tables.PluginInstanceParameter{}
	if err := db.Where("plugin_instance_id IN ?", rawIds).Order("id").Find(&values).Error; err != nil {
		return nil, err
	}
	valuesByInstance := map[int64][]tables.PluginInstanceParameter{}
	for _, v := range values {
		valuesByInstance[v.PluginInstanceID] = append(valuesByInstance[v.PluginInstanceID], v)
	}

	for _, r := range rows {
		pi, err := r.ToDomain()
		if err != nil {
			return nil, err
		}
		plugin := pluginById[r.PluginID].ToDomain()
		pi.Plugin = plugin

		f := feedById[r.FeedID]
		pi.Feed = domain.Feed{Id: domain.FeedID(f.ID), Name: f.Name, Owner: f.Owner}

		for _, v := range valuesByInstance[r.ID] {
			spec, ok := slices.First(plugin.Parameters, func(ps domain.ParameterSpec) bool {
				return ps.Id == v.PluginParameterID
			})
			if !ok {
				continue
			}
			pi.Parameters = append(pi.Parameters, domain.ParameterValue{Spec: spec, Value: v.Value})
		}
		ret[pi.Id] = pi
	}
	return ret, nil
}

func (m *instanceGorm) Find(ctx context.Context, query domain.InstanceFindQuery) ([]domain.InstanceID, error) {
	q := m.db.WithContext(ctx).Model(&tables.PluginInstance{})
	if len(query.Status) != 0 {
		q = q.Where("status IN ?", slices.Map(query.Status, domain.InstanceStatus.String))
	}
	if len(query.ErrorCode) != 0 {
		q = q.Where("error_code IN ?", slices.Map(query.ErrorCode, domain.ErrorCode.String))
	}
	if query.StatusChangedBefore != nil {
		q = q.Where("status_changed_at < ?", query.StatusChangedBefore.UTC())
	}
	if query.Previous != nil {
		q = q.Where("previous_id = ?", int64(*query.Previous))
	}

	ids := []int64{}
	if err := q.Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return slices.Map(ids, func(i int64) domain.InstanceID { return domain.InstanceID(i) }), nil
}

func (m *instanceGorm) Ancestry(ctx context.Context, id domain.InstanceID) ([]domain.PluginInstance, error) {
	db := m.db.WithContext(ctx)

	chain := []domain.PluginInstance{}
	seen := map[int64]struct{}{}
	next := sql.NullInt64{Int64: int64(id), Valid: true}
	for next.Valid {
		if _, ok := seen[next.Int64]; ok {
			return nil, fmt.Errorf("instance %d: cyclic ancestry", id)
		}
		seen[next.Int64] = struct{}{}

		row := tables.PluginInstance{}
		if err := db.First(&row, next.Int64).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, missing(domain.InstanceID(next.Int64))
			}
			return nil, err
		}
		plugin := tables.Plugin{}
		if err := db.First(&plugin, row.PluginID).Error; err != nil {
			return nil, err
		}
		pi, err := row.ToDomain()
		if err != nil {
			return nil, err
		}
		pi.Plugin = plugin.ToDomain()
		chain = append(chain, pi)
		next = row.PreviousID
	}

	// root first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// claim tries to take the row for owner.
//
// statuses narrows rows to be claimed. Empty means any status.
func (m *instanceGorm) claim(db *gorm.DB, id int64, owner string, statuses []string, honourSuspend bool) (bool, error) {
	now := m.now()
	q := db.Model(&tables.PluginInstance{}).
		Where("id = ?", id).
		Where("lock_owner IS NULL OR locked_at < ?", now.Add(-m.claimLifetime))
	if len(statuses) != 0 {
		q = q.Where("status IN ?", statuses)
	}
	if honourSuspend {
		q = q.Where("suspend_until <= ?", now)
	}
	res := q.Updates(map[string]interface{}{
		"lock_owner": owner,
		"locked_at":  now,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (m *instanceGorm) release(db *gorm.DB, id int64, owner string) error {
	return db.Model(&tables.PluginInstance{}).
		Where("id = ? AND lock_owner = ?", id, owner).
		Updates(map[string]interface{}{"lock_owner": nil, "locked_at": nil}).Error
}

func updateColumns(u domain.StatusUpdate) map[string]interface{} {
	cols := map[string]interface{}{}
	if u.ErrorCode != nil {
		cols["error_code"] = u.ErrorCode.String()
	}
	if u.Summary != nil {
		cols["summary"] = compress.Pack(u.Summary)
	}
	if u.Raw != nil {
		cols["raw"] = compress.Pack(u.Raw)
	}
	return cols
}

// apply writes the result of task on the claimed row, and releases the claim.
func (m *instanceGorm) apply(
	db *gorm.DB, pi domain.PluginInstance, owner string,
	update domain.StatusUpdate, debounce time.Duration,
) (bool, error) {
	id := int64(pi.Id)
	now := m.now()
	cols := updateColumns(update)
	cols["lock_owner"] = nil
	cols["locked_at"] = nil

	if update.Status == pi.Status {
		cols["suspend_until"] = now.Add(debounce)
		return false, db.Model(&tables.PluginInstance{}).
			Where("id = ? AND lock_owner = ?", id, owner).
			Updates(cols).Error
	}

	if err := domain.CanTransit(pi.Status, update.Status); err != nil {
		return false, errors.Join(err, m.release(db, id, owner))
	}

	cols["status"] = update.Status.String()
	cols["status_changed_at"] = now
	cols["suspend_until"] = now
	if update.Status.Terminal() {
		cols["end_date"] = now
	}
	res := db.Model(&tables.PluginInstance{}).
		Where("id = ? AND lock_owner = ? AND status = ?", id, owner, pi.Status.String()).
		Updates(cols)
	if res.Error != nil {
		return false, errors.Join(res.Error, m.release(db, id, owner))
	}
	if res.RowsAffected != 1 {
		// someone has changed status while task is running.
		return false, m.release(db, id, owner)
	}
	return true, nil
}

// runClaimed runs task on the claimed row and applies its result.
//
// The claim is released even if task panics.
func (m *instanceGorm) runClaimed(
	ctx context.Context, id int64, owner string, task kdb.Task, debounce time.Duration,
) (bool, error) {
	// releasing should be done even if ctx is cancelled.
	db := m.db.WithContext(context.WithoutCancel(ctx))
	released := false
	defer func() {
		if !released {
			m.release(db, id, owner)
		}
	}()

	found, err := get(m.db.WithContext(ctx), []domain.InstanceID{domain.InstanceID(id)})
	if err != nil {
		return false, err
	}
	pi, ok := found[domain.InstanceID(id)]
	if !ok {
		return false, missing(domain.InstanceID(id))
	}

	update, err := task(pi)
	if err != nil {
		return false, err
	}

	released = true
	return m.apply(db, pi, owner, update, debounce)
}

func (m *instanceGorm) PickAndSetStatus(
	ctx context.Context, cursor domain.InstanceCursor, task kdb.Task,
) (domain.InstanceCursor, bool, error) {
	db := m.db.WithContext(ctx)
	statuses := slices.Map(cursor.Status, domain.InstanceStatus.String)
	now := m.now()

	candidates := []int64{}
	if err := db.Model(&tables.PluginInstance{}).
		Where("status IN ?", statuses).
		Where("suspend_until <= ?", now).
		Where("lock_owner IS NULL OR locked_at < ?", now.Add(-m.claimLifetime)).
		Clauses(clause.OrderBy{
			Expression: clause.Expr{
				SQL:                "id <= ?, id",
				Vars:               []interface{}{int64(cursor.Head)},
				WithoutParentheses: true,
			},
		}).
		Limit(m.pickBatch).
		Pluck("id", &candidates).Error; err != nil {
		return cursor, false, err
	}

	owner := uuid.NewString()
	for _, id := range candidates {
		ok, err := m.claim(db, id, owner, statuses, true)
		if err != nil {
			return cursor, false, err
		}
		if !ok {
			continue
		}

		// cursor is moved!
		next := domain.InstanceCursor{
			Head:     domain.InstanceID(id),
			Debounce: cursor.Debounce,
			Status:   cursor.Status,
		}
		changed, err := m.runClaimed(ctx, id, owner, task, cursor.Debounce)
		return next, changed, err
	}

	return cursor, false, nil
}

func (m *instanceGorm) LockAndSetStatus(ctx context.Context, id domain.InstanceID, task kdb.Task) (bool, error) {
	db := m.db.WithContext(ctx)

	var count int64
	if err := db.Model(&tables.PluginInstance{}).Where("id = ?", int64(id)).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, missing(id)
	}

	owner := uuid.NewString()
	ok, err := m.claim(db, int64(id), owner, nil, false)
	if err != nil || !ok {
		return false, err
	}
	return m.runClaimed(ctx, int64(id), owner, task, 0)
}

func (m *instanceGorm) CompareAndSetStatus(
	ctx context.Context, id domain.InstanceID, expected domain.InstanceStatus, update domain.StatusUpdate,
) (bool, error) {
	if err := domain.CanTransit(expected, update.Status); err != nil {
		return false, err
	}
	db := m.db.WithContext(ctx)

	now := m.now()
	cols := updateColumns(update)
	cols["status"] = update.Status.String()
	cols["status_changed_at"] = now
	cols["suspend_until"] = now
	if update.Status.Terminal() {
		cols["end_date"] = now
		// terminal instances are never picked again.
		cols["lock_owner"] = nil
		cols["locked_at"] = nil
	}

	voidBefore := now.Add(-m.claimLifetime)
	res := db.Model(&tables.PluginInstance{}).
		Where("id = ? AND status = ?", int64(id), expected.String()).
		Where("lock_owner IS NULL OR locked_at < ?", voidBefore).
		Updates(cols)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	current := tables.PluginInstance{}
	found := db.Model(&tables.PluginInstance{}).
		Select("status", "lock_owner", "locked_at").
		Where("id = ?", int64(id)).
		Limit(1).
		Find(&current)
	if found.Error != nil {
		return false, found.Error
	}
	if found.RowsAffected == 0 {
		return false, missing(id)
	}
	if current.Status == expected.String() && current.LockOwner.Valid &&
		current.LockedAt.Valid && !current.LockedAt.Time.Before(voidBefore) {
		return false, fmt.Errorf("%w: instance %d is claimed by a task", domerr.ErrLocked, id)
	}
	return false, nil
}

func (m *instanceGorm) SetErrorCode(ctx context.Context, id domain.InstanceID, code domain.ErrorCode) error {
	res := m.db.WithContext(ctx).Model(&tables.PluginInstance{}).
		Where("id = ?", int64(id)).
		Update("error_code", code.String())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// mysql reports 0 rows for unchanged values. Tell it from missing.
		var count int64
		if err := m.db.WithContext(ctx).Model(&tables.PluginInstance{}).
			Where("id = ?", int64(id)).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return missing(id)
		}
	}
	return nil
}

func (m *instanceGorm) AddFile(ctx context.Context, id domain.InstanceID, path string) (bool, error) {
	db := m.db.WithContext(ctx)

	var count int64
	if err := db.Model(&tables.PluginInstance{}).Where("id = ?", int64(id)).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, missing(id)
	}

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&tables.PluginInstanceFile{
		PluginInstanceID: int64(id),
		Path:             path,
		CreatedAt:        m.now(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (m *instanceGorm) Files(ctx context.Context, id domain.InstanceID) ([]domain.InstanceFile, error) {
	rows := []tables.PluginInstanceFile{}
	if err := m.db.WithContext(ctx).
		Where("plugin_instance_id = ?", int64(id)).
		Order("path").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return slices.Map(rows, tables.PluginInstanceFile.ToDomain), nil
}
