package gormdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/domain/errors/dberrors"
	tables "github.com/fnndsc/plinst/pkg/domain/internal/db/gormdb"
	kdb "github.com/fnndsc/plinst/pkg/domain/plugin/db"
	"github.com/fnndsc/plinst/pkg/utils/slices"
	"gorm.io/gorm"
)

type pluginGorm struct {
	db *gorm.DB
}

func New(db *gorm.DB) kdb.Interface {
	return &pluginGorm{db: db}
}

func (m *pluginGorm) Register(ctx context.Context, spec domain.PluginSpec) (domain.PluginID, error) {
	row := tables.Plugin{
		Name:       spec.Name,
		Version:    spec.Version,
		Type:       spec.Type.String(),
		Image:      spec.Image,
		ExecShell:  spec.ExecShell,
		SelfPath:   spec.SelfPath,
		SelfExec:   spec.SelfExec,
		MinCPU:     spec.Limits.Min.CPU,
		MaxCPU:     spec.Limits.Max.CPU,
		MinMemory:  spec.Limits.Min.Memory,
		MaxMemory:  spec.Limits.Max.Memory,
		MinWorkers: spec.Limits.Min.Workers,
		MaxWorkers: spec.Limits.Max.Workers,
		MinGPU:     spec.Limits.Min.GPU,
		MaxGPU:     spec.Limits.Max.GPU,
	}
	for _, p := range spec.Parameters {
		pp := tables.PluginParameter{
			Name:     p.Name,
			Flag:     p.Flag,
			Type:     p.Type.String(),
			Action:   p.Action,
			Optional: p.Optional,
		}
		if p.Default != nil {
			pp.Default = sql.NullString{String: *p.Default, Valid: true}
		}
		row.Parameters = append(row.Parameters, pp)
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&tables.Plugin{}).
			Where("name = ? AND version = ?", spec.Name, spec.Version).
			Count(&count).Error; err != nil {
			return err
		}
		if count != 0 {
			return dberrors.Conflict{
				Table:    "plugin",
				Identity: fmt.Sprintf("name = %s, version = %s", spec.Name, spec.Version),
				Reason:   "already registered",
			}
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return 0, err
	}
	return domain.PluginID(row.ID), nil
}

func (m *pluginGorm) Get(ctx context.Context, ids []domain.PluginID) (map[domain.PluginID]domain.Plugin, error) {
	ret := map[domain.PluginID]domain.Plugin{}
	if len(ids) == 0 {
		return ret, nil
	}
	rows := []tables.Plugin{}
	if err := m.db.WithContext(ctx).
		Preload("Parameters", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("id IN ?", slices.Map(ids, func(id domain.PluginID) int64 { return int64(id) })).
		Find(&rows).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ret, nil
		}
		return nil, err
	}
	for _, r := range rows {
		p := r.ToDomain()
		ret[p.Id] = p
	}
	return ret, nil
}
