// Package testenv prepares in-memory sqlite stores with fs, ds and ts plugins registered.
package testenv

import (
	"context"
	"testing"
	"time"

	conngorm "github.com/fnndsc/plinst/pkg/conn/db/gormdb"
	"github.com/fnndsc/plinst/pkg/domain"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	"github.com/fnndsc/plinst/pkg/domain/instance/db/gormdb"
	tables "github.com/fnndsc/plinst/pkg/domain/internal/db/gormdb"
	plugindb "github.com/fnndsc/plinst/pkg/domain/plugin/db"
	plugingorm "github.com/fnndsc/plinst/pkg/domain/plugin/db/gormdb"
	"github.com/fnndsc/plinst/pkg/utils/try"
	"gorm.io/gorm"
)

type Fixture struct {
	DB        *gorm.DB
	Instances kdb.Interface
	Plugins   plugindb.Interface

	// ids of pl-dircopy, pl-simpledsapp and pl-topologicalcopy.
	FS, DS, TS domain.PluginID
}

func Setup(t *testing.T, options ...gormdb.Option) Fixture {
	t.Helper()
	db := try.To(conngorm.Open(conngorm.SQLite, "file::memory:")).OrFatal(t)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	if err := tables.Migrate(db); err != nil {
		t.Fatal(err)
	}

	plugins := plugingorm.New(db)
	limits := domain.LimitRange{
		Min: domain.ResourceLimits{CPU: 1000, Memory: 200, Workers: 1},
		Max: domain.ResourceLimits{CPU: 2000, Memory: 400, Workers: 2},
	}
	ctx := context.Background()
	fs := try.To(plugins.Register(ctx, domain.PluginSpec{
		Name: "pl-dircopy", Version: "2.1.1", Type: domain.FS, Image: "fnndsc/pl-dircopy:2.1.1",
		SelfPath: "/usr/local/bin", SelfExec: "dircopy",
		Limits: limits,
		Parameters: []domain.ParameterSpec{
			{Name: "dir", Flag: "--dir", Type: domain.PathParam, Action: "store", Optional: true},
		},
	})).OrFatal(t)
	ds := try.To(plugins.Register(ctx, domain.PluginSpec{
		Name: "pl-simpledsapp", Version: "2.1.0", Type: domain.DS, Image: "fnndsc/pl-simpledsapp:2.1.0",
		ExecShell: "python3", SelfPath: "/usr/local/bin", SelfExec: "simpledsapp",
		Limits: limits,
		Parameters: []domain.ParameterSpec{
			{Name: "prefix", Flag: "--prefix", Type: domain.StringParam, Action: "store", Optional: true},
		},
	})).OrFatal(t)
	ts := try.To(plugins.Register(ctx, domain.PluginSpec{
		Name: "pl-topologicalcopy", Version: "0.2", Type: domain.TS, Image: "fnndsc/pl-topologicalcopy:0.2",
		SelfPath: "/usr/local/bin", SelfExec: "topologicalcopy",
		Limits: limits,
		Parameters: []domain.ParameterSpec{
			{Name: domain.ParamPluginInstances, Flag: "--plugininstances", Type: domain.StringParam, Action: "store", Optional: true},
		},
	})).OrFatal(t)

	return Fixture{
		DB:        db,
		Instances: gormdb.New(db, options...),
		Plugins:   plugins,
		FS:        fs, DS: ds, TS: ts,
	}
}

// New creates an instance. Owner is "chris" and the compute resource is "host" unless specified.
func (f Fixture) New(t *testing.T, spec domain.InstanceSpec) domain.InstanceID {
	t.Helper()
	if spec.Owner == "" {
		spec.Owner = "chris"
	}
	if spec.ComputeResource == "" {
		spec.ComputeResource = "host"
	}
	if spec.Limits == (domain.ResourceLimits{}) {
		spec.Limits = domain.ResourceLimits{CPU: 1000, Memory: 200, Workers: 1}
	}
	return try.To(f.Instances.New(context.Background(), spec)).OrFatal(t)
}

// Force overwrites status of the instance, bypassing the state machine.
func (f Fixture) Force(t *testing.T, id domain.InstanceID, status domain.InstanceStatus, changedAt time.Time) {
	t.Helper()
	if err := f.DB.Model(&tables.PluginInstance{}).Where("id = ?", int64(id)).Updates(map[string]interface{}{
		"status":            status.String(),
		"status_changed_at": changedAt.UTC(),
		"suspend_until":     changedAt.UTC(),
	}).Error; err != nil {
		t.Fatal(err)
	}
}

func (f Fixture) Get(t *testing.T, id domain.InstanceID) domain.PluginInstance {
	t.Helper()
	got := try.To(f.Instances.Get(context.Background(), []domain.InstanceID{id})).OrFatal(t)
	pi, ok := got[id]
	if !ok {
		t.Fatalf("instance %d is not found", id)
	}
	return pi
}

func (f Fixture) Files(t *testing.T, id domain.InstanceID) []string {
	t.Helper()
	files := try.To(f.Instances.Files(context.Background(), id)).OrFatal(t)
	paths := make([]string, 0, len(files))
	for _, file := range files {
		paths = append(paths, file.Path)
	}
	return paths
}
