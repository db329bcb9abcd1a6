// Package gormdb opens stores on sqlite or mysql through gorm.
package gormdb

import (
	conngorm "github.com/fnndsc/plinst/pkg/conn/db/gormdb"
	kinstance "github.com/fnndsc/plinst/pkg/domain/instance/db"
	kgorminstance "github.com/fnndsc/plinst/pkg/domain/instance/db/gormdb"
	dbInterface "github.com/fnndsc/plinst/pkg/domain/plinst/db"
	kplugin "github.com/fnndsc/plinst/pkg/domain/plugin/db"
	kgormplugin "github.com/fnndsc/plinst/pkg/domain/plugin/db/gormdb"
	kschema "github.com/fnndsc/plinst/pkg/domain/schema/db"
	kgormschema "github.com/fnndsc/plinst/pkg/domain/schema/db/gormdb"
	xe "github.com/fnndsc/plinst/pkg/errors"
	"gorm.io/gorm"
)

type plinstDBGorm struct {
	db        *gorm.DB
	instances kinstance.Interface
	plugins   kplugin.Interface
	schema    kschema.SchemaInterface
}

func New(driver conngorm.Driver, dsn string, options ...conngorm.Option) (dbInterface.Database, error) {
	db, err := conngorm.Open(driver, dsn, options...)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return &plinstDBGorm{
		db:        db,
		instances: kgorminstance.New(db),
		plugins:   kgormplugin.New(db),
		schema:    kgormschema.New(db),
	}, nil
}

func (k *plinstDBGorm) Instances() kinstance.Interface {
	return k.instances
}

func (k *plinstDBGorm) Plugins() kplugin.Interface {
	return k.plugins
}

func (k *plinstDBGorm) Schema() kschema.SchemaInterface {
	return k.schema
}

func (k *plinstDBGorm) Close() error {
	sqlDB, err := k.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
