package db

import (
	kinstance "github.com/fnndsc/plinst/pkg/domain/instance/db"
	kplugin "github.com/fnndsc/plinst/pkg/domain/plugin/db"
	kschema "github.com/fnndsc/plinst/pkg/domain/schema/db"
)

// Database is a set of stores sharing one connection.
type Database interface {
	Instances() kinstance.Interface
	Plugins() kplugin.Interface
	Schema() kschema.SchemaInterface
	Close() error
}
