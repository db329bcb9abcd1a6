// Package schema bundles schema managers of the backing stores.
package schema

import "github.com/fnndsc/plinst/pkg/domain/schema/db"

type Interface interface {
	// Database manages tables of instances and plugins.
	Database() db.SchemaInterface
}

type schema struct {
	database db.SchemaInterface
}

func New(database db.SchemaInterface) Interface {
	return schema{database: database}
}

func (s schema) Database() db.SchemaInterface {
	return s.database
}
