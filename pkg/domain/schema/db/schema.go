package db

import "context"

// SchemaInterface manages versions of the tables in a database.
type SchemaInterface interface {
	// Upgrade applies versions newer than the one in the database, in order.
	Upgrade(ctx context.Context) error

	// Version is the version the database is at. 0 means no tables.
	Version(ctx context.Context) (int, error)

	// Context derives a context cancelled when the database does not match the latest version,
	// now or later. Processes should stop working with such databases.
	Context(ctx context.Context) (context.Context, context.CancelFunc)
}
