package postgres

import (
	"context"

	kpool "github.com/fnndsc/plinst/pkg/conn/db/postgres/pool"
	kinstance "github.com/fnndsc/plinst/pkg/domain/instance/db"
	kpginstance "github.com/fnndsc/plinst/pkg/domain/instance/db/postgres"
	dbInterface "github.com/fnndsc/plinst/pkg/domain/plinst/db"
	kplugin "github.com/fnndsc/plinst/pkg/domain/plugin/db"
	kpgplugin "github.com/fnndsc/plinst/pkg/domain/plugin/db/postgres"
	kschema "github.com/fnndsc/plinst/pkg/domain/schema/db"
	kpgschema "github.com/fnndsc/plinst/pkg/domain/schema/db/postgres"
	xe "github.com/fnndsc/plinst/pkg/errors"
)

type plinstDBPostgres struct {
	pool      kpool.Pool
	instances kinstance.Interface
	plugins   kplugin.Interface
	schema    kschema.SchemaInterface
}

type Config struct {
	// directory of schema versions. Empty means the schema is not managed.
	SchemaRepository string
}

type Option func(*Config) *Config

func WithSchemaRepository(repository string) Option {
	return func(c *Config) *Config {
		c.SchemaRepository = repository
		return c
	}
}

func New(ctx context.Context, url string, options ...Option) (dbInterface.Database, error) {
	p, err := kpool.Connect(ctx, url)
	if err != nil {
		return nil, xe.Wrap(err)
	}

	c := Config{}
	for _, option := range options {
		c = *option(&c)
	}

	schema := kpgschema.Null()
	if c.SchemaRepository != "" {
		schema = kpgschema.New(p, c.SchemaRepository)
	}

	return &plinstDBPostgres{
		pool:      p,
		instances: kpginstance.New(p),
		plugins:   kpgplugin.New(p),
		schema:    schema,
	}, nil
}

func (k *plinstDBPostgres) Instances() kinstance.Interface {
	return k.instances
}

func (k *plinstDBPostgres) Plugins() kplugin.Interface {
	return k.plugins
}

func (k *plinstDBPostgres) Schema() kschema.SchemaInterface {
	return k.schema
}

func (k *plinstDBPostgres) Close() error {
	k.pool.Close()
	return nil
}
