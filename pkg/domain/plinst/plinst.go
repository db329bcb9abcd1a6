// Package plinst assembles stores, storage, compute resources and domain services from a backend config.
package plinst

import (
	"context"
	"fmt"
	"log"

	bconf "github.com/fnndsc/plinst/pkg/configs/backend"
	conngorm "github.com/fnndsc/plinst/pkg/conn/db/gormdb"
	"github.com/fnndsc/plinst/pkg/domain/instance/create"
	"github.com/fnndsc/plinst/pkg/domain/instance/dispatch"
	"github.com/fnndsc/plinst/pkg/domain/instance/gate"
	"github.com/fnndsc/plinst/pkg/domain/instance/outputs"
	"github.com/fnndsc/plinst/pkg/domain/instance/reconcile"
	dbInterface "github.com/fnndsc/plinst/pkg/domain/plinst/db"
	"github.com/fnndsc/plinst/pkg/domain/plinst/db/gormdb"
	"github.com/fnndsc/plinst/pkg/domain/plinst/db/postgres"
	"github.com/fnndsc/plinst/pkg/domain/schema"
	xe "github.com/fnndsc/plinst/pkg/errors"
	"github.com/fnndsc/plinst/pkg/workloads/compute"
	"github.com/fnndsc/plinst/pkg/workloads/compute/pfcon"
	"github.com/fnndsc/plinst/pkg/workloads/storage"
	"github.com/fnndsc/plinst/pkg/workloads/storage/memory"
	"github.com/fnndsc/plinst/pkg/workloads/storage/s3"
)

type Plinst interface {
	Config() *bconf.BackendConfig

	Database() dbInterface.Database
	Schema() schema.Interface
	Storage() storage.Store
	Computes() compute.Resolver

	Gate() *gate.Gate
	Dispatcher() *dispatch.Dispatcher
	Reconciler() *reconcile.Reconciler
	Creator() *create.Creator

	Close() error
}

type plinst struct {
	config   *bconf.BackendConfig
	database dbInterface.Database
	schema   schema.Interface
	storage  storage.Store
	computes compute.Resolver

	gate       *gate.Gate
	dispatcher *dispatch.Dispatcher
	reconciler *reconcile.Reconciler
	creator    *create.Creator
}

type Option func(*_options)

type _options struct {
	pg     []postgres.Option
	logger *log.Logger
}

// WithSchemaRepository tells where schema versions of postgres are.
//
// It does nothing for other drivers.
func WithSchemaRepository(repository string) Option {
	return func(o *_options) {
		o.pg = append(o.pg, postgres.WithSchemaRepository(repository))
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(o *_options) {
		o.logger = logger
	}
}

func New(ctx context.Context, config *bconf.BackendConfig, options ...Option) (Plinst, error) {
	opt := &_options{logger: log.Default()}
	for _, o := range options {
		o(opt)
	}

	database, err := OpenDatabase(ctx, config.Database(), opt.pg...)
	if err != nil {
		return nil, err
	}
	store, err := OpenStorage(ctx, config.Storage())
	if err != nil {
		database.Close()
		return nil, err
	}
	computes, err := ConnectComputes(config.Compute())
	if err != nil {
		database.Close()
		return nil, err
	}

	sched := config.Scheduling()
	instances := database.Instances()
	g := gate.New(instances, opt.logger)
	d := dispatch.New(
		dispatch.Config{
			JobIdPrefix:     sched.JobIdPrefix(),
			PlaceholderRoot: sched.PlaceholderRoot(),
		},
		instances, store, computes, opt.logger,
	)
	registrar := outputs.New(
		outputs.Config{
			MaxAttempts: sched.Registration().MaxAttempts(),
			Interval:    sched.Registration().Interval(),
		},
		instances, store, opt.logger,
	)
	r := reconcile.New(
		reconcile.Config{StuckThreshold: sched.StuckThreshold()},
		instances, d, registrar, computes, opt.logger,
	)

	return &plinst{
		config:   config,
		database: database,
		schema:   schema.New(database.Schema()),
		storage:  store,
		computes: computes,

		gate:       g,
		dispatcher: d,
		reconciler: r,
		creator:    create.New(instances, database.Plugins(), g),
	}, nil
}

// OpenDatabase connects to the database in config.
//
// postgres is served by pgx. sqlite and mysql are served by gorm.
func OpenDatabase(ctx context.Context, config *bconf.DatabaseConfig, options ...postgres.Option) (dbInterface.Database, error) {
	switch config.Driver() {
	case bconf.Postgres:
		return postgres.New(ctx, config.URL(), options...)
	case bconf.Sqlite:
		return gormdb.New(conngorm.SQLite, config.URL())
	case bconf.Mysql:
		return gormdb.New(conngorm.MySQL, config.URL())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver())
	}
}

func OpenStorage(ctx context.Context, config *bconf.StorageConfig) (storage.Store, error) {
	switch config.Type() {
	case bconf.S3Storage:
		c := config.S3()
		return s3.New(ctx, s3.Config{
			Endpoint:  c.Endpoint(),
			Bucket:    c.Bucket(),
			AccessKey: c.AccessKey(),
			SecretKey: c.SecretKey(),
			UseSSL:    c.UseSSL(),
			Region:    c.Region(),
		})
	case bconf.MemoryStorage:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type())
	}
}

// ConnectComputes makes pfcon clients for each compute resource, keyed by its name.
func ConnectComputes(configs []*bconf.ComputeConfig) (compute.Resolver, error) {
	clients := map[string]compute.Client{}
	for _, c := range configs {
		client, err := pfcon.New(pfcon.Config{
			URL:               c.URL(),
			User:              c.User(),
			Password:          c.Password(),
			Timeout:           c.Timeout(),
			RequestsPerSecond: c.RequestsPerSecond(),
			MaxAttempts:       c.Retry().MaxAttempts(),
			InitialInterval:   c.Retry().InitialInterval(),
		})
		if err != nil {
			return nil, xe.WrapWithNote(c.Name(), err)
		}
		clients[c.Name()] = client
	}
	return compute.NewResolver(clients), nil
}

func (p *plinst) Config() *bconf.BackendConfig {
	return p.config
}

func (p *plinst) Database() dbInterface.Database {
	return p.database
}

func (p *plinst) Schema() schema.Interface {
	return p.schema
}

func (p *plinst) Storage() storage.Store {
	return p.storage
}

func (p *plinst) Computes() compute.Resolver {
	return p.computes
}

func (p *plinst) Gate() *gate.Gate {
	return p.gate
}

func (p *plinst) Dispatcher() *dispatch.Dispatcher {
	return p.dispatcher
}

func (p *plinst) Reconciler() *reconcile.Reconciler {
	return p.reconciler
}

func (p *plinst) Creator() *create.Creator {
	return p.creator
}

func (p *plinst) Close() error {
	return p.database.Close()
}
