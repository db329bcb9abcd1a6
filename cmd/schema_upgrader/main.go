package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"

	conngorm "github.com/fnndsc/plinst/pkg/conn/db/gormdb"
	dbInterface "github.com/fnndsc/plinst/pkg/domain/plinst/db"
	"github.com/fnndsc/plinst/pkg/domain/plinst/db/gormdb"
	"github.com/fnndsc/plinst/pkg/domain/plinst/db/postgres"
	kio "github.com/fnndsc/plinst/pkg/io"
	"github.com/fnndsc/plinst/pkg/utils/try"
	"github.com/youta-t/flarc"
)

type Flag struct {
	Driver string `flag:"driver" help:"The database driver. One of postgres, sqlite or mysql."`
	DSN    string `flag:"dsn" help:"DSN for sqlite or mysql. Ignored for postgres."`

	Host     string `flag:"host" help:"The host of the postgres database."`
	Port     int    `flag:"port" help:"The port of the postgres database."`
	User     string `flag:"user" help:"The user of the postgres database."`
	Password string `flag:"pass" help:"The password of the postgres database."`
	Database string `flag:"database" help:"The name of the postgres database."`

	Schema string `flag:"schema" help:"The path to the schema repository directory (postgres only)."`
}

const ARG_SCHEMA_DEST = "ARG_SCHEMA_DEST"

func open(ctx context.Context, flags Flag) (dbInterface.Database, error) {
	driver, err := conngorm.AsDriver(flags.Driver)
	if err != nil {
		return nil, err
	}
	if driver != conngorm.Postgres {
		return gormdb.New(driver, flags.DSN)
	}
	return postgres.New(
		ctx,
		fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s",
			flags.User, flags.Password, flags.Host, flags.Port, flags.Database,
		),
		postgres.WithSchemaRepository(flags.Schema),
	)
}

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt, os.Kill,
	)
	defer cancel()

	port := 5432
	if sp := os.Getenv("DB_PORT"); sp != "" {
		if p, err := strconv.Atoi(sp); err == nil {
			port = p
		}
	}
	driver := os.Getenv("DB_DRIVER")
	if driver == "" {
		driver = string(conngorm.Postgres)
	}

	cmd := try.To(flarc.NewCommand(
		"database schema upgrader",
		Flag{
			Driver: driver,
			DSN:    os.Getenv("DB_DSN"),

			Host:     os.Getenv("DB_HOST"),
			Port:     port,
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Database: os.Getenv("DB_NAME"),

			Schema: os.Getenv("PLINST_SCHEMA"),
		},
		flarc.Args{
			{
				Name: ARG_SCHEMA_DEST, Help: "The schema files are copied to these directories.",
				Required: false, Repeatable: false,
			},
		},
		func(ctx context.Context, c flarc.Commandline[Flag], a []any) error {
			flags := c.Flags()

			if dest := c.Args()[ARG_SCHEMA_DEST]; len(dest) != 0 && flags.Schema != "" {
				logger.Println("copying schema files...")
				if err := kio.DirCopy(flags.Schema, dest[0]); err != nil {
					return err
				}
			}

			db, err := open(ctx, flags)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Schema().Upgrade(ctx); err != nil {
				return err
			}
			v, err := db.Schema().Version(ctx)
			if err != nil {
				return err
			}
			logger.Printf("schema is upgraded to version %d", v)
			return nil
		},
	)).OrFatal(logger)

	os.Exit(flarc.Run(ctx, cmd))
}
