// Package gormdb opens gorm connections for sqlite, postgres or mysql.
package gormdb

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Driver string

const (
	SQLite   Driver = "sqlite"
	Postgres Driver = "postgres"
	MySQL    Driver = "mysql"
)

func AsDriver(s string) (Driver, error) {
	switch d := Driver(s); d {
	case SQLite, Postgres, MySQL:
		return d, nil
	default:
		return "", fmt.Errorf("unknown gorm driver: %s", s)
	}
}

type config struct {
	logger        *log.Logger
	slowThreshold time.Duration
}

type Option func(*config) *config

// WithLogger sends sql logs to l. Only slow queries and errors are logged.
func WithLogger(l *log.Logger) Option {
	return func(c *config) *config {
		c.logger = l
		return c
	}
}

func WithSlowThreshold(d time.Duration) Option {
	return func(c *config) *config {
		c.slowThreshold = d
		return c
	}
}

// Open connects to dsn with driver.
//
// For sqlite, connections are limited to one, because sqlite does not work well
// with concurrent writers.
func Open(driver Driver, dsn string, options ...Option) (*gorm.DB, error) {
	c := &config{slowThreshold: time.Second}
	for _, o := range options {
		c = o(c)
	}

	var dialector gorm.Dialector
	switch driver {
	case SQLite:
		dialector = sqlite.Open(dsn)
	case Postgres:
		dialector = postgres.Open(dsn)
	case MySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown gorm driver: %s", driver)
	}

	gl := logger.Discard
	if c.logger != nil {
		gl = logger.New(c.logger, logger.Config{
			SlowThreshold:             c.slowThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gl,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}

	if driver == SQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}
