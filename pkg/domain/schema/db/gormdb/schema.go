// Package gormdb manages the schema of gorm-backed databases with auto migration.
package gormdb

import (
	"context"
	"fmt"

	tables "github.com/fnndsc/plinst/pkg/domain/internal/db/gormdb"
	"github.com/fnndsc/plinst/pkg/domain/schema/db"
	"gorm.io/gorm"
)

// Latest is the version recorded after auto migration.
//
// Increment it when gorm models change.
const Latest = 1

type schemaVersion struct {
	Version int `gorm:"primaryKey;autoIncrement:false"`
}

func (*schemaVersion) TableName() string {
	return "schema_version"
}

type gormSchema struct {
	db *gorm.DB
}

var _ db.SchemaInterface = &gormSchema{}

func New(db *gorm.DB) db.SchemaInterface {
	return &gormSchema{db: db}
}

func (s *gormSchema) Version(ctx context.Context) (int, error) {
	conn := s.db.WithContext(ctx)
	if !conn.Migrator().HasTable(&schemaVersion{}) {
		return 0, nil
	}
	var version int
	if err := conn.Model(&schemaVersion{}).
		Select("coalesce(max(version), 0)").
		Scan(&version).Error; err != nil {
		return -1, err
	}
	return version, nil
}

func (s *gormSchema) Upgrade(ctx context.Context) error {
	conn := s.db.WithContext(ctx)
	if err := tables.Migrate(conn); err != nil {
		return err
	}
	if err := conn.AutoMigrate(&schemaVersion{}); err != nil {
		return err
	}
	return conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&schemaVersion{}).Error; err != nil {
			return err
		}
		return tx.Create(&schemaVersion{Version: Latest}).Error
	})
}

// Context is cancelled at once when the schema is older than Latest.
//
// Models are compiled in, so the requirement never changes while running.
func (s *gormSchema) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, can := context.WithCancelCause(ctx)
	current, err := s.Version(ctx)
	if err != nil {
		can(fmt.Errorf("failed to get current schema version: %w", err))
	} else if current < Latest {
		can(fmt.Errorf("schema is outdated: %d (in db) < %d", current, Latest))
	}
	return cctx, func() { can(nil) }
}
