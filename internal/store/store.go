// Package store implements the persistent index: a table of distribution
// files keyed by (index, project, filename), queried by project-list and
// project-detail, backed by GORM so the unique constraint, the composite
// lookup index and the glob-style index-prefix match are expressed
// declaratively rather than hand-rolled.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/skoslowski/pypiserve/internal/model"
)

// Store wraps a GORM connection implementing the index store contract of
// §4.E: idempotent insert, existence check, and the two read queries.
type Store struct {
	db *gorm.DB
}

// Open creates (or attaches to) the index database for the given driver and
// DSN, migrating the schema and seeding the revision row if absent.
//
// driver is one of "sqlite", "postgres", "mysql".
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}

	if err := db.AutoMigrate(&indexRow{}, &revisionRow{}); err != nil {
		return nil, fmt.Errorf("migrating index database: %w", err)
	}

	var count int64
	if err := db.Model(&revisionRow{}).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		if err := db.Create(&revisionRow{ID: 1, Value: 0}).Error; err != nil {
			return nil, err
		}
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Exists reports whether a row already exists for (index, filename).
func (s *Store) Exists(ctx context.Context, index, filename string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&indexRow{}).
		Where("\"index\" = ? AND filename = ?", index, filename).
		Count(&count).Error
	return count > 0, err
}

// Insert adds a row for the given distribution file, advancing the revision
// counter in the same transaction. A conflicting (index, filename) pair is
// silently absorbed as a no-op (invariant 3).
func (s *Store) Insert(ctx context.Context, index, project, filename, version string, file *model.ProjectFile) error {
	blob, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshaling project file: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := rowExists(tx, index, filename)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		row := indexRow{Index: index, Project: project, Filename: filename, Version: version, File: blob}
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueConstraintErr(err) {
				return nil
			}
			return err
		}

		return tx.Model(&revisionRow{}).Where("id = ?", 1).
			UpdateColumn("value", gorm.Expr("value + 1")).Error
	})
}

func rowExists(tx *gorm.DB, index, filename string) (bool, error) {
	var count int64
	err := tx.Model(&indexRow{}).
		Where("\"index\" = ? AND filename = ?", index, filename).
		Count(&count).Error
	return count > 0, err
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	// GORM's sqlite/postgres/mysql drivers each report this differently;
	// a substring check keeps Insert driver-agnostic without importing
	// each driver's error type.
	msg := err.Error()
	return containsAny(msg, "UNIQUE constraint failed", "duplicate key value", "Duplicate entry")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// Stats reports the distribution/project/index counts of the store.
type Stats struct {
	Distributions   int64
	DistinctProjects int64
	DistinctIndexes  int64
}

// Stats returns aggregate counters over the whole store.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)
	if err := db.Model(&indexRow{}).Count(&st.Distributions).Error; err != nil {
		return st, err
	}
	if err := db.Model(&indexRow{}).Distinct("project").Count(&st.DistinctProjects).Error; err != nil {
		return st, err
	}
	if err := db.Model(&indexRow{}).Distinct("\"index\"").Count(&st.DistinctIndexes).Error; err != nil {
		return st, err
	}
	return st, nil
}

// Revision returns the store's current monotonic revision token.
func (s *Store) Revision(ctx context.Context) (int64, error) {
	var row revisionRow
	if err := s.db.WithContext(ctx).First(&row, 1).Error; err != nil {
		return 0, err
	}
	return row.Value, nil
}

// indexMatchClause builds the GLOB-style prefix match of §4.E: an empty
// prefix matches every index, a non-empty prefix p matches rows whose index
// equals p or begins with "p/".
func indexMatchClause(db *gorm.DB, prefix string) *gorm.DB {
	if prefix == "" {
		return db
	}
	return db.Where("\"index\" = ? OR \"index\" LIKE ?", prefix, prefix+"/%")
}

// ListProjects returns the distinct canonical project names stored under
// indexPrefix, in ascending byte order.
func (s *Store) ListProjects(ctx context.Context, indexPrefix string) ([]string, error) {
	var names []string
	db := indexMatchClause(s.db.WithContext(ctx).Model(&indexRow{}), indexPrefix)
	err := db.Distinct("project").Order("project ASC").Pluck("project", &names).Error
	return names, err
}

// FileRow is a single (version, file) pair returned by ListFiles.
type FileRow struct {
	Filename string
	Version  string
	File     *model.ProjectFile
}

// ListFiles returns every distribution row for project under indexPrefix,
// in stable insertion order (by primary key), for the caller to deduplicate
// and sort per the query engine's contract.
func (s *Store) ListFiles(ctx context.Context, project, indexPrefix string) ([]FileRow, error) {
	var rows []indexRow
	db := indexMatchClause(s.db.WithContext(ctx).Model(&indexRow{}), indexPrefix)
	if err := db.Where("project = ?", project).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]FileRow, 0, len(rows))
	for _, r := range rows {
		var f model.ProjectFile
		if err := json.Unmarshal(r.File, &f); err != nil {
			return nil, fmt.Errorf("unmarshaling stored file %s: %w", r.Filename, err)
		}
		out = append(out, FileRow{Filename: r.Filename, Version: r.Version, File: &f})
	}
	return out, nil
}
