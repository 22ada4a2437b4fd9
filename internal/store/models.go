package store

import "time"

// indexRow is the GORM-mapped persistence shape of a single distribution
// file. The file column holds the JSON-serialized model.ProjectFile blob;
// project/version are denormalized out of it for querying.
type indexRow struct {
	ID        uint      `gorm:"primaryKey"`
	Index     string    `gorm:"not null;index:idx_project_index,priority:2;uniqueIndex:idx_index_filename,priority:1"`
	Project   string    `gorm:"not null;index:idx_project_index,priority:1"`
	Filename  string    `gorm:"not null;uniqueIndex:idx_index_filename,priority:2"`
	Version   string    `gorm:"not null"`
	File      []byte    `gorm:"type:blob;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (indexRow) TableName() string { return "index_rows" }

// revisionRow is a single-row table holding the store's monotonic revision
// counter, advanced in the same transaction as any committed insert.
type revisionRow struct {
	ID    uint `gorm:"primaryKey"`
	Value int64
}

func (revisionRow) TableName() string { return "index_revision" }
