package records

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/docuchat/docuchat-core/internal/platform/envutil"
	"github.com/docuchat/docuchat-core/internal/platform/logger"
)

// IndexRecord tracks what a namespace currently holds for one source
// document. Fingerprint is the content hash of the stored object;
// ChunkCount is how many chunk vectors that document produced, which is
// enough to re-derive every chunk ID without querying the index.
type IndexRecord struct {
	Namespace   string    `gorm:"primaryKey;size:512"`
	Source      string    `gorm:"primaryKey;size:1024"`
	Fingerprint string    `gorm:"size:128;not null"`
	ChunkCount  int       `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Store persists IndexRecords across refreshes. Implementations must be
// safe for concurrent use.
type Store interface {
	List(ctx context.Context, namespace string) ([]IndexRecord, error)
	Upsert(ctx context.Context, rec IndexRecord) error
	Delete(ctx context.Context, namespace string, sources []string) error
	DeleteNamespace(ctx context.Context, namespace string) error
}

type sqliteStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewSQLiteStore opens (and migrates) the record database at path. An empty
// path falls back to the RECORD_DB_PATH env var.
func NewSQLiteStore(log *logger.Logger, path string) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if path == "" {
		path = envutil.Str("RECORD_DB_PATH", "records.db")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open record db %q: %w", path, err)
	}
	if err := db.AutoMigrate(&IndexRecord{}); err != nil {
		return nil, fmt.Errorf("migrate record db: %w", err)
	}

	return &sqliteStore{
		db:  db,
		log: log.With("service", "RecordStore"),
	}, nil
}

func (s *sqliteStore) List(ctx context.Context, namespace string) ([]IndexRecord, error) {
	var out []IndexRecord
	if err := s.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Order("source").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqliteStore) Upsert(ctx context.Context, rec IndexRecord) error {
	if rec.Namespace == "" || rec.Source == "" {
		return fmt.Errorf("record namespace and source required")
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

func (s *sqliteStore) Delete(ctx context.Context, namespace string, sources []string) error {
	if len(sources) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("namespace = ? AND source IN ?", namespace, sources).
		Delete(&IndexRecord{}).Error
}

func (s *sqliteStore) DeleteNamespace(ctx context.Context, namespace string) error {
	return s.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Delete(&IndexRecord{}).Error
}
