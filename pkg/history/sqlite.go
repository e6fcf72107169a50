package history

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// record is the gorm model backing the store.
type record struct {
	TitleID   string `gorm:"primaryKey;column:title_id"`
	EpisodeID string `gorm:"column:episode_id"`
	Position  float64
	Duration  float64
	UpdatedAt time.Time `gorm:"index"`
}

func (record) TableName() string { return "watch_progress" }

// SQLiteStore persists watch history in a local sqlite database using the
// pure-Go driver, so the binary stays CGO-free.
type SQLiteStore struct {
	db    *gorm.DB
	limit int
}

// OpenSQLite opens (and migrates) the history database at path. limit caps
// retained titles; values < 1 fall back to 20, matching the retention the
// browser front end used.
func OpenSQLite(path string, limit int) (*SQLiteStore, error) {
	if limit < 1 {
		limit = 20
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}

	return &SQLiteStore{db: db, limit: limit}, nil
}

// Save upserts the title's record and prunes the oldest entries beyond the
// retention limit.
func (s *SQLiteStore) Save(titleID, episodeID string, position, duration float64) error {
	rec := record{
		TitleID:   titleID,
		EpisodeID: episodeID,
		Position:  position,
		Duration:  duration,
		UpdatedAt: time.Now(),
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "title_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"episode_id", "position", "duration", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("saving progress: %w", err)
	}

	return s.prune()
}

func (s *SQLiteStore) prune() error {
	keep := s.db.Model(&record{}).
		Select("title_id").
		Order("updated_at DESC").
		Limit(s.limit)

	err := s.db.Where("title_id NOT IN (?)", keep).Delete(&record{}).Error
	if err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}
	return nil
}

// Get returns the stored progress for a title.
func (s *SQLiteStore) Get(titleID string) (Progress, bool) {
	var rec record
	// Read failures degrade to "no progress": resume is an optimization.
	if err := s.db.First(&rec, "title_id = ?", titleID).Error; err != nil {
		return Progress{}, false
	}
	return progressFromRecord(rec), true
}

// Remove deletes one title's record.
func (s *SQLiteStore) Remove(titleID string) error {
	return s.db.Delete(&record{}, "title_id = ?", titleID).Error
}

// Clear deletes all records.
func (s *SQLiteStore) Clear() error {
	return s.db.Where("1 = 1").Delete(&record{}).Error
}

// List returns records most recently updated first.
func (s *SQLiteStore) List() ([]Progress, error) {
	var recs []record
	err := s.db.Order("updated_at DESC").Limit(s.limit).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}

	out := make([]Progress, 0, len(recs))
	for _, rec := range recs {
		out = append(out, progressFromRecord(rec))
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func progressFromRecord(rec record) Progress {
	return Progress{
		TitleID:   rec.TitleID,
		EpisodeID: rec.EpisodeID,
		Position:  rec.Position,
		Duration:  rec.Duration,
		UpdatedAt: rec.UpdatedAt,
	}
}

var _ Store = (*SQLiteStore)(nil)
