package passage

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Row is the gorm model for the passages table described in spec.md
// §6: `passages(id, text unique not null, source_url, created_at)`.
type Row struct {
	ID        uint      `gorm:"primaryKey"`
	Text      string    `gorm:"uniqueIndex;not null"`
	SourceURL string
	CreatedAt time.Time
}

func (Row) TableName() string { return "passages" }

// Store is the persistent passage provider backed by Postgres,
// grounded on server/src/db.rs's connect/get_random_passage pair.
type Store struct {
	db *gorm.DB
}

// Connect opens the pool and creates the table if absent, mirroring
// db.rs's CREATE TABLE IF NOT EXISTS on startup.
func Connect(databaseURL string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Random returns a uniformly random row's text. Returns an error if
// the store is empty or unreachable; callers fall back to Static.
func (s *Store) Random(ctx context.Context) (string, error) {
	var row Row
	err := s.db.WithContext(ctx).Order("random()").First(&row).Error
	if err != nil {
		return "", err
	}
	return row.Text, nil
}

// Insert adds text, ignoring it if a row with the same text already
// exists -- matches db.rs's `ON CONFLICT (text) DO NOTHING`.
func (s *Store) Insert(ctx context.Context, text, sourceURL string) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "text"}},
		DoNothing: true,
	}).Create(&Row{Text: text, SourceURL: sourceURL})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Composite chains a Store ahead of the bundled static list, per
// spec.md §4.3: "a failed or slow store falls back to the static
// list". The Room wraps ctx with its own timeout before calling
// Random so a slow query can never block the controller past budget.
type Composite struct {
	store    *Store
	fallback *StaticProvider
	log      *zap.SugaredLogger
}

func NewComposite(store *Store, fallback *StaticProvider, log *zap.SugaredLogger) *Composite {
	return &Composite{store: store, fallback: fallback, log: log}
}

func (c *Composite) Random(ctx context.Context) (string, error) {
	if c.store == nil {
		return c.fallback.Random(ctx)
	}
	text, err := c.store.Random(ctx)
	if err != nil {
		if c.log != nil {
			c.log.Warnw("passage store fetch failed, falling back to static list", "error", err)
		}
		return c.fallback.Random(ctx)
	}
	if text == "" {
		return c.fallback.Random(ctx)
	}
	return text, nil
}
