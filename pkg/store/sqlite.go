package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/intentx-hq/intentd/pkg/models"
)

// SQLiteStore persists intents in a sqlite database through gorm. Writes are
// wrapped in transactions; sqlite serializes writers, which together with the
// status guard inside the transaction linearizes CompareAndTransition.
type SQLiteStore struct {
	db *gorm.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// migrates the intent schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Error,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer. One connection queues concurrent
	// transitions instead of surfacing busy errors from the loser.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.Intent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put implements Store. Duplicate detection rides on the primary key
// constraint, so two racing inserts cannot both pass a pre-check.
func (s *SQLiteStore) Put(ctx context.Context, intent *models.Intent) error {
	if err := s.db.WithContext(ctx).Create(intent).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateID
		}
		return fmt.Errorf("failed to insert intent: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Intent, error) {
	var intent models.Intent
	err := s.db.WithContext(ctx).First(&intent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load intent: %w", err)
	}
	return &intent, nil
}

// ListByUser implements Store.
func (s *SQLiteStore) ListByUser(ctx context.Context, userAddress string) ([]*models.Intent, error) {
	var intents []*models.Intent
	err := s.db.WithContext(ctx).
		Where("LOWER(user_address) = LOWER(?)", userAddress).
		Order("created_at DESC, id DESC").
		Find(&intents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list intents by user: %w", err)
	}
	return intents, nil
}

// ListPending implements Store.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]*models.Intent, error) {
	return s.listByStatus(ctx, models.StatusPending)
}

// ListExecuting implements Store.
func (s *SQLiteStore) ListExecuting(ctx context.Context) ([]*models.Intent, error) {
	return s.listByStatus(ctx, models.StatusExecuting)
}

func (s *SQLiteStore) listByStatus(ctx context.Context, status models.Status) ([]*models.Intent, error) {
	var intents []*models.Intent
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC, id ASC").
		Find(&intents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s intents: %w", status, err)
	}
	return intents, nil
}

// CompareAndTransition implements Store. The status check and the update run
// in one transaction, so a concurrent transition against the same id either
// commits first or observes the new status and fails with ErrStaleState.
func (s *SQLiteStore) CompareAndTransition(ctx context.Context, id string, expected models.Status, mutate Mutation) (*models.Intent, error) {
	var updated models.Intent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var intent models.Intent
		if err := tx.First(&intent, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load intent: %w", err)
		}
		if intent.Status != expected {
			updated = intent
			return ErrStaleState
		}
		mutate(&intent)
		if err := tx.Save(&intent).Error; err != nil {
			return fmt.Errorf("failed to update intent: %w", err)
		}
		updated = intent
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			return &updated, ErrStaleState
		}
		return nil, err
	}
	return &updated, nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context, userAddress string) (models.Analytics, error) {
	query := s.db.WithContext(ctx).Model(&models.Intent{})
	if userAddress != "" {
		query = query.Where("LOWER(user_address) = LOWER(?)", userAddress)
	}
	var intents []*models.Intent
	if err := query.Find(&intents).Error; err != nil {
		return models.Analytics{}, fmt.Errorf("failed to load intents for stats: %w", err)
	}
	return aggregateStats(intents), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
