package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/examslots/internal/config"
	"github.com/user/examslots/internal/model"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLStore implements Store on MySQL or PostgreSQL through gorm
type SQLStore struct {
	db *gorm.DB
}

// counter updates per vote type; the column names never come from input
var voteCounters = map[model.VoteType]struct {
	column string
	inc    string
	dec    string
}{
	model.VoteLike:    {"likes_count", "likes_count + 1", "GREATEST(likes_count - 1, 0)"},
	model.VoteDislike: {"dislikes_count", "dislikes_count + 1", "GREATEST(dislikes_count - 1, 0)"},
}

// NewSQLStore opens the configured database and migrates the schema
func NewSQLStore(cfg *config.DBConfig) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "mysql":
		dialector = mysql.Open(cfg.DSN())
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxConns)
	sqlDB.SetMaxIdleConns(cfg.MaxConns / 2)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewSQLStoreFromDB(db)
}

// NewSQLStoreFromDB wraps an open gorm connection and migrates the schema
func NewSQLStoreFromDB(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(
		&model.Slot{},
		&model.ScrapeRun{},
		&model.Subscription{},
		&model.ExamQuestion{},
		&model.QuestionVote{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// UpsertSlot inserts or updates a slot by its natural key in one transaction
func (s *SQLStore) UpsertSlot(ctx context.Context, slot *model.Slot) (bool, error) {
	inserted := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slot_key"}},
			DoNothing: true,
		}).Create(slot)
		if result.Error != nil {
			return fmt.Errorf("failed to insert slot: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			inserted = true
			return nil
		}

		result = tx.Model(&model.Slot{}).
			Where("slot_key = ?", slot.SlotKey).
			Updates(map[string]interface{}{
				"date_iso":       slot.DateISO,
				"time_iso":       slot.TimeISO,
				"exam_type":      slot.ExamType,
				"places_left":    slot.PlacesLeft,
				"has_translator": slot.HasTranslator,
				"source_page":    slot.SourcePage,
				"location":       slot.Location,
				"available":      slot.Available,
				"last_seen_at":   slot.LastSeenAt,
				"updated_at":     slot.UpdatedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update slot: %w", result.Error)
		}
		return nil
	})

	return inserted, err
}

// SweepStale marks every available slot not seen at ts as unavailable
func (s *SQLStore) SweepStale(ctx context.Context, ts time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&model.Slot{}).
		Where("available = ? AND (last_seen_at IS NULL OR last_seen_at < ?)", true, ts).
		Updates(map[string]interface{}{
			"available":   false,
			"places_left": 0,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep stale slots: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// SetLastScrapedAt stores the end of the latest successful cycle
func (s *SQLStore) SetLastScrapedAt(ctx context.Context, ts time.Time) error {
	run := &model.ScrapeRun{ID: model.ScrapeRunID, LastScrapedAt: &ts}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_scraped_at"}),
	}).Create(run).Error
	if err != nil {
		return fmt.Errorf("failed to set last scraped time: %w", err)
	}
	return nil
}

// GetLastScrapedAt returns nil when no cycle has completed yet
func (s *SQLStore) GetLastScrapedAt(ctx context.Context) (*time.Time, error) {
	var run model.ScrapeRun
	result := s.db.WithContext(ctx).Where("id = ?", model.ScrapeRunID).First(&run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last scraped time: %w", result.Error)
	}
	return run.LastScrapedAt, nil
}

// ListAvailableSlots returns available slots ordered by date, time and id.
// Slots without a parsed date come last.
func (s *SQLStore) ListAvailableSlots(ctx context.Context) ([]*model.Slot, error) {
	var slots []*model.Slot
	result := s.db.WithContext(ctx).
		Where("available = ?", true).
		Order("date_iso IS NULL, date_iso, time_iso, id").
		Find(&slots)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list available slots: %w", result.Error)
	}
	return slots, nil
}

// CountSlots returns the number of stored and of available slots
func (s *SQLStore) CountSlots(ctx context.Context) (int64, int64, error) {
	var total, available int64
	if err := s.db.WithContext(ctx).Model(&model.Slot{}).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count slots: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&model.Slot{}).Where("available = ?", true).Count(&available).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count available slots: %w", err)
	}
	return total, available, nil
}

// CreateSubscription creates a new subscription
func (s *SQLStore) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// DeactivateSubscription deactivates the subscription owning token
func (s *SQLStore) DeactivateSubscription(ctx context.Context, token string) error {
	var sub model.Subscription
	result := s.db.WithContext(ctx).Where("unsubscribe_token = ?", token).First(&sub)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to find subscription: %w", result.Error)
	}

	if err := s.db.WithContext(ctx).Model(&sub).Update("active", false).Error; err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	return nil
}

// GetActiveSubscriptions retrieves all active subscriptions
func (s *SQLStore) GetActiveSubscriptions(ctx context.Context) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	result := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id").
		Find(&subs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get active subscriptions: %w", result.Error)
	}
	return subs, nil
}

// TouchNotified records the time of the latest notification
func (s *SQLStore) TouchNotified(ctx context.Context, subscriptionID uint, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ?", subscriptionID).
		Update("last_notified_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to update last notified time: %w", result.Error)
	}
	return nil
}

// CountActiveSubscriptions returns the number of active subscriptions
func (s *SQLStore) CountActiveSubscriptions(ctx context.Context) (int64, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&model.Subscription{}).Where("active = ?", true).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", result.Error)
	}
	return count, nil
}

// ListQuestions returns the most liked questions first, newest first among ties
func (s *SQLStore) ListQuestions(ctx context.Context, filter QuestionFilter, limit int) ([]*model.ExamQuestion, error) {
	query := s.db.WithContext(ctx).Model(&model.ExamQuestion{})
	if filter.ExamType != "" {
		query = query.Where("exam_type = ?", filter.ExamType)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}

	var questions []*model.ExamQuestion
	result := query.Order("likes_count DESC, created_at DESC").Limit(limit).Find(&questions)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list questions: %w", result.Error)
	}
	return questions, nil
}

// CreateQuestion stores a new question
func (s *SQLStore) CreateQuestion(ctx context.Context, q *model.ExamQuestion) error {
	if err := s.db.WithContext(ctx).Create(q).Error; err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}
	return nil
}

// Vote applies a like or dislike. Repeating a vote removes it and the
// opposite vote switches it.
func (s *SQLStore) Vote(ctx context.Context, questionID uint, voter string, vote model.VoteType) (*model.ExamQuestion, error) {
	counter, ok := voteCounters[vote]
	if !ok {
		return nil, ErrInvalidVote
	}

	var question model.ExamQuestion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", questionID).First(&question).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load question: %w", err)
		}

		var existing model.QuestionVote
		err := tx.Where("question_id = ? AND voter = ?", questionID, voter).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&model.QuestionVote{QuestionID: questionID, Voter: voter, VoteType: vote}).Error; err != nil {
				return fmt.Errorf("failed to record vote: %w", err)
			}
			return bumpCounter(tx, questionID, counter.column, counter.inc)

		case err != nil:
			return fmt.Errorf("failed to load vote: %w", err)

		case existing.VoteType == vote:
			if err := tx.Delete(&existing).Error; err != nil {
				return fmt.Errorf("failed to remove vote: %w", err)
			}
			return bumpCounter(tx, questionID, counter.column, counter.dec)

		default:
			previous, ok := voteCounters[existing.VoteType]
			if !ok {
				return ErrInvalidVote
			}
			if err := tx.Model(&existing).Update("vote_type", vote).Error; err != nil {
				return fmt.Errorf("failed to switch vote: %w", err)
			}
			if err := bumpCounter(tx, questionID, previous.column, previous.dec); err != nil {
				return err
			}
			return bumpCounter(tx, questionID, counter.column, counter.inc)
		}
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Where("id = ?", questionID).First(&question).Error; err != nil {
		return nil, fmt.Errorf("failed to reload question: %w", err)
	}
	return &question, nil
}

func bumpCounter(tx *gorm.DB, questionID uint, column, expr string) error {
	err := tx.Model(&model.ExamQuestion{}).
		Where("id = ?", questionID).
		Update(column, gorm.Expr(expr)).Error
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying db: %w", err)
	}
	return sqlDB.Close()
}

// DB returns the underlying gorm.DB instance (for testing purposes)
func (s *SQLStore) DB() *gorm.DB {
	return s.db
}
