package store

import (
	"context"
	"errors"
	"time"

	"github.com/user/examslots/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrInvalidVote is returned for an unknown vote type
	ErrInvalidVote = errors.New("invalid vote type")
)

// SlotStore persists scraped slots and the scrape metadata row
type SlotStore interface {
	// UpsertSlot inserts the slot unless its natural key exists, in which
	// case the mutable fields are updated. It reports whether a row was inserted.
	UpsertSlot(ctx context.Context, slot *model.Slot) (inserted bool, err error)
	// SweepStale marks available slots not seen since ts as unavailable
	SweepStale(ctx context.Context, ts time.Time) (int64, error)
	SetLastScrapedAt(ctx context.Context, ts time.Time) error
	GetLastScrapedAt(ctx context.Context) (*time.Time, error)
	ListAvailableSlots(ctx context.Context) ([]*model.Slot, error)
	CountSlots(ctx context.Context) (total int64, available int64, err error)
}

// SubscriptionStore persists email subscriptions
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	// DeactivateSubscription returns ErrNotFound for an unknown token
	DeactivateSubscription(ctx context.Context, token string) error
	GetActiveSubscriptions(ctx context.Context) ([]*model.Subscription, error)
	TouchNotified(ctx context.Context, subscriptionID uint, at time.Time) error
	CountActiveSubscriptions(ctx context.Context) (int64, error)
}

// QuestionFilter narrows a question listing; empty fields match all
type QuestionFilter struct {
	ExamType model.ExamType
	Category string
}

// QuestionStore persists the exam question bank and votes
type QuestionStore interface {
	ListQuestions(ctx context.Context, filter QuestionFilter, limit int) ([]*model.ExamQuestion, error)
	CreateQuestion(ctx context.Context, q *model.ExamQuestion) error
	// Vote toggles the voter's reaction and returns the updated question
	Vote(ctx context.Context, questionID uint, voter string, vote model.VoteType) (*model.ExamQuestion, error)
}

// Store defines the interface for data persistence operations
type Store interface {
	SlotStore
	SubscriptionStore
	QuestionStore

	// Health check
	Ping(ctx context.Context) error
	Close() error
}
