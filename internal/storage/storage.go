// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"release_bot/internal/model"
)

// Errors returned by Storage implementations.
var (
	// ErrStoreUnavailable wraps any failure of the persistence layer itself.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	SaveSubscriber(ctx context.Context, sub *model.Subscriber) error
	GetSubscriber(ctx context.Context, userID int64) (*model.Subscriber, error)
	DeleteSubscriber(ctx context.Context, userID int64) error
	ListSubscribers(ctx context.Context) ([]model.Subscriber, error)
	ListSubscribersByGenres(ctx context.Context, tags []model.GenreTag) ([]model.Subscriber, error)
	ListFollowedGenres(ctx context.Context) ([]model.GenreTag, error)

	UpsertRelease(ctx context.Context, r *model.Release) error
	GetRelease(ctx context.Context, identity string) (*model.Release, error)
	QueryWindow(ctx context.Context, startDate, endDate string) ([]model.Release, error)
	QueryByMonth(ctx context.Context, yearMonth string) ([]model.Release, error)

	UpsertNews(ctx context.Context, item *model.NewsItem) error
	ListNews(ctx context.Context, limit int) ([]model.NewsItem, error)

	MarkDelivered(ctx context.Context, identity string, userID int64) error
	IsDelivered(ctx context.Context, identity string, userID int64) (bool, error)

	Stats(ctx context.Context) (model.Stats, error)

	Close() error
}
