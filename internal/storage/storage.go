// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"feedfilter/internal/model"
)

var (
	// ErrNotFound is returned when a setting or source does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateSource is returned when a chat adds a feed URL it already has.
	ErrDuplicateSource = errors.New("source already exists")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error

	CreateSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, id int64) (*model.Source, error)
	ListSources(ctx context.Context, chatID int64) ([]model.Source, error)
	ListDueSources(ctx context.Context) ([]model.Source, error)
	UpdateSource(ctx context.Context, src *model.Source) error
	TouchSource(ctx context.Context, id int64, checkedAt time.Time) error
	DeleteSource(ctx context.Context, id int64) error

	MarkSeen(ctx context.Context, sourceID int64, guid string) error
	IsSeen(ctx context.Context, sourceID int64, guid string) (bool, error)
	PruneSeen(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
