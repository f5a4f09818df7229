package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Subscriber is one persisted user record.
type Subscriber struct {
	ID         int64
	Username   string
	FirstName  string
	Subscribed bool
}

// Store is the persistence API used by the dispatcher and broadcast engine.
type Store interface {
	// UpsertProfile inserts a new unsubscribed row, or refreshes the name
	// fields of an existing one while preserving its subscription flag.
	UpsertProfile(ctx context.Context, id int64, username, firstName string) error

	// SetSubscribed flips the subscription flag. Updating an unknown id is a
	// no-op.
	SetSubscribed(ctx context.Context, id int64, subscribed bool) error

	// ListSubscribedIDs returns the ids of all currently subscribed users.
	// Snapshot consistency is not required.
	ListSubscribedIDs(ctx context.Context) ([]int64, error)

	// CountSubscribed returns the number of subscribed users.
	CountSubscribed(ctx context.Context) (int64, error)

	// GetSubscriber fetches one row. ok is false when the id is unknown.
	GetSubscriber(ctx context.Context, id int64) (sub Subscriber, ok bool, err error)

	Close() error
}
