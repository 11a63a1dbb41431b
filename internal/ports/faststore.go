package ports

import (
	"context"
	"time"
)

// ChangeKind is the operation a keyspace notification reports.
type ChangeKind string

const (
	ChangeDel     ChangeKind = "del"
	ChangeExpired ChangeKind = "expired"
	ChangeSet     ChangeKind = "set"
)

// ChangeEvent is one notification from the store's change feed.
type ChangeEvent struct {
	Kind ChangeKind
	Key  string
}

// Removal reports whether the event means the key is gone.
func (e ChangeEvent) Removal() bool {
	return e.Kind == ChangeDel || e.Kind == ChangeExpired
}

// FastStore is the expiring key-value store holding pool entries.
// Every method is a single atomic store operation; callers MUST NOT assume
// atomicity across two calls.
type FastStore interface {
	Exists(ctx context.Context, key string) (bool, error)

	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent stores the value only when the key does not exist.
	// Returns true when this call wrote the key.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// GetDel returns and removes the value. A missing key MUST return (nil, false, nil).
	GetDel(ctx context.Context, key string) ([]byte, bool, error)

	// EnableChangeNotifications configures the store to emit del/expired/set events.
	EnableChangeNotifications(ctx context.Context) error

	// Subscribe opens the change feed on a connection of its own.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is a live change feed. Events is closed once the subscription
// is closed; a closed subscription cannot be restarted.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}
