package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"qcache/internal/ports"
	"qcache/internal/types"
)

const (
	notifyConfigKey         = "notify-keyspace-events"
	keyspaceChannelTemplate = "__keyspace@%d__:"
)

// FastStore implements ports.FastStore on a Redis client.
// The change feed uses go-redis PubSub, which holds a dedicated connection
// outside the client's command pool.
type FastStore struct {
	cli    *redis.Client
	events string
}

var _ ports.FastStore = (*FastStore)(nil)

func NewFastStore(cli *redis.Client) *FastStore {
	return &FastStore{cli: cli, events: types.KeyspaceEvents}
}

func (s *FastStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.cli.Exists(ctx, key).Result()
	if err != nil {
		return false, types.Err(types.ErrDataStoreAccess, err, "exists %s", key)
	}
	return n > 0, nil
}

func (s *FastStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.cli.Set(ctx, key, value, ttl).Err(); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "set %s", key)
	}
	return nil
}

func (s *FastStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.cli.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, types.Err(types.ErrDataStoreAccess, err, "setnx %s", key)
	}
	return ok, nil
}

func (s *FastStore) GetDel(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.cli.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, types.Err(types.ErrDataStoreAccess, err, "getdel %s", key)
	}
	return b, true, nil
}

func (s *FastStore) EnableChangeNotifications(ctx context.Context) error {
	if err := s.cli.ConfigSet(ctx, notifyConfigKey, s.events).Err(); err != nil {
		return types.Err(types.ErrNotifications, err, "config set %s", notifyConfigKey)
	}
	current, err := s.cli.ConfigGet(ctx, notifyConfigKey).Result()
	if err != nil {
		return types.Err(types.ErrNotifications, err, "config get %s", notifyConfigKey)
	}
	log.WithField(notifyConfigKey, current[notifyConfigKey]).Info("keyspace notifications enabled")
	return nil
}

func (s *FastStore) Subscribe(ctx context.Context) (ports.Subscription, error) {
	prefix := keyspacePrefix(s.cli.Options().DB)
	ps := s.cli.PSubscribe(ctx, prefix+"*")
	// Wait for the subscription confirmation so a failure surfaces here and not in the feed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, types.Err(types.ErrNotifications, err, "psubscribe %s*", prefix)
	}
	sub := &subscription{
		pubsub: ps,
		events: make(chan ports.ChangeEvent),
		done:   make(chan struct{}),
	}
	go sub.forward(prefix)
	return sub, nil
}

type subscription struct {
	pubsub *redis.PubSub
	events chan ports.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Events() <-chan ports.ChangeEvent {
	return s.events
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (s *subscription) forward(prefix string) {
	defer close(s.events)
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, ok := parseKeyspaceMessage(prefix, msg.Channel, msg.Payload)
			if !ok {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

func keyspacePrefix(db int) string {
	return fmt.Sprintf(keyspaceChannelTemplate, db)
}

// parseKeyspaceMessage turns "__keyspace@0__:<key>" with payload "<op>" into an event.
func parseKeyspaceMessage(prefix, channel, payload string) (ports.ChangeEvent, bool) {
	key, ok := strings.CutPrefix(channel, prefix)
	if !ok || key == "" {
		return ports.ChangeEvent{}, false
	}
	return ports.ChangeEvent{Kind: ports.ChangeKind(payload), Key: key}, true
}
