package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"qcache/internal/ports"
)

type FastStoreTestSuite struct {
	suite.Suite

	mr    *miniredis.Miniredis
	cli   *redis.Client
	store *FastStore
}

func TestFastStoreTestSuite(t *testing.T) {
	suite.Run(t, new(FastStoreTestSuite))
}

func (s *FastStoreTestSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.cli = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.store = NewFastStore(s.cli)
}

func (s *FastStoreTestSuite) TearDownTest() {
	_ = s.cli.Close()
}

func (s *FastStoreTestSuite) TestExistsAndSet() {
	ctx := context.Background()
	ok, err := s.store.Exists(ctx, "u1:general_medium")
	s.NoError(err)
	s.False(ok)

	s.NoError(s.store.SetWithTTL(ctx, "u1:general_medium", []byte("v"), 48*time.Hour))
	ok, err = s.store.Exists(ctx, "u1:general_medium")
	s.NoError(err)
	s.True(ok)
	s.Equal(48*time.Hour, s.mr.TTL("u1:general_medium"))
}

func (s *FastStoreTestSuite) TestGetDelConsumesOnce() {
	ctx := context.Background()
	s.NoError(s.store.SetWithTTL(ctx, "u1:general_medium", []byte("record"), time.Hour))

	v, ok, err := s.store.GetDel(ctx, "u1:general_medium")
	s.NoError(err)
	s.True(ok)
	s.Equal([]byte("record"), v)

	v, ok, err = s.store.GetDel(ctx, "u1:general_medium")
	s.NoError(err)
	s.False(ok)
	s.Nil(v)
	s.False(s.mr.Exists("u1:general_medium"))
}

func (s *FastStoreTestSuite) TestGetDelConcurrent() {
	ctx := context.Background()
	s.NoError(s.store.SetWithTTL(ctx, "u1:life_hard", []byte("record"), time.Hour))

	var hits atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.store.GetDel(ctx, "u1:life_hard")
			s.NoError(err)
			if ok {
				hits.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), hits.Load())
}

func (s *FastStoreTestSuite) TestSetIfAbsent() {
	ctx := context.Background()
	ok, err := s.store.SetIfAbsent(ctx, "global:history_hard", []byte("first"), time.Hour)
	s.NoError(err)
	s.True(ok)

	ok, err = s.store.SetIfAbsent(ctx, "global:history_hard", []byte("second"), time.Hour)
	s.NoError(err)
	s.False(ok)

	v, err := s.mr.Get("global:history_hard")
	s.NoError(err)
	s.Equal("first", v)
	s.Equal(time.Hour, s.mr.TTL("global:history_hard"))
}

func (s *FastStoreTestSuite) TestStoreErrors() {
	s.mr.Close()
	ctx := context.Background()
	_, err := s.store.Exists(ctx, "k")
	s.Error(err)
	_, _, err = s.store.GetDel(ctx, "k")
	s.Error(err)
	_, err = s.store.SetIfAbsent(ctx, "k", []byte("v"), time.Minute)
	s.Error(err)
}

func (s *FastStoreTestSuite) TestSubscribeReceivesKeyspaceEvents() {
	ctx := context.Background()
	sub, err := s.store.Subscribe(ctx)
	s.Require().NoError(err)
	defer sub.Close()

	s.mr.Publish("__keyspace@0__:u1:general_medium", "del")
	s.mr.Publish("__keyevent@0__:del", "u1:general_medium")
	s.mr.Publish("__keyspace@0__:global:history_hard", "expired")

	s.Equal(ports.ChangeEvent{Kind: ports.ChangeDel, Key: "u1:general_medium"}, s.next(sub))
	s.Equal(ports.ChangeEvent{Kind: ports.ChangeExpired, Key: "global:history_hard"}, s.next(sub))
}

func (s *FastStoreTestSuite) TestSubscriptionCloseEndsFeed() {
	sub, err := s.store.Subscribe(context.Background())
	s.Require().NoError(err)

	s.NoError(sub.Close())
	s.NoError(sub.Close())

	select {
	case _, ok := <-sub.Events():
		s.False(ok)
	case <-time.After(2 * time.Second):
		s.Fail("events channel not closed")
	}
}

func (s *FastStoreTestSuite) next(sub ports.Subscription) ports.ChangeEvent {
	select {
	case ev, ok := <-sub.Events():
		s.Require().True(ok)
		return ev
	case <-time.After(2 * time.Second):
		s.FailNow("no event received")
	}
	return ports.ChangeEvent{}
}

func (s *FastStoreTestSuite) TestParseKeyspaceMessage() {
	prefix := keyspacePrefix(3)
	s.Equal("__keyspace@3__:", prefix)

	ev, ok := parseKeyspaceMessage(prefix, "__keyspace@3__:u1:general_medium", "set")
	s.True(ok)
	s.Equal(ports.ChangeEvent{Kind: ports.ChangeSet, Key: "u1:general_medium"}, ev)

	_, ok = parseKeyspaceMessage(prefix, "__keyevent@3__:del", "u1:general_medium")
	s.False(ok)
	_, ok = parseKeyspaceMessage(prefix, "__keyspace@3__:", "del")
	s.False(ok)
}
