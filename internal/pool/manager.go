package pool

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"qcache/internal/ports"
	"qcache/internal/slots"
	"qcache/internal/types"
)

var timeNow = time.Now

// Manager owns every read and write of pool entries.
// It holds no lock of its own: the store's single-command atomicity is the only
// coordination, and SetIfAbsent makes concurrent replenishers converge on one entry.
type Manager struct {
	store      ports.FastStore
	gen        ports.Generator
	registry   *slots.Registry
	codec      Codec
	cfg        types.PoolConfig
	dispatcher *Dispatcher

	pub      ports.Publisher
	topicArn string
}

type Option func(*Manager)

// WithPublisher publishes a PoolEvent to arn after every replenishment write.
func WithPublisher(pub ports.Publisher, arn string) Option {
	return func(m *Manager) {
		m.pub = pub
		m.topicArn = arn
	}
}

// WithDispatcher replaces the default dispatcher, built from cfg.GenerateTimeout.
func WithDispatcher(d *Dispatcher) Option {
	return func(m *Manager) { m.dispatcher = d }
}

func NewManager(store ports.FastStore, gen ports.Generator, registry *slots.Registry, cfg types.PoolConfig, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		gen:      gen,
		registry: registry,
		codec:    NewCodec(cfg.Compress),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dispatcher == nil {
		m.dispatcher = NewDispatcher(cfg.GenerateTimeout)
	}
	return m
}

func (m *Manager) Registry() *slots.Registry {
	return m.registry
}

// TryConsume atomically reads and removes the entry at key. Absence is the
// normal outcome; store errors and unreadable entries are logged and reported as absent.
func (m *Manager) TryConsume(ctx context.Context, key slots.Key) (types.Question, bool) {
	logger := log.WithField("key", key.String())
	if err := key.Validate(); err != nil {
		logger.WithError(err).Debug("not a pool key, skipping consume")
		return types.Question{}, false
	}
	b, ok, err := m.store.GetDel(ctx, key.String())
	if err != nil {
		logger.WithError(err).Warn("failed to consume pool entry")
		return types.Question{}, false
	}
	if !ok {
		return types.Question{}, false
	}
	q, err := m.codec.Decode(b)
	if err != nil {
		logger.WithError(err).Warn("discarding unreadable pool entry")
		return types.Question{}, false
	}
	return q, true
}

// WriteIfAbsent stores q at key only when key does not exist, with the configured TTL.
// Returns whether this call wrote the entry. Encoding and store failures count as not written.
func (m *Manager) WriteIfAbsent(ctx context.Context, key slots.Key, q types.Question) bool {
	logger := log.WithFields(log.Fields{"key": key.String(), "questionID": q.ID})
	if err := key.Validate(); err != nil {
		logger.WithError(err).Error("refusing to write invalid pool key")
		return false
	}
	b, err := m.codec.Encode(q)
	if err != nil {
		logger.WithError(err).Error("failed to encode pool entry")
		return false
	}
	written, err := m.store.SetIfAbsent(ctx, key.String(), b, m.cfg.EntryTTL)
	if err != nil {
		logger.WithError(err).Error("failed to write pool entry")
		return false
	}
	if !written {
		logger.Debug("pool entry already present, write skipped")
	}
	return written
}

// FetchOrGenerate serves one question for the user. It consumes the pooled entry
// when there is one, retrying a few times in case a replenishment lands meanwhile,
// and otherwise generates directly. Directly generated questions are returned
// without being pooled; only replenishment feeds the pool.
func (m *Manager) FetchOrGenerate(ctx context.Context, userID, topic, difficulty string) (types.Question, bool) {
	if topic == "" {
		topic = types.DefaultTopic
	}
	if difficulty == "" {
		difficulty = types.DefaultDifficulty
	}
	key := slots.NewKey(userID, slots.Slot{Topic: topic, Difficulty: difficulty})
	logger := log.WithField("key", key.String())

	if key.Validate() == nil {
		for attempt := 1; attempt <= m.cfg.ConsumeAttempts; attempt++ {
			if q, ok := m.TryConsume(ctx, key); ok {
				logger.WithField("attempt", attempt).Debug("served pooled question")
				return q, true
			}
			if attempt < m.cfg.ConsumeAttempts && !sleep(ctx, m.cfg.ConsumeDelay) {
				logger.WithError(ctx.Err()).Info("request ended while waiting for pool entry")
				return types.Question{}, false
			}
		}
	}
	if ctx.Err() != nil {
		return types.Question{}, false
	}

	logger.Info("no pooled question, generating directly")
	q, err := m.gen.Generate(ctx, userID, topic, difficulty)
	if err != nil {
		logger.WithError(err).Error("direct generation failed")
		return types.Question{}, false
	}
	return q, true
}

// EnsureWarm dispatches replenishment for every registered slot missing from the
// user's pool and returns how many jobs it started. It costs one existence check
// per slot when the pool is already warm. Pools are only kept for signed-in users.
func (m *Manager) EnsureWarm(ctx context.Context, userID string) int {
	if userID == "" {
		return 0
	}
	started := 0
	for _, s := range m.registry.Slots() {
		key := slots.NewKey(userID, s)
		exists, err := m.store.Exists(ctx, key.String())
		if err != nil {
			log.WithError(err).WithField("key", key.String()).Warn("failed to check pool entry")
			continue
		}
		if !exists && m.Dispatch(key) {
			started++
		}
	}
	if started > 0 {
		log.WithFields(log.Fields{"userID": userID, "jobs": started}).Info("warming question pool")
	}
	return started
}

// Dispatch starts replenishment of key in the background. It does not wait for
// the job: generation can take seconds and callers must stay responsive.
func (m *Manager) Dispatch(key slots.Key) bool {
	return m.dispatcher.Go(key.String(), func(ctx context.Context) {
		m.Replenish(ctx, key)
	})
}

// Replenish generates a question for key and writes it when the key is still absent.
// Generating is skipped when the key already exists; a concurrent writer that wins
// after generation makes this write a no-op.
func (m *Manager) Replenish(ctx context.Context, key slots.Key) bool {
	logger := log.WithField("key", key.String())
	exists, err := m.store.Exists(ctx, key.String())
	if err != nil {
		logger.WithError(err).Error("replenish: failed to check pool entry")
		return false
	}
	if exists {
		logger.Debug("replenish: entry present, skipping")
		return false
	}

	q, err := m.gen.Generate(ctx, key.UserID, key.Slot.Topic, key.Slot.Difficulty)
	if err != nil {
		logger.WithError(err).Error("replenish: generation failed")
		return false
	}
	if !m.WriteIfAbsent(ctx, key, q) {
		return false
	}
	logger.WithField("questionID", q.ID).Info("replenished pool entry")
	m.publish(ctx, key, q)
	return true
}

func (m *Manager) publish(ctx context.Context, key slots.Key, q types.Question) {
	if m.pub == nil || m.topicArn == "" {
		return
	}
	b, err := json.Marshal(types.PoolEvent{
		Event:      types.EventReplenished,
		Key:        key.String(),
		Owner:      key.Owner(),
		Topic:      key.Slot.Topic,
		Difficulty: key.Slot.Difficulty,
		QuestionID: q.ID,
		At:         timeNow().Unix(),
	})
	if err != nil {
		log.WithError(err).Warn("failed to marshal pool event")
		return
	}
	if err := m.pub.PublishRaw(ctx, m.topicArn, b); err != nil {
		log.WithError(err).WithField("arn", m.topicArn).Warn("failed to publish pool event")
	}
}

// sleep waits for d or until ctx is done, reporting whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
