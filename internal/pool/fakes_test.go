package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"qcache/internal/ports"
	"qcache/internal/types"
)

// memStore is an in-memory ports.FastStore. Every method holds the lock for
// its whole body, mirroring single-command atomicity.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration

	writes  int
	getDels int
	err     error

	// beforeGetDel runs under the lock before the n-th (1 based) GetDel.
	beforeGetDel func(n int, data map[string][]byte)
}

var _ ports.FastStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.data[key]
	return ok, nil
}

func (s *memStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[key] = value
	s.ttls[key] = ttl
	s.writes++
	return nil
}

func (s *memStore) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = value
	s.ttls[key] = ttl
	s.writes++
	return true, nil
}

func (s *memStore) GetDel(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getDels++
	if s.beforeGetDel != nil {
		s.beforeGetDel(s.getDels, s.data)
	}
	if s.err != nil {
		return nil, false, s.err
	}
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	delete(s.data, key)
	delete(s.ttls, key)
	return v, true, nil
}

func (s *memStore) EnableChangeNotifications(context.Context) error {
	return nil
}

func (s *memStore) Subscribe(context.Context) (ports.Subscription, error) {
	return nil, errors.New("not supported")
}

func (s *memStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type genCall struct {
	UserID, Topic, Difficulty string
}

type fakeGenerator struct {
	mu     sync.Mutex
	calls  []genCall
	nextID int64
	err    error
	delay  time.Duration
}

func (g *fakeGenerator) Generate(ctx context.Context, userID, topic, difficulty string) (types.Question, error) {
	g.mu.Lock()
	g.calls = append(g.calls, genCall{userID, topic, difficulty})
	g.nextID++
	id := g.nextID
	err := g.err
	delay := g.delay
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return types.Question{}, ctx.Err()
		}
	}
	if err != nil {
		return types.Question{}, err
	}
	q := testQuestion(id)
	q.Difficulty = difficulty
	q.KnowledgePoint = topic
	return q, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type published struct {
	arn     string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) PublishRaw(_ context.Context, arn string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{arn, payload})
	return nil
}

func testQuestion(id int64) types.Question {
	return types.Question{
		ID:                 id,
		SentenceID:         id * 10,
		Type:               types.WordChoice,
		Options:            []string{"was", "is", "were", "be"},
		CorrectAnswer:      "be",
		Explanation:        "虚拟语气用原形 be。",
		Order:              1,
		QuestionText:       "He insisted that the work ____ done by Friday.",
		TranslationText:    "He insisted that the work be done by Friday.",
		TranslationOptions: []string{"他坚持要求工作在周五前完成。", "他坚持工作已经完成了。", "他坚持工作将完成。"},
		CorrectTranslation: "他坚持要求工作在周五前完成。",
		Difficulty:         types.DifficultyMedium,
		KnowledgePoint:     fmt.Sprintf("subjunctive %d", id),
		Sentence: types.Sentence{
			ID:          id * 10,
			Text:        "He insisted that the work be done by Friday.",
			Translation: "他坚持要求工作在周五前完成。",
			Difficulty:  types.DifficultyMedium,
		},
	}
}
