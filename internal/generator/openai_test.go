package generator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"

	"qcache/internal/types"
)

const modelOutput = `{
  "sentence_with_blank": "Had she left earlier, she ____ the train.",
  "options": ["would catch", "would have caught", "caught", "had caught"],
  "answer": "would have caught",
  "explanation": "与过去事实相反的虚拟语气。",
  "original_English_sentence": "Had she left earlier, she would have caught the train.",
  "translation_options": ["要是她早点走，她就能赶上火车了。", "她早点走了，赶上了火车。", "她会早点走去赶火车。"],
  "correct_translation_option": "要是她早点走，她就能赶上火车了。",
  "difficulty": "hard",
  "knowledge_point": "inverted conditional"
}`

type memQuestionStore struct {
	mu      sync.Mutex
	history map[string][]string
	saved   []types.GeneratedQuestion
	histErr error
	saveErr error
}

func (s *memQuestionStore) RecentSentences(_ context.Context, userID string, limit int) ([]string, error) {
	if s.histErr != nil {
		return nil, s.histErr
	}
	h := s.history[userID]
	if len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

func (s *memQuestionStore) SaveGenerated(_ context.Context, g types.GeneratedQuestion) (types.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return types.Question{}, s.saveErr
	}
	s.saved = append(s.saved, g)
	id := int64(len(s.saved))
	return types.Question{
		ID:            id,
		SentenceID:    id,
		Type:          types.WordChoice,
		Options:       g.Options,
		CorrectAnswer: g.Answer,
		QuestionText:  g.SentenceWithBlank,
		Difficulty:    g.Difficulty,
		Order:         1,
		Sentence:      types.Sentence{ID: id, Text: g.OriginalEnglishSentence, Difficulty: g.Difficulty},
	}, nil
}

func (s *memQuestionStore) GetQuestion(context.Context, int64) (types.Question, error) {
	return types.Question{}, types.ErrNotFound
}

type GeneratorTestSuite struct {
	suite.Suite

	srv      *httptest.Server
	content  string
	status   int
	requests []map[string]any
	store    *memQuestionStore
	cfg      types.GeneratorConfig
}

func TestGeneratorTestSuite(t *testing.T) {
	suite.Run(t, new(GeneratorTestSuite))
}

func (s *GeneratorTestSuite) SetupTest() {
	s.content = modelOutput
	s.status = http.StatusOK
	s.requests = nil
	s.store = &memQuestionStore{history: map[string][]string{}}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		s.requests = append(s.requests, req)

		if s.status != http.StatusOK {
			w.WriteHeader(s.status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream failure","type":"server_error"}}`))
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   req["model"],
			"choices": []any{map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": s.content},
				"finish_reason": "stop",
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	s.cfg = types.DefaultGeneratorConfig()
	s.cfg.APIKey = "sk-test"
	s.cfg.BaseURL = s.srv.URL + "/v1"
}

func (s *GeneratorTestSuite) TearDownTest() {
	s.srv.Close()
}

func (s *GeneratorTestSuite) newGenerator() *OpenAI {
	g, err := NewOpenAI(s.cfg, s.store)
	s.Require().NoError(err)
	return g
}

func (s *GeneratorTestSuite) systemMessage(i int) string {
	msgs := s.requests[i]["messages"].([]any)
	return msgs[0].(map[string]any)["content"].(string)
}

func (s *GeneratorTestSuite) TestGenerateAndPersist() {
	s.store.history["u1"] = []string{"She has lived here since 2010.", "The report was finished on time."}

	q, err := s.newGenerator().Generate(context.Background(), "u1", "history", "hard")
	s.Require().NoError(err)
	s.Equal(int64(1), q.ID)
	s.Equal("would have caught", q.CorrectAnswer)
	s.NoError(q.Validate())

	s.Require().Len(s.store.saved, 1)
	s.Equal("inverted conditional", s.store.saved[0].KnowledgePoint)
	s.Len(s.store.saved[0].TranslationOptions, 3)

	s.Require().Len(s.requests, 1)
	req := s.requests[0]
	s.Equal("gpt-3.5-turbo", req["model"])
	s.Equal("json_object", req["response_format"].(map[string]any)["type"])
	prompt := s.systemMessage(0)
	s.Contains(prompt, "hard difficulty (B2 CEFR level)")
	s.Contains(prompt, "related to the topic: 'history'")
	s.Contains(prompt, "- She has lived here since 2010.")
}

func (s *GeneratorTestSuite) TestDefaultsAndGeneralTopic() {
	_, err := s.newGenerator().Generate(context.Background(), "", "", "")
	s.Require().NoError(err)
	prompt := s.systemMessage(0)
	s.Contains(prompt, "medium difficulty (A2-B1 CEFR level)")
	s.Contains(prompt, "should not exceed 20 words")
	s.NotContains(prompt, "related to the topic")
	s.NotContains(prompt, "historical questions")
}

func (s *GeneratorTestSuite) TestHistoryFailureStillGenerates() {
	s.store.histErr = errors.New("db down")
	_, err := s.newGenerator().Generate(context.Background(), "u1", "life", "advanced")
	s.NoError(err)
	s.Contains(s.systemMessage(0), "advanced difficulty (C1 CEFR level)")
}

func (s *GeneratorTestSuite) TestFencedOutput() {
	s.content = "```json\n" + modelOutput + "\n```"
	_, err := s.newGenerator().Generate(context.Background(), "u1", "general", "hard")
	s.NoError(err)
}

func (s *GeneratorTestSuite) TestResultPath() {
	s.content = `{"data": {"question": ` + modelOutput + `}}`
	s.cfg.ResultPath = "data.question"
	q, err := s.newGenerator().Generate(context.Background(), "u1", "general", "hard")
	s.Require().NoError(err)
	s.Equal("would have caught", q.CorrectAnswer)

	s.cfg.ResultPath = "data.missing"
	_, err = s.newGenerator().Generate(context.Background(), "u1", "general", "hard")
	s.ErrorIs(err, types.ErrMalformedOutput)
}

func (s *GeneratorTestSuite) TestInvalidResultPath() {
	s.cfg.ResultPath = "data.["
	_, err := NewOpenAI(s.cfg, s.store)
	s.ErrorIs(err, types.ErrInvalidConfig)
}

func (s *GeneratorTestSuite) TestMalformedOutput() {
	for _, content := range []string{
		"I cannot help with that.",
		`{"sentence_with_blank": "x ____", "options": ["a", "b"], "answer": "a"}`,
		strings.Replace(modelOutput, `"answer": "would have caught",`, "", 1),
	} {
		s.content = content
		_, err := s.newGenerator().Generate(context.Background(), "u1", "general", "medium")
		s.ErrorIs(err, types.ErrMalformedOutput, content)
	}
	s.Empty(s.store.saved)
}

func (s *GeneratorTestSuite) TestUpstreamError() {
	s.status = http.StatusInternalServerError
	_, err := s.newGenerator().Generate(context.Background(), "u1", "general", "medium")
	s.ErrorIs(err, types.ErrGeneration)
}

func (s *GeneratorTestSuite) TestSaveError() {
	s.store.saveErr = types.ErrDataStoreAccess
	_, err := s.newGenerator().Generate(context.Background(), "u1", "general", "medium")
	s.ErrorIs(err, types.ErrGeneration)
	s.ErrorIs(err, types.ErrDataStoreAccess)
}

func (s *GeneratorTestSuite) TestMissingAPIKey() {
	s.cfg.APIKey = ""
	_, err := s.newGenerator().Generate(context.Background(), "u1", "general", "medium")
	s.ErrorIs(err, types.ErrGeneratorConfig)
	s.Empty(s.requests)
}

func (s *GeneratorTestSuite) TestRateLimitHonoursContext() {
	s.cfg.RatePerSecond = 0.001
	s.cfg.Burst = 1
	g := s.newGenerator()
	_, err := g.Generate(context.Background(), "", "general", "medium")
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Generate(ctx, "", "general", "medium")
	s.ErrorIs(err, types.ErrGeneration)
	s.Len(s.requests, 1)
}
