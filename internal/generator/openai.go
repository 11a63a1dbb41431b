package generator

import (
	"context"
	"errors"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jmespath/go-jmespath"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"qcache/internal/ports"
	"qcache/internal/types"
)

// OpenAI generates questions with an OpenAI compatible chat completion API and
// persists them through the question store.
type OpenAI struct {
	cli     *openai.Client
	cfg     types.GeneratorConfig
	store   ports.QuestionStore
	limiter *rate.Limiter
}

var _ ports.Generator = (*OpenAI)(nil)

// NewOpenAI builds the generator. Without an API key it is still usable, but
// every Generate fails with types.ErrGeneratorConfig.
func NewOpenAI(cfg types.GeneratorConfig, store ports.QuestionStore) (*OpenAI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, types.Err(types.ErrInvalidConfig, err, "generator")
	}
	if cfg.ResultPath != "" {
		if _, err := jmespath.Compile(cfg.ResultPath); err != nil {
			return nil, types.Err(types.ErrInvalidConfig, err, "result path %q", cfg.ResultPath)
		}
	}

	g := &OpenAI{cfg: cfg, store: store}
	if cfg.APIKey != "" {
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		g.cli = openai.NewClientWithConfig(oc)
	} else {
		log.Warn("OPENAI_API_KEY not set, question generation disabled")
	}
	if cfg.RatePerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	return g, nil
}

func (g *OpenAI) Generate(ctx context.Context, userID, topic, difficulty string) (types.Question, error) {
	if g.cli == nil {
		return types.Question{}, types.ErrGeneratorConfig
	}
	if topic == "" {
		topic = types.DefaultTopic
	}
	if difficulty == "" {
		difficulty = types.DefaultDifficulty
	}
	logger := log.WithFields(log.Fields{"userID": userID, "topic": topic, "difficulty": difficulty})

	var history []string
	if userID != "" && g.cfg.HistoryLimit > 0 {
		h, err := g.store.RecentSentences(ctx, userID, g.cfg.HistoryLimit)
		if err != nil {
			// history only steers the model
			logger.WithError(err).Warn("failed to load answer history")
		}
		history = h
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return types.Question{}, types.Err(types.ErrGeneration, err, "rate limit wait")
		}
	}

	resp, err := g.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(topic, difficulty, history)},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return types.Question{}, types.Err(types.ErrGeneration, err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return types.Question{}, types.Err(types.ErrGeneration, errors.New("no choices returned"), "")
	}

	gq, err := g.parse(resp.Choices[0].Message.Content)
	if err != nil {
		logger.WithError(err).Debug("unusable model output")
		return types.Question{}, err
	}
	if gq.Difficulty == "" {
		gq.Difficulty = difficulty
	}

	q, err := g.store.SaveGenerated(ctx, gq)
	if err != nil {
		return types.Question{}, types.Err(types.ErrGeneration, err, "save generated question")
	}
	logger.WithField("questionID", q.ID).Info("generated question")
	return q, nil
}

// parse reads the question object out of the model output, which may be wrapped
// in a markdown code fence and, with a result path, nested under other keys.
func (g *OpenAI) parse(content string) (types.GeneratedQuestion, error) {
	raw := []byte(stripFence(content))
	if g.cfg.ResultPath != "" {
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return types.GeneratedQuestion{}, types.Err(types.ErrMalformedOutput, err, "")
		}
		v, err := jmespath.Search(g.cfg.ResultPath, doc)
		if err != nil {
			return types.GeneratedQuestion{}, types.Err(types.ErrMalformedOutput, err, "jmespath %q", g.cfg.ResultPath)
		}
		if v == nil {
			return types.GeneratedQuestion{}, types.Err(types.ErrMalformedOutput, nil, "%q matched nothing", g.cfg.ResultPath)
		}
		if raw, err = json.Marshal(v); err != nil {
			return types.GeneratedQuestion{}, types.Err(types.ErrMalformedOutput, err, "")
		}
	}

	var gq types.GeneratedQuestion
	if err := json.Unmarshal(raw, &gq); err != nil {
		return types.GeneratedQuestion{}, types.Err(types.ErrMalformedOutput, err, "")
	}
	if err := gq.Validate(); err != nil {
		return types.GeneratedQuestion{}, types.Err(types.ErrMalformedOutput, err, "")
	}
	return gq, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
