package ports

import (
	"context"

	"qcache/internal/types"
)

// Generator produces and persists one new question.
// Implementations MUST be safe for concurrent use and MUST report every failure,
// missing configuration included, as an error rather than a panic.
type Generator interface {
	Generate(ctx context.Context, userID, topic, difficulty string) (types.Question, error)
}

// QuestionStore is the relational side of generation: the user's recent history
// used to steer the model, and persistence of what it produced.
type QuestionStore interface {
	// RecentSentences returns the full sentences of the user's most recently answered
	// questions, newest first. An empty userID returns nothing.
	RecentSentences(ctx context.Context, userID string, limit int) ([]string, error)

	// SaveGenerated finds or creates the sentence and creates a word choice question for it.
	SaveGenerated(ctx context.Context, g types.GeneratedQuestion) (types.Question, error)

	// GetQuestion MUST return types.ErrNotFound if the question does not exist.
	GetQuestion(ctx context.Context, id int64) (types.Question, error)
}

// StoreHealth is implemented by question stores that can report on their connection.
type StoreHealth interface {
	Ping(ctx context.Context) error
	Stats() map[string]any
}
