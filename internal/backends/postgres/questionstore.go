package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"qcache/internal/ports"
	"qcache/internal/types"
)

// QuestionStore keeps sentences, questions and answer history in Postgres.
type QuestionStore struct {
	db     *sqlx.DB
	schema string
}

var _ ports.QuestionStore = (*QuestionStore)(nil)
var _ ports.StoreHealth = (*QuestionStore)(nil)

func NewQuestionStore(db *sqlx.DB, schema string) *QuestionStore {
	return &QuestionStore{db: db, schema: schema}
}

// stringList is a JSONB array of strings.
type stringList []string

func (l stringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *stringList) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("stringList: unsupported type %T", src)
	}
	return json.Unmarshal(b, (*[]string)(l))
}

type dbQuestion struct {
	ID                 int64          `db:"id"`
	SentenceID         int64          `db:"sentence_id"`
	Type               string         `db:"type"`
	Options            stringList     `db:"options"`
	CorrectAnswer      string         `db:"correct_answer"`
	Explanation        sql.NullString `db:"explanation"`
	QuestionText       sql.NullString `db:"question_text"`
	TranslationText    sql.NullString `db:"translation_text"`
	TranslationOptions stringList     `db:"translation_options"`
	CorrectTranslation sql.NullString `db:"correct_translation"`
	Difficulty         sql.NullString `db:"difficulty"`
	KnowledgePoint     sql.NullString `db:"knowledge_point"`
	Order              int            `db:"order"`

	SentenceText        string         `db:"sentence_text"`
	SentenceTranslation string         `db:"sentence_translation"`
	SentenceGrammar     sql.NullString `db:"sentence_grammar_point"`
	SentenceDifficulty  string         `db:"sentence_difficulty"`
}

func (r dbQuestion) toQuestion() types.Question {
	return types.Question{
		ID:                 r.ID,
		SentenceID:         r.SentenceID,
		Type:               types.QuestionType(r.Type),
		Options:            []string(r.Options),
		CorrectAnswer:      r.CorrectAnswer,
		Explanation:        r.Explanation.String,
		Order:              r.Order,
		QuestionText:       r.QuestionText.String,
		TranslationText:    r.TranslationText.String,
		TranslationOptions: []string(r.TranslationOptions),
		CorrectTranslation: r.CorrectTranslation.String,
		Difficulty:         r.Difficulty.String,
		KnowledgePoint:     r.KnowledgePoint.String,
		Sentence: types.Sentence{
			ID:           r.SentenceID,
			Text:         r.SentenceText,
			Translation:  r.SentenceTranslation,
			GrammarPoint: r.SentenceGrammar.String,
			Difficulty:   r.SentenceDifficulty,
		},
	}
}

const selectQuestion = `SELECT
	q.id, q.sentence_id, q.type, q.options, q.correct_answer, q.explanation,
	q.question_text, q.translation_text, q.translation_options, q.correct_translation,
	q.difficulty, q.knowledge_point, q."order",
	s.text AS sentence_text, s.translation AS sentence_translation,
	s.grammar_point AS sentence_grammar_point, s.difficulty AS sentence_difficulty
FROM questions q
JOIN sentences s ON s.id = q.sentence_id`

func (p *QuestionStore) setSearchPath(ctx context.Context, txx *sqlx.Tx) error {
	_, err := txx.ExecContext(ctx, fmt.Sprintf("SET LOCAL search_path TO %s", pq.QuoteIdentifier(p.schema)))
	if err != nil {
		return fmt.Errorf("failed to set search path: %w", err)
	}
	return nil
}

// RecentSentences returns the full sentences of the user's latest answered questions.
// User ids that are not UUIDs have no history.
func (p *QuestionStore) RecentSentences(ctx context.Context, userID string, limit int) ([]string, error) {
	uid, err := uuid.Parse(userID)
	if err != nil || limit <= 0 {
		return nil, nil
	}

	txx, err := p.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "begin")
	}
	defer txx.Rollback()
	if err := p.setSearchPath(ctx, txx); err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "")
	}

	var rows []struct {
		TranslationText sql.NullString `db:"translation_text"`
		QuestionText    sql.NullString `db:"question_text"`
		CorrectAnswer   string         `db:"correct_answer"`
	}
	err = txx.SelectContext(ctx, &rows,
		`SELECT q.translation_text, q.question_text, q.correct_answer
		FROM user_answers a
		JOIN questions q ON q.id = a.question_id
		WHERE a.user_id = $1
		ORDER BY a.answered_at DESC
		LIMIT $2`,
		uid.String(), limit,
	)
	if err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "select history for %s", userID)
	}

	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if s := historySentence(r.TranslationText.String, r.QuestionText.String, r.CorrectAnswer); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// historySentence prefers the full sentence and otherwise fills the blank with the answer.
func historySentence(full, withBlank, answer string) string {
	if full != "" {
		return full
	}
	if withBlank != "" && answer != "" {
		return strings.ReplaceAll(withBlank, "____", answer)
	}
	return ""
}

func (p *QuestionStore) SaveGenerated(ctx context.Context, g types.GeneratedQuestion) (types.Question, error) {
	if err := g.Validate(); err != nil {
		return types.Question{}, types.Err(types.ErrMalformedOutput, err, "")
	}

	txx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return types.Question{}, types.Err(types.ErrDataStoreAccess, err, "begin")
	}
	defer txx.Rollback()
	if err := p.setSearchPath(ctx, txx); err != nil {
		return types.Question{}, types.Err(types.ErrDataStoreAccess, err, "")
	}

	difficulty := g.Difficulty
	if difficulty == "" {
		difficulty = types.DefaultDifficulty
	}

	// find or create the sentence by its exact text
	var sentenceID int64
	err = txx.GetContext(ctx, &sentenceID,
		`INSERT INTO sentences (text, translation, difficulty)
		VALUES ($1, $2, $3)
		ON CONFLICT ((md5(text))) DO UPDATE SET text = EXCLUDED.text
		RETURNING id`,
		g.OriginalEnglishSentence, g.CorrectTranslationOption, difficulty,
	)
	if err != nil {
		return types.Question{}, types.Err(types.ErrDataStoreAccess, err, "upsert sentence")
	}

	var questionID int64
	err = txx.GetContext(ctx, &questionID,
		`INSERT INTO questions
		(sentence_id, type, options, correct_answer, explanation, question_text,
		translation_text, translation_options, correct_translation, difficulty, knowledge_point, "order")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
		RETURNING id`,
		sentenceID, string(types.WordChoice), stringList(g.Options), g.Answer, g.Explanation, g.SentenceWithBlank,
		g.OriginalEnglishSentence, stringList(g.TranslationOptions), g.CorrectTranslationOption, difficulty, g.KnowledgePoint,
	)
	if err != nil {
		return types.Question{}, types.Err(types.ErrDataStoreAccess, err, "insert question")
	}

	var row dbQuestion
	if err := txx.GetContext(ctx, &row, selectQuestion+" WHERE q.id = $1", questionID); err != nil {
		return types.Question{}, types.Err(types.ErrDataStoreAccess, err, "reload question %d", questionID)
	}
	if err := txx.Commit(); err != nil {
		return types.Question{}, types.Err(types.ErrDataStoreAccess, err, "commit")
	}
	return row.toQuestion(), nil
}

func (p *QuestionStore) GetQuestion(ctx context.Context, id int64) (types.Question, error) {
	txx, err := p.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return types.Question{}, types.Err(types.ErrDataStoreAccess, err, "begin")
	}
	defer txx.Rollback()
	if err := p.setSearchPath(ctx, txx); err != nil {
		return types.Question{}, types.Err(types.ErrDataStoreAccess, err, "")
	}

	var row dbQuestion
	err = txx.GetContext(ctx, &row, selectQuestion+" WHERE q.id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Question{}, types.ErrNotFound
	}
	if err != nil {
		return types.Question{}, types.Err(types.ErrDataStoreAccess, err, "get question %d", id)
	}
	return row.toQuestion(), nil
}

func (s *QuestionStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}

// Stats reports the connection pool counters of the underlying database handle.
func (s *QuestionStore) Stats() map[string]any {
	st := s.db.Stats()
	return map[string]any{
		"backend":              "postgres",
		"max_open_connections": st.MaxOpenConnections,
		"open_connections":     st.OpenConnections,
		"in_use":               st.InUse,
		"idle":                 st.Idle,
		"wait_count":           st.WaitCount,
		"wait_duration_ms":     st.WaitDuration.Milliseconds(),
	}
}
