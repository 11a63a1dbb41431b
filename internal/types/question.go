package types

import "fmt"

type QuestionType string

const (
	WordChoice  QuestionType = "word_choice"
	Translation QuestionType = "translation"
)

const (
	DifficultyMedium   = "medium"
	DifficultyHard     = "hard"
	DifficultyAdvanced = "advanced"

	DefaultTopic      = "general"
	DefaultDifficulty = DifficultyMedium

	WordChoiceOptions  = 4
	TranslationOptions = 3
)

// Sentence is the English sentence a question is built around.
type Sentence struct {
	ID           int64  `json:"id" dynamodbav:"id"`
	Text         string `json:"text" dynamodbav:"text"`
	Translation  string `json:"translation" dynamodbav:"translation"`
	GrammarPoint string `json:"grammar_point,omitempty" dynamodbav:"grammar_point"`
	Difficulty   string `json:"difficulty" dynamodbav:"difficulty"`
}

// Question is the read model served to clients and stored as a pool entry.
// Sentence is always populated, the pool never stores a question without it.
type Question struct {
	ID                 int64        `json:"id" dynamodbav:"id"`
	SentenceID         int64        `json:"sentence_id" dynamodbav:"sentence_id"`
	Type               QuestionType `json:"type" dynamodbav:"type"`
	Options            []string     `json:"options" dynamodbav:"options"`
	CorrectAnswer      string       `json:"correct_answer" dynamodbav:"correct_answer"`
	Explanation        string       `json:"explanation" dynamodbav:"explanation"`
	Order              int          `json:"order" dynamodbav:"order"`
	QuestionText       string       `json:"question_text" dynamodbav:"question_text"`
	TranslationText    string       `json:"translation_text" dynamodbav:"translation_text"`
	TranslationOptions []string     `json:"translation_options" dynamodbav:"translation_options"`
	CorrectTranslation string       `json:"correct_translation" dynamodbav:"correct_translation"`
	Difficulty         string       `json:"difficulty" dynamodbav:"difficulty"`
	KnowledgePoint     string       `json:"knowledge_point" dynamodbav:"knowledge_point"`
	Sentence           Sentence     `json:"sentence" dynamodbav:"sentence"`
}

// Validate reports whether a decoded question is complete enough to serve.
func (q Question) Validate() error {
	if q.ID <= 0 {
		return fmt.Errorf("id is required")
	}
	if q.Sentence.ID <= 0 || q.Sentence.Text == "" {
		return fmt.Errorf("sentence is required")
	}
	if len(q.Options) != WordChoiceOptions {
		return fmt.Errorf("options must have %d items", WordChoiceOptions)
	}
	if q.CorrectAnswer == "" {
		return fmt.Errorf("correct_answer is required")
	}
	return nil
}

// GeneratedQuestion is the shape the generator asks the model to produce.
type GeneratedQuestion struct {
	SentenceWithBlank        string   `json:"sentence_with_blank"`
	Options                  []string `json:"options"`
	Answer                   string   `json:"answer"`
	Explanation              string   `json:"explanation"`
	OriginalEnglishSentence  string   `json:"original_English_sentence"`
	TranslationOptions       []string `json:"translation_options"`
	CorrectTranslationOption string   `json:"correct_translation_option"`
	Difficulty               string   `json:"difficulty"`
	KnowledgePoint           string   `json:"knowledge_point"`
}

func (g GeneratedQuestion) Validate() error {
	if g.OriginalEnglishSentence == "" {
		return fmt.Errorf("original_English_sentence is empty")
	}
	if g.SentenceWithBlank == "" {
		return fmt.Errorf("sentence_with_blank is empty")
	}
	if len(g.Options) != WordChoiceOptions {
		return fmt.Errorf("options must have %d items, got %d", WordChoiceOptions, len(g.Options))
	}
	if g.Answer == "" {
		return fmt.Errorf("answer is empty")
	}
	if g.CorrectTranslationOption == "" {
		return fmt.Errorf("correct_translation_option is empty")
	}
	return nil
}
