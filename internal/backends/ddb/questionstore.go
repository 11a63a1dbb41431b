package ddb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"qcache/internal/ports"
	"qcache/internal/types"
)

// QuestionStore implements ports.QuestionStore on a single DynamoDB table.
//
//	COUNTER        / SENTENCE|QUESTION  id sequences
//	TEXT#<sha256>  / PROFILE            sentence, found by exact text
//	QUESTION#<id>  / PROFILE            question with its sentence
//	USER#<id>      / ANSWER#<unix ns>   answered question's full sentence
type QuestionStore struct {
	table string
	cli   *dynamodb.Client
}

var _ ports.QuestionStore = (*QuestionStore)(nil)
var _ ports.StoreHealth = (*QuestionStore)(nil)

type sentenceItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	types.Sentence
}

type questionItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	types.Question
}

type answerItem struct {
	Sentence string `dynamodbav:"sentence"`
}

func NewQuestionStore(ctx context.Context, table string, cli *dynamodb.Client) (*QuestionStore, error) {
	if err := createTableIfNotExists(ctx, cli, table); err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "")
	}
	return &QuestionStore{table: table, cli: cli}, nil
}

func (s *QuestionStore) RecentSentences(ctx context.Context, userID string, limit int) ([]string, error) {
	if userID == "" || limit <= 0 {
		return nil, nil
	}
	out, err := s.cli.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.table,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":pk": &ddbTypes.AttributeValueMemberS{Value: pkUser(userID)},
			":sk": &ddbTypes.AttributeValueMemberS{Value: SAnswer + "#"},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(historyPageSize(limit)),
	})
	if err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "query history for %s", userID)
	}
	var items []answerItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "")
	}
	sentences := make([]string, 0, len(items))
	for _, it := range items {
		if it.Sentence != "" {
			sentences = append(sentences, it.Sentence)
		}
	}
	return sentences, nil
}

func (s *QuestionStore) SaveGenerated(ctx context.Context, g types.GeneratedQuestion) (types.Question, error) {
	if err := g.Validate(); err != nil {
		return types.Question{}, types.Err(types.ErrMalformedOutput, err, "")
	}
	difficulty := g.Difficulty
	if difficulty == "" {
		difficulty = types.DefaultDifficulty
	}

	sentence, err := s.findOrCreateSentence(ctx, types.Sentence{
		Text:        g.OriginalEnglishSentence,
		Translation: g.CorrectTranslationOption,
		Difficulty:  difficulty,
	})
	if err != nil {
		return types.Question{}, err
	}

	id, err := s.nextID(ctx, SQuestion)
	if err != nil {
		return types.Question{}, err
	}
	q := types.Question{
		ID:                 id,
		SentenceID:         sentence.ID,
		Type:               types.WordChoice,
		Options:            g.Options,
		CorrectAnswer:      g.Answer,
		Explanation:        g.Explanation,
		Order:              1,
		QuestionText:       g.SentenceWithBlank,
		TranslationText:    g.OriginalEnglishSentence,
		TranslationOptions: g.TranslationOptions,
		CorrectTranslation: g.CorrectTranslationOption,
		Difficulty:         difficulty,
		KnowledgePoint:     g.KnowledgePoint,
		Sentence:           sentence,
	}
	item, err := attributevalue.MarshalMap(questionItem{PK: pkQuestion(id), SK: skProfile(), Question: q})
	if err != nil {
		return types.Question{}, types.Err(types.ErrDataStoreAccess, err, "marshal question %d", id)
	}
	_, err = s.cli.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.table, Item: item})
	if err != nil {
		return types.Question{}, types.Err(types.ErrDataStoreAccess, err, "put question %d", id)
	}
	return q, nil
}

func (s *QuestionStore) GetQuestion(ctx context.Context, id int64) (types.Question, error) {
	out, err := s.cli.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.table,
		Key: map[string]ddbTypes.AttributeValue{
			"PK": &ddbTypes.AttributeValueMemberS{Value: pkQuestion(id)},
			"SK": &ddbTypes.AttributeValueMemberS{Value: skProfile()},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return types.Question{}, types.Err(types.ErrDataStoreAccess, err, "get question %d", id)
	}
	if out.Item == nil {
		return types.Question{}, types.ErrNotFound
	}
	var it questionItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return types.Question{}, types.Err(types.ErrDataStoreAccess, err, "")
	}
	return it.Question, nil
}

// findOrCreateSentence returns the stored sentence with the same text, creating
// it when there is none. A lost creation race reads the winner's item.
func (s *QuestionStore) Ping(ctx context.Context) error {
	if _, err := s.cli.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &s.table}); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "describe table %s", s.table)
	}
	return nil
}

func (s *QuestionStore) Stats() map[string]any {
	return map[string]any{"backend": "ddb", "table": s.table}
}

func (s *QuestionStore) findOrCreateSentence(ctx context.Context, sentence types.Sentence) (types.Sentence, error) {
	key := map[string]ddbTypes.AttributeValue{
		"PK": &ddbTypes.AttributeValueMemberS{Value: pkSentenceText(sentence.Text)},
		"SK": &ddbTypes.AttributeValueMemberS{Value: skProfile()},
	}
	if existing, ok, err := s.getSentence(ctx, key); err != nil || ok {
		return existing, err
	}

	id, err := s.nextID(ctx, SSentence)
	if err != nil {
		return types.Sentence{}, err
	}
	sentence.ID = id
	item, err := attributevalue.MarshalMap(sentenceItem{
		PK:       pkSentenceText(sentence.Text),
		SK:       skProfile(),
		Sentence: sentence,
	})
	if err != nil {
		return types.Sentence{}, types.Err(types.ErrDataStoreAccess, err, "")
	}
	_, err = s.cli.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.table,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var cc *ddbTypes.ConditionalCheckFailedException
		if !errors.As(err, &cc) {
			return types.Sentence{}, types.Err(types.ErrDataStoreAccess, err, "put sentence")
		}
		existing, ok, err := s.getSentence(ctx, key)
		if err != nil {
			return types.Sentence{}, err
		}
		if !ok {
			return types.Sentence{}, types.Err(types.ErrDataStoreAccess, nil, "sentence vanished after conflict")
		}
		return existing, nil
	}
	return sentence, nil
}

func (s *QuestionStore) getSentence(ctx context.Context, key map[string]ddbTypes.AttributeValue) (types.Sentence, bool, error) {
	out, err := s.cli.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return types.Sentence{}, false, types.Err(types.ErrDataStoreAccess, err, "get sentence")
	}
	if out.Item == nil {
		return types.Sentence{}, false, nil
	}
	var it sentenceItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return types.Sentence{}, false, types.Err(types.ErrDataStoreAccess, err, "")
	}
	return it.Sentence, true, nil
}

// nextID atomically increments the entity's counter and returns the new value.
func (s *QuestionStore) nextID(ctx context.Context, entity string) (int64, error) {
	out, err := s.cli.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.table,
		Key: map[string]ddbTypes.AttributeValue{
			"PK": &ddbTypes.AttributeValueMemberS{Value: pkCounter()},
			"SK": &ddbTypes.AttributeValueMemberS{Value: skCounter(entity)},
		},
		UpdateExpression:         aws.String("ADD #n :one"),
		ExpressionAttributeNames: map[string]string{"#n": "n"},
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":one": &ddbTypes.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: ddbTypes.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, types.Err(types.ErrDataStoreAccess, err, "next %s id", entity)
	}
	n, ok := out.Attributes["n"].(*ddbTypes.AttributeValueMemberN)
	if !ok {
		return 0, types.Err(types.ErrDataStoreAccess, nil, "counter %s missing from response", entity)
	}
	id, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, types.Err(types.ErrDataStoreAccess, err, "")
	}
	return id, nil
}

// recordAnswer appends an answered sentence to the user's history. Answers are
// written by the answer service; tests use it to seed history.
func (s *QuestionStore) recordAnswer(ctx context.Context, userID string, answeredAt int64, sentence string) error {
	_, err := s.cli.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item: map[string]ddbTypes.AttributeValue{
			"PK":       &ddbTypes.AttributeValueMemberS{Value: pkUser(userID)},
			"SK":       &ddbTypes.AttributeValueMemberS{Value: skAnswer(answeredAt)},
			"sentence": &ddbTypes.AttributeValueMemberS{Value: sentence},
			"at":       &ddbTypes.AttributeValueMemberN{Value: strconv.FormatInt(answeredAt, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("put answer: %w", err)
	}
	return nil
}
