package ddb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	SCounter  = "COUNTER"
	SSentence = "SENTENCE"
	SText     = "TEXT"
	SQuestion = "QUESTION"
	SUser     = "USER"
	SAnswer   = "ANSWER"
)

// maxHistoryPage caps one history query page.
const maxHistoryPage = 100

func pkCounter() string                { return SCounter }
func skCounter(entity string) string   { return entity }
func pkQuestion(id int64) string       { return fmt.Sprintf("%s#%d", SQuestion, id) }
func skProfile() string                { return "PROFILE" }
func pkUser(id string) string          { return fmt.Sprintf("%s#%s", SUser, id) }
func skAnswer(answeredAt int64) string { return fmt.Sprintf("%s#%020d", SAnswer, answeredAt) }

// pkSentenceText indexes sentences by a digest of their exact text, which may
// exceed the key size limit.
func pkSentenceText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s#%s", SText, hex.EncodeToString(sum[:]))
}

func historyPageSize(limit int) int32 {
	return int32(min(limit, maxHistoryPage))
}

func createTableIfNotExists(ctx context.Context, client *dynamodb.Client, table string) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: &table,
		AttributeDefinitions: []ddbTypes.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbTypes.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: ddbTypes.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: ddbTypes.KeyTypeRange},
		},
		BillingMode: ddbTypes.BillingModePayPerRequest,
	})
	var re *ddbTypes.ResourceInUseException
	if err != nil && !errors.As(err, &re) {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}
