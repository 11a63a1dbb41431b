package pub

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"qcache/internal/ports"
	qtypes "qcache/internal/types"
)

const source = "qcache"

type snsPub struct{ cli *sns.Client }

var _ ports.Publisher = (*snsPub)(nil)

func NewSNS(c *sns.Client) *snsPub { return &snsPub{cli: c} }

// PublishRaw sends payload as a JSON message to the topic.
func (s *snsPub) PublishRaw(ctx context.Context, arn string, payload []byte) error {
	_, err := s.cli.Publish(ctx, &sns.PublishInput{
		TopicArn: &arn,
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"content-type": {DataType: aws.String("String"), StringValue: aws.String("application/json")},
			"source":       {DataType: aws.String("String"), StringValue: aws.String(source)},
		},
	})
	if err != nil {
		return qtypes.Err(qtypes.ErrPublish, err, "topic %s", arn)
	}
	return nil
}
