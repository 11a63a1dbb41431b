package ports

import "context"

// Publisher forwards pool events to a topic. Publishing is best effort; the pool
// never fails a write because a publish failed.
type Publisher interface {
	PublishRaw(ctx context.Context, arn string, payload []byte) error
}
