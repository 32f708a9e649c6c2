package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueDatasetReplaced schedules change notification for an accepted upload.
// The upload id doubles as the task id so a repeated enqueue is rejected.
func (c *Client) EnqueueDatasetReplaced(ctx context.Context, payload DatasetReplacedPayload) (*asynq.TaskInfo, error) {
	task, err := NewDatasetReplacedTask(payload)
	if err != nil {
		return nil, err
	}

	opts := []asynq.Option{
		asynq.Queue(c.queue),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
	}
	if payload.UploadID != "" {
		opts = append(opts, asynq.TaskID(payload.UploadID))
	}
	return c.client.EnqueueContext(ctx, task, opts...)
}

func (c *Client) Close() error {
	return c.client.Close()
}
