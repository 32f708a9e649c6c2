package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeDatasetReplaced = "dataset:replaced"

type DatasetReplacedPayload struct {
	UploadID   string    `json:"upload_id"`
	Filename   string    `json:"filename"`
	Records    int       `json:"records"`
	ReplacedAt time.Time `json:"replaced_at"`
}

func NewDatasetReplacedTask(payload DatasetReplacedPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal dataset payload: %w", err)
	}
	return asynq.NewTask(TypeDatasetReplaced, body), nil
}

func ParseDatasetReplacedPayload(task *asynq.Task) (DatasetReplacedPayload, error) {
	var payload DatasetReplacedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DatasetReplacedPayload{}, fmt.Errorf("unmarshal dataset payload: %w", err)
	}
	return payload, nil
}
