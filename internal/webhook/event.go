package webhook

import (
	"time"

	"github.com/dunamismax/joblistings/internal/queue"
)

const EventDatasetReplaced = "dataset.replaced"

// DatasetReplacedEvent is the JSON body delivered after an upload replaced the
// stored dataset.
type DatasetReplacedEvent struct {
	Event       string    `json:"event"`
	DeliveryID  string    `json:"delivery_id"`
	UploadID    string    `json:"upload_id"`
	Filename    string    `json:"filename"`
	Records     int       `json:"records"`
	ReplacedAt  time.Time `json:"replaced_at"`
	DeliveredAt time.Time `json:"delivered_at,omitempty"`
}

func NewDatasetReplacedEvent(payload queue.DatasetReplacedPayload) DatasetReplacedEvent {
	return DatasetReplacedEvent{
		Event:      EventDatasetReplaced,
		DeliveryID: DeliveryID(payload.UploadID),
		UploadID:   payload.UploadID,
		Filename:   payload.Filename,
		Records:    payload.Records,
		ReplacedAt: payload.ReplacedAt.UTC(),
	}
}

// DeliveryID is stable for an upload, so every retry of the same event carries
// the same value and receivers can discard duplicates.
func DeliveryID(uploadID string) string {
	return EventDatasetReplaced + ":" + uploadID
}
