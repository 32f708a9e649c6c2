package domain

import "time"

type DatasetState string

const (
	DatasetAbsent  DatasetState = "absent"
	DatasetPresent DatasetState = "present"
)

// UploadReceipt summarises an accepted upload.
type UploadReceipt struct {
	UploadID   string
	Filename   string
	Records    int
	AcceptedAt time.Time
}
