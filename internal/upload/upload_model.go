package upload

import (
	"context"
	"time"
)

// enum
type SessionStatus string

const (
	StatusStarting  SessionStatus = "starting"
	StatusUploading SessionStatus = "uploading"
	StatusComplete  SessionStatus = "complete"
	StatusError     SessionStatus = "error"
	StatusCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether the session reached a final state.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// Session tracks one in-flight (or recently finished) upload. The cancel
// handle aborts the underlying transfer; it is best-effort, the transfer
// may already have completed.
type Session struct {
	UploadID         string        `json:"uploadId"`
	BatchID          string        `json:"batchId,omitempty"`
	FileIndex        int           `json:"fileIndex"`
	OwnerID          uint          `json:"ownerId"`
	Status           SessionStatus `json:"status"`
	ProgressPercent  int           `json:"progressPercent"`
	BytesTransferred int64         `json:"bytesTransferred"`
	TotalBytes       int64         `json:"totalBytes"`
	ResultURL        string        `json:"resultUrl,omitempty"`
	ThumbnailURL     string        `json:"thumbnailUrl,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`

	cancel context.CancelFunc
}

// snapshot copies the exported state, safe to hand out after unlock.
func (s *Session) snapshot() Session {
	out := *s
	out.cancel = nil
	return out
}

// BatchProgress is the derived aggregate over all sessions of a batch.
type BatchProgress struct {
	BatchID          string `json:"batchId"`
	TotalFiles       int    `json:"totalFiles"`
	CompletedFiles   int    `json:"completedFiles"`
	AggregatePercent int    `json:"progressPercent"`
	FailedFiles      int    `json:"failedFiles"`
	CancelledFiles   int    `json:"cancelledFiles"`
}

// CancelRequest selects sessions to cancel: a single upload, an entire
// batch, or one file within a batch.
type CancelRequest struct {
	UploadID  string `json:"uploadId,omitempty"`
	BatchID   string `json:"batchId,omitempty"`
	FileIndex *int   `json:"fileIndex,omitempty"`
}

// FileResult is one entry of a batch upload response.
type FileResult struct {
	UploadID     string `json:"uploadId"`
	FileIndex    int    `json:"fileIndex"`
	FileName     string `json:"fileName"`
	OK           bool   `json:"ok"`
	ResultURL    string `json:"resultUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Error        string `json:"error,omitempty"`
}
