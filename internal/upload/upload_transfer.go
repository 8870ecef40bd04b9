package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"path"
	"strings"

	"github.com/google/uuid"
)

var ErrCancelled = errors.New("upload cancelled")

// ObjectStore is the blob storage collaborator.
type ObjectStore interface {
	PutObject(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error)
	RemoveObject(ctx context.Context, objectName string) error
}

// Service drives transfers to the object store while the Manager tracks
// their sessions. Batch files upload sequentially to bound resource usage.
type Service struct {
	manager *Manager
	store   ObjectStore
}

func NewService(manager *Manager, store ObjectStore) *Service {
	return &Service{manager: manager, store: store}
}

func (s *Service) Manager() *Manager {
	return s.manager
}

// UploadFile transfers one file and returns the finished session. The
// session is registered before the first byte moves, so progress polls and
// cancellation work from the start.
func (s *Service) UploadFile(ownerID uint, file *multipart.FileHeader, batchID string, fileIndex int) (Session, error) {
	// Detached from the HTTP request: cancellation comes from the manager,
	// not from the caller hanging up.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := s.manager.Begin(ownerID, file.Size, batchID, fileIndex, cancel)

	src, err := file.Open()
	if err != nil {
		s.manager.Fail(session.UploadID, fmt.Sprintf("failed to open file: %v", err))
		return s.sessionOrLast(session.UploadID, session), fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	objectName := fmt.Sprintf("uploads/%d/%s%s", ownerID, session.UploadID, safeExt(file.Filename))
	contentType := file.Header.Get("Content-Type")

	reader := newProgressReader(src, file.Size, func(transferred int64) {
		s.manager.ReportProgress(session.UploadID, transferred, file.Size)
	})

	url, err := s.store.PutObject(ctx, objectName, reader, file.Size, contentType)
	if err != nil {
		if ctx.Err() != nil {
			// Aborted by cancel or sweep; discard whatever partially landed.
			if rmErr := s.store.RemoveObject(context.Background(), objectName); rmErr != nil {
				slog.Debug("Failed to remove partial object", "object", objectName, "error", rmErr)
			}
			return s.sessionOrLast(session.UploadID, session), ErrCancelled
		}
		s.manager.Fail(session.UploadID, err.Error())
		return s.sessionOrLast(session.UploadID, session), fmt.Errorf("upload failed: %w", err)
	}

	thumbnailURL := ""
	if strings.HasPrefix(contentType, "image/") {
		thumbnailURL = url
	}
	if err := s.manager.Complete(session.UploadID, url, thumbnailURL); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return session, err
	}

	return s.sessionOrLast(session.UploadID, session), nil
}

// UploadBatch transfers files one at a time under a shared batch id. A
// failure on one file records an error result and continues with the rest.
func (s *Service) UploadBatch(ownerID uint, batchID string, files []*multipart.FileHeader) (string, []FileResult) {
	if batchID == "" {
		batchID = uuid.New().String()
	}

	results := make([]FileResult, 0, len(files))
	for i, file := range files {
		session, err := s.UploadFile(ownerID, file, batchID, i)
		result := FileResult{
			UploadID:  session.UploadID,
			FileIndex: i,
			FileName:  file.Filename,
		}
		if err != nil {
			result.Error = err.Error()
		} else {
			result.OK = true
			result.ResultURL = session.ResultURL
			result.ThumbnailURL = session.ThumbnailURL
		}
		results = append(results, result)
	}

	return batchID, results
}

// sessionOrLast re-reads the session after a transition; when the session
// was already evicted (cancel removes tracking entries) the last known
// snapshot is returned.
func (s *Service) sessionOrLast(uploadID string, last Session) Session {
	if session, err := s.manager.ProgressOf(uploadID); err == nil {
		return session
	}
	return last
}

func safeExt(filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(filename)))
	if len(ext) > 10 {
		return ""
	}
	return ext
}

// progressReader counts bytes flowing to the object store and reports them
// at a bounded rate so socket listeners are not flooded.
type progressReader struct {
	inner        io.Reader
	total        int64
	transferred  int64
	lastReported int64
	threshold    int64
	report       func(transferred int64)
}

func newProgressReader(inner io.Reader, total int64, report func(int64)) *progressReader {
	threshold := total / 20
	if threshold < 64*1024 {
		threshold = 64 * 1024
	}
	return &progressReader{
		inner:     inner,
		total:     total,
		threshold: threshold,
		report:    report,
	}
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.transferred += int64(n)
		if r.transferred-r.lastReported >= r.threshold || r.transferred == r.total {
			r.lastReported = r.transferred
			r.report(r.transferred)
		}
	}
	return n, err
}
