package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"strings"
	"sync"
	"testing"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) PutObject(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return "", errors.New("store unavailable")
	}
	f.objects[objectName] = data
	return "http://store/" + objectName, nil
}

func (f *fakeStore) RemoveObject(ctx context.Context, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
	return nil
}

// buildFileHeader assembles a real multipart form so the transfer path
// exercises the same FileHeader the HTTP layer hands over.
func buildFileHeader(t *testing.T, fieldName, fileName, contentType, content string) *multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="` + fieldName + `"; filename="` + fileName + `"`}
	header["Content-Type"] = []string{contentType}
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart failed: %v", err)
	}
	if _, err := io.Copy(part, strings.NewReader(content)); err != nil {
		t.Fatalf("Writing part failed: %v", err)
	}
	writer.Close()

	reader := multipart.NewReader(&buf, writer.Boundary())
	form, err := reader.ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("ReadForm failed: %v", err)
	}
	t.Cleanup(func() { form.RemoveAll() })
	return form.File[fieldName][0]
}

// TestUploadFile tests the single-file transfer path
func TestUploadFile(t *testing.T) {
	t.Run("SuccessStoresAndCompletes", func(t *testing.T) {
		store := newFakeStore()
		service := NewService(NewManager(nil, nil), store)

		header := buildFileHeader(t, "file", "report.pdf", "application/pdf", "pdf bytes")
		session, err := service.UploadFile(7, header, "", 0)
		if err != nil {
			t.Fatalf("UploadFile failed: %v", err)
		}
		if session.Status != StatusComplete {
			t.Errorf("Expected complete status, got %s", session.Status)
		}
		if session.ResultURL == "" {
			t.Error("Completed session should carry a result URL")
		}
		if session.ThumbnailURL != "" {
			t.Error("Non-image uploads must not get a thumbnail")
		}

		store.mu.Lock()
		stored := len(store.objects)
		store.mu.Unlock()
		if stored != 1 {
			t.Errorf("Expected 1 stored object, got %d", stored)
		}
	})

	t.Run("ImageGetsThumbnail", func(t *testing.T) {
		service := NewService(NewManager(nil, nil), newFakeStore())

		header := buildFileHeader(t, "file", "photo.png", "image/png", "png bytes")
		session, err := service.UploadFile(7, header, "", 0)
		if err != nil {
			t.Fatalf("UploadFile failed: %v", err)
		}
		if session.ThumbnailURL != session.ResultURL {
			t.Errorf("Image thumbnail should match the result URL, got %q", session.ThumbnailURL)
		}
	})

	t.Run("StoreErrorFailsSession", func(t *testing.T) {
		store := newFakeStore()
		store.failPut = true
		manager := NewManager(nil, nil)
		service := NewService(manager, store)

		header := buildFileHeader(t, "file", "doc.txt", "text/plain", "text")
		session, err := service.UploadFile(7, header, "", 0)
		if err == nil {
			t.Fatal("Expected an error from the failing store")
		}
		if session.Status != StatusError {
			t.Errorf("Expected error status, got %s", session.Status)
		}
		if session.Reason == "" {
			t.Error("Failed session should record a reason")
		}
	})
}

// TestUploadBatch tests sequential batch transfers with per-file isolation
func TestUploadBatch(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(nil, nil)
	service := NewService(manager, store)

	headers := []*multipart.FileHeader{
		buildFileHeader(t, "files", "one.txt", "text/plain", "one"),
		buildFileHeader(t, "files", "two.txt", "text/plain", "two"),
	}

	batchID, results := service.UploadBatch(7, "", headers)
	if batchID == "" {
		t.Fatal("Batch id should be generated when empty")
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	for i, result := range results {
		if !result.OK {
			t.Errorf("Result %d should be ok: %s", i, result.Error)
		}
		if result.FileIndex != i {
			t.Errorf("Result %d has file index %d", i, result.FileIndex)
		}
		if result.ResultURL == "" {
			t.Errorf("Result %d missing result URL", i)
		}
	}

	t.Run("ProvidedBatchIDKept", func(t *testing.T) {
		headers := []*multipart.FileHeader{
			buildFileHeader(t, "files", "three.txt", "text/plain", "three"),
		}
		batchID, _ := service.UploadBatch(7, "my-batch", headers)
		if batchID != "my-batch" {
			t.Errorf("Expected provided batch id, got %q", batchID)
		}
	})
}

// TestProgressReader tests the throttled byte counting
func TestProgressReader(t *testing.T) {
	var reports []int64
	data := bytes.Repeat([]byte("x"), 256*1024)
	reader := newProgressReader(bytes.NewReader(data), int64(len(data)), func(transferred int64) {
		reports = append(reports, transferred)
	})

	if _, err := io.Copy(io.Discard, reader); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if len(reports) == 0 {
		t.Fatal("Expected at least one progress report")
	}
	if final := reports[len(reports)-1]; final != int64(len(data)) {
		t.Errorf("Final report should cover all bytes, got %d of %d", final, len(data))
	}
	for i := 1; i < len(reports); i++ {
		if reports[i] <= reports[i-1] {
			t.Errorf("Reports should be strictly increasing: %v", reports)
		}
	}
}
