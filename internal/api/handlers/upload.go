package handlers

import (
	"errors"
	"net/http"

	"chat-realtime/internal/upload"

	"github.com/gin-gonic/gin"
)

type UploadHandler struct {
	uploadService *upload.Service
	maxFileSize   int64
}

func NewUploadHandler(uploadService *upload.Service, maxFileSize int64) *UploadHandler {
	return &UploadHandler{uploadService: uploadService, maxFileSize: maxFileSize}
}

// UploadFile godoc
// @Summary Upload a single file
// @Description Upload one file to object storage, tracking progress over WebSocket
// @Tags upload
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "File to upload"
// @Success 200 {object} upload.Session "Finished upload session"
// @Failure 400 {object} map[string]interface{} "Bad request - missing or oversized file"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /upload [post]
func (h *UploadHandler) UploadFile(c *gin.Context) {
	userID := c.GetUint("user_id")

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}
	if h.maxFileSize > 0 && file.Size > h.maxFileSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file exceeds the maximum allowed size"})
		return
	}

	session, err := h.uploadService.UploadFile(userID, file, "", 0)
	if err != nil {
		if errors.Is(err, upload.ErrCancelled) {
			c.JSON(http.StatusOK, session)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, session)
}

// UploadBatch godoc
// @Summary Upload multiple files as a batch
// @Description Upload files sequentially under a shared batch id; per-file failures do not abort the batch
// @Tags upload
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param files formData file true "Files to upload"
// @Success 200 {object} map[string]interface{} "Batch id and per-file results"
// @Failure 400 {object} map[string]interface{} "Bad request - no files provided"
// @Router /upload/batch [post]
func (h *UploadHandler) UploadBatch(c *gin.Context) {
	userID := c.GetUint("user_id")

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one file is required"})
		return
	}
	if h.maxFileSize > 0 {
		for _, file := range files {
			if file.Size > h.maxFileSize {
				c.JSON(http.StatusBadRequest, gin.H{"error": "file exceeds the maximum allowed size", "fileName": file.Filename})
				return
			}
		}
	}

	batchID, results := h.uploadService.UploadBatch(userID, c.PostForm("batchId"), files)
	c.JSON(http.StatusOK, gin.H{
		"batchId": batchID,
		"files":   results,
	})
}

// CancelUpload godoc
// @Summary Cancel uploads
// @Description Cancel one upload, a whole batch, or one file within a batch
// @Tags upload
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body upload.CancelRequest true "Cancellation target"
// @Success 200 {object} map[string]interface{} "Number of sessions cancelled"
// @Failure 400 {object} map[string]interface{} "Bad request - no target specified"
// @Router /upload/cancel [post]
func (h *UploadHandler) CancelUpload(c *gin.Context) {
	var req upload.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.UploadID == "" && req.BatchID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uploadId or batchId is required"})
		return
	}

	affected := h.uploadService.Manager().Cancel(req)
	c.JSON(http.StatusOK, gin.H{"cancelled": affected})
}

// GetProgress godoc
// @Summary Get upload progress
// @Description Get the current state of a single upload session
// @Tags upload
// @Produce json
// @Security BearerAuth
// @Param uploadId path string true "Upload ID"
// @Success 200 {object} upload.Session "Current session state"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Router /upload/progress/{uploadId} [get]
func (h *UploadHandler) GetProgress(c *gin.Context) {
	session, err := h.uploadService.Manager().ProgressOf(c.Param("uploadId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "upload session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// GetBatchProgress godoc
// @Summary Get batch upload progress
// @Description Get the aggregate progress over all member sessions of a batch
// @Tags upload
// @Produce json
// @Security BearerAuth
// @Param batchId path string true "Batch ID"
// @Success 200 {object} upload.BatchProgress "Aggregate batch progress"
// @Failure 404 {object} map[string]interface{} "Batch not found"
// @Router /upload/progress/batch/{batchId} [get]
func (h *UploadHandler) GetBatchProgress(c *gin.Context) {
	progress, err := h.uploadService.Manager().BatchProgressOf(c.Param("batchId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	c.JSON(http.StatusOK, progress)
}

// RemoveProgress godoc
// @Summary Remove finished upload tracking
// @Description Evict a session's tracking entry after its final state was consumed
// @Tags upload
// @Produce json
// @Security BearerAuth
// @Param uploadId path string true "Upload ID"
// @Success 200 {object} map[string]interface{} "Removed"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Router /upload/progress/{uploadId} [delete]
func (h *UploadHandler) RemoveProgress(c *gin.Context) {
	if !h.uploadService.Manager().Remove(c.Param("uploadId")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "upload session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}
