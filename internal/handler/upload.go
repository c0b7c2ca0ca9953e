package handler

import (
	"io"
	"log/slog"
	"net/http"

	"crucible/internal/httputil"
	"crucible/internal/service/upload"
)

// maxUploadBytes caps one uploaded file.
const maxUploadBytes = 10 << 20

// UploadHandler serves file uploads for turn attachments.
type UploadHandler struct {
	upload *upload.Service
	logger *slog.Logger
}

// NewUploadHandler creates an upload handler.
func NewUploadHandler(uploadSvc *upload.Service, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{upload: uploadSvc, logger: logger}
}

// Upload handles POST /api/upload (multipart, field "file").
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	result, err := h.upload.Process(r.Context(), header.Filename, content)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, result)
}
