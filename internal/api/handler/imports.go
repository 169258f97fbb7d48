package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/visionbench/internal/api/response"
	"github.com/kiranshivaraju/visionbench/internal/importer"
	"github.com/kiranshivaraju/visionbench/internal/store"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

// multipart overhead allowed on top of the file itself
const formSlack = 64 << 10

// Imports submits and reports annotation import jobs.
type Imports interface {
	Submit(ctx context.Context, datasetID uuid.UUID, filename string, data []byte) (*models.ImportJob, error)
	Status(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error)
}

type ImportHandlers struct {
	imports Imports
}

func NewImportHandlers(imports Imports) *ImportHandlers {
	return &ImportHandlers{imports: imports}
}

// Create handles POST /api/v1/datasets/{datasetID}/imports with a multipart
// "file" field. The job is processed in the background.
func (h *ImportHandlers) Create(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := pathID(w, r, "datasetID")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, importer.MaxFileBytes+formSlack)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
				"Import file exceeds 10 MiB", nil)
			return
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "multipart field \"file\" is required", nil)
		return
	}
	defer file.Close()

	if header.Size > importer.MaxFileBytes {
		response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
			"Import file exceeds 10 MiB", nil)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Could not read uploaded file", nil)
		return
	}

	job, err := h.imports.Submit(r.Context(), datasetID, filepath.Base(header.Filename), data)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Dataset not found", nil)
			return
		}
		slog.Error("import submit failed", "dataset_id", datasetID, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start import", nil)
		return
	}

	response.Accepted(w, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// Get handles GET /api/v1/imports/{jobID}.
func (h *ImportHandlers) Get(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	job, err := h.imports.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Import job not found", nil)
			return
		}
		slog.Error("import status failed", "job_id", jobID, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load import job", nil)
		return
	}
	response.JSON(w, job)
}
