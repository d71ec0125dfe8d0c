package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/StricklySoft/stricklysoft-fstorage/internal/files"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/lifecycle"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/models"
)

// Client-facing messages.
const (
	msgFileRequired    = "At least one file is required"
	msgDomainRequired  = "Domain is required"
	msgInvalidDomain   = "Invalid domain"
	msgInvalidFile     = "Invalid file"
	msgFileTooLarge    = "File too large"
	msgFileIDsRequired = "File IDs array is required and cannot be empty"
	msgInternal        = "Internal server error"
	msgUnauthorized    = "Unauthorized"
)

const (
	// multipartMemory is how much of a multipart body is held in memory
	// before parts spill to temporary files.
	multipartMemory = 32 << 20

	maxDeleteBodyBytes = 1 << 20
)

// FileService is implemented by *files.Service.
type FileService interface {
	Upload(ctx context.Context, owner, domain string, uploads []files.Upload) ([]models.UploadedFile, error)
	Delete(ctx context.Context, owner string, ids []string) error
}

// Readiness is implemented by *lifecycle.Service.
type Readiness interface {
	Health(ctx context.Context) error
	Info() lifecycle.Info
}

// HealthCheck probes one dependency for /readyz.
type HealthCheck func(ctx context.Context) error

type handlers struct {
	files     FileService
	readiness Readiness
	checks    map[string]HealthCheck
	cfg       Config
	logger    *slog.Logger
}

type uploadResponse struct {
	Files []models.UploadedFile `json:"files"`
}

type batchDeleteRequest struct {
	FileIDs []string `json:"fileIds"`
}

func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.maxRequestBytes())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeCodedError(w,
				sserr.Wrap(err, sserr.CodePayloadTooLarge, "server: request body over limit"), msgFileTooLarge)
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
			writeError(w, http.StatusBadRequest, msgFileRequired)
		default:
			writeError(w, http.StatusBadRequest, "Invalid multipart form")
		}
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, msgFileRequired)
		return
	}
	domain := strings.TrimSpace(r.FormValue("domain"))
	if domain == "" {
		writeError(w, http.StatusBadRequest, msgDomainRequired)
		return
	}
	if err := models.ValidateDomain(domain); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidDomain)
		return
	}
	if len(headers) > h.cfg.MaxFilesPerUpload {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("At most %d files may be uploaded at once", h.cfg.MaxFilesPerUpload))
		return
	}
	for _, fh := range headers {
		if fh.Size > h.cfg.MaxUploadBytes {
			writeCodedError(w, sserr.Newf(sserr.CodePayloadTooLarge,
				"server: %q is %d bytes", fh.Filename, fh.Size), msgFileTooLarge)
			return
		}
	}

	uploads, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "server: failed to open multipart file", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	out, err := h.files.Upload(r.Context(), owner, domain, uploads)
	if err != nil {
		switch {
		case sserr.IsPayloadTooLarge(err):
			writeCodedError(w, err, msgFileTooLarge)
			return
		case sserr.IsValidation(err):
			writeCodedError(w, err, msgInvalidFile)
			return
		}
		h.logger.ErrorContext(r.Context(), "server: upload failed",
			"user_id", owner,
			"code", sserr.GetCode(err).String(),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Files: out})
}

func openUploads(headers []*multipart.FileHeader) ([]files.Upload, func(), error) {
	var opened []io.Closer
	closeAll := func() {
		for _, c := range opened {
			_ = c.Close()
		}
	}

	uploads := make([]files.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		opened = append(opened, f)
		uploads = append(uploads, files.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}
	return uploads, closeAll, nil
}

func (h *handlers) batchDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	var req batchDeleteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDeleteBodyBytes))
	if err := dec.Decode(&req); err != nil || len(req.FileIDs) == 0 {
		writeError(w, http.StatusBadRequest, msgFileIDsRequired)
		return
	}

	if err := h.files.Delete(r.Context(), owner, req.FileIDs); err != nil {
		if sserr.IsValidation(err) {
			writeError(w, http.StatusBadRequest, msgFileIDsRequired)
			return
		}
		h.logger.ErrorContext(r.Context(), "server: batch delete failed",
			"user_id", owner,
			"count", len(req.FileIDs),
			"code", sserr.GetCode(err).String(),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readyResponse struct {
	Status  string            `json:"status"`
	Service lifecycle.Info    `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// readyz reports 200 only when the service is running and every dependency
// check passes. Failed checks report their error code, not the message.
func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := readyResponse{Status: "ready", Service: h.readiness.Info(), Checks: map[string]string{}}
	status := http.StatusOK

	if err := h.readiness.Health(ctx); err != nil {
		status = http.StatusServiceUnavailable
	}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = sserr.GetCode(err).String()
			status = http.StatusServiceUnavailable
			h.logger.WarnContext(ctx, "server: readiness check failed", "check", name, "error", err)
			continue
		}
		resp.Checks[name] = "ok"
	}
	if status != http.StatusOK {
		resp.Status = "not ready"
	}
	writeJSON(w, status, resp)
}
