package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-security/internal/audit"
	"marketplace-security/internal/middleware"
	"marketplace-security/internal/ratelimit"
	"marketplace-security/internal/upload"
	"marketplace-security/internal/util"
)

const (
	uploadsEndpoint     = "/api/v1/uploads"
	multipartMemory     = 1 << 20
	multipartOverhead   = 1 << 20
	uploadFormFieldName = "file"
)

type UploadHandler struct {
	responder
	resolver *upload.Resolver
	limiter  *ratelimit.Limiter
	emitter  audit.Emitter
}

func NewUploadHandler(resolver *upload.Resolver, limiter *ratelimit.Limiter, emitter audit.Emitter, logger *zap.Logger) *UploadHandler {
	if emitter == nil {
		emitter = audit.Discard
	}
	return &UploadHandler{
		responder: responder{logger: logger},
		resolver:  resolver,
		limiter:   limiter,
		emitter:   emitter,
	}
}

// RegisterRoutes limits all uploads from one client together, whatever the
// item they target.
func (h *UploadHandler) RegisterRoutes(router chi.Router) {
	limit := middleware.RateLimit(h.limiter,
		middleware.WithEndpoint(func(*http.Request) string { return uploadsEndpoint }),
		middleware.WithEmitter(h.emitter))

	router.With(limit).Post("/uploads/{subpath}/{itemID}", h.Upload)
}

type uploadResult struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Upload stores the multipart "file" field under the item's directory.
// Responses: 201 with the stored path, 400 on a rejected path or type,
// 413 when too large.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	clientID := middleware.ClientIdentifier(r.Header)
	subpath := chi.URLParam(r, "subpath")
	itemID := chi.URLParam(r, "itemID")

	if h.resolver.MaxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.resolver.MaxSize+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.reject(w, r, clientID, http.StatusRequestEntityTooLarge, upload.ErrFileTooLarge, "File too large")
			return
		}
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(uploadFormFieldName)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Missing file field")
		return
	}
	defer file.Close()

	// Prefix keeps repeated uploads of the same name from overwriting.
	storedName := uuid.NewString()[:8] + "_" + header.Filename

	path, err := h.resolver.Resolve(subpath, itemID, storedName)
	if err != nil {
		h.reject(w, r, clientID, getStatusCode(err), err, "Upload rejected")
		return
	}

	size, err := h.resolver.Save(ctx, path, file)
	if err != nil {
		status := getStatusCode(err)
		if status == http.StatusRequestEntityTooLarge {
			h.reject(w, r, clientID, status, err, "File too large")
			return
		}
		h.respondWithError(w, status, err, "Failed to store upload")
		return
	}

	rel, err := h.resolver.Rel(path)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to store upload")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(uploadResult{Path: rel, Size: size}, "File uploaded successfully"))
	h.logger.Info("File uploaded",
		util.String("path", rel),
		util.Int64("size", size),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *UploadHandler) reject(w http.ResponseWriter, r *http.Request, clientID string, status int, err error, message string) {
	h.emitter.Emit(audit.NewEvent(audit.EventUploadRejected, "", r.URL.Path, clientID).
		With("reason", err.Error()))
	h.respondWithError(w, status, err, message)
}
