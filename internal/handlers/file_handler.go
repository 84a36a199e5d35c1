// -----------------------------------------------------------------------
// FileHandler - Per-user upload registry endpoints
// -----------------------------------------------------------------------

package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
)

// FileHandler serves the upload, listing, download and delete endpoints of
// the per-user data store.
type FileHandler struct {
	cfg    *common.Config
	files  interfaces.FileStorage
	auth   interfaces.AuthService
	events interfaces.EventService
	logger arbor.ILogger
}

// NewFileHandler creates the file endpoints handler.
func NewFileHandler(cfg *common.Config, files interfaces.FileStorage,
	auth interfaces.AuthService, events interfaces.EventService, logger arbor.ILogger) *FileHandler {
	return &FileHandler{
		cfg:    cfg,
		files:  files,
		auth:   auth,
		events: events,
		logger: logger,
	}
}

// UploadHandler handles POST /api/v1/upload: multipart "file" plus an
// optional "tag". The stored name is a fresh uuid with the original
// extension; clients address the file by its returned id.
func (h *FileHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	user, ok := ResolveUser(w, r, h.auth)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Uploads.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid multipart body: %v", err))
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "No file part in request")
		return
	}
	defer part.Close()

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if !h.allowedExt(ext) {
		WriteError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("File extension %q not allowed", ext))
		return
	}

	userDir := filepath.Join(h.cfg.Uploads.DataRoot, user)
	if err := os.MkdirAll(userDir, 0755); err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to create user data directory")
		return
	}

	storedName := uuid.New().String()
	if ext != "" {
		storedName += "." + ext
	}
	storedPath := filepath.Join(userDir, storedName)

	out, err := os.Create(storedPath)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to store uploaded file")
		return
	}
	size, err := io.Copy(out, part)
	out.Close()
	if err != nil {
		os.Remove(storedPath)
		WriteError(w, http.StatusInternalServerError, "Failed to store uploaded file")
		return
	}

	file := models.NewFileUpload(user, storedPath, header.Filename, size, r.FormValue("tag"))
	if err := h.files.SaveFile(r.Context(), file); err != nil {
		os.Remove(storedPath)
		WriteError(w, http.StatusInternalServerError, "Failed to register uploaded file")
		return
	}

	if h.events != nil {
		_ = h.events.Publish(r.Context(), interfaces.Event{
			Type:    interfaces.EventFileUploaded,
			Payload: file,
		})
	}

	h.logger.Info().
		Str("user", user).
		Str("file_id", file.FileID).
		Str("filename", header.Filename).
		Msg("File uploaded")

	WriteJSON(w, http.StatusOK, file)
}

// ListHandler handles GET /api/v1/fileids.
func (h *FileHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	user, ok := ResolveUser(w, r, h.auth)
	if !ok {
		return
	}

	files, err := h.files.ListFiles(r.Context(), user)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list files")
		return
	}
	if files == nil {
		files = []*models.FileUpload{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "",
		"fileids": files,
	})
}

// DownloadHandler handles GET /api/v1/download/{id}: streams the stored file
// as an attachment under its original name.
func (h *FileHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	user, ok := ResolveUser(w, r, h.auth)
	if !ok {
		return
	}
	fileID := PathParam(r, "/api/v1/download/")
	if fileID == "" {
		WriteError(w, http.StatusBadRequest, "Missing file id")
		return
	}

	file, err := h.getFile(w, r, user, fileID)
	if err != nil {
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", file.FileNameOrig))
	http.ServeFile(w, r, file.FilePath)
}

// DeleteHandler handles GET /api/v1/delete/{id}: removes the file from disk
// and drops the registry record.
func (h *FileHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	user, ok := ResolveUser(w, r, h.auth)
	if !ok {
		return
	}
	fileID := PathParam(r, "/api/v1/delete/")
	if fileID == "" {
		WriteError(w, http.StatusBadRequest, "Missing file id")
		return
	}

	file, err := h.getFile(w, r, user, fileID)
	if err != nil {
		return
	}

	if err := os.Remove(file.FilePath); err != nil && !os.IsNotExist(err) {
		WriteError(w, http.StatusInternalServerError, "Failed to delete file from disk")
		return
	}
	if err := h.files.DeleteFile(r.Context(), user, fileID); err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to delete file record")
		return
	}

	if h.events != nil {
		_ = h.events.Publish(r.Context(), interfaces.Event{
			Type:    interfaces.EventFileDeleted,
			Payload: file,
		})
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status": fmt.Sprintf("File %s deleted", fileID),
	})
}

func (h *FileHandler) getFile(w http.ResponseWriter, r *http.Request, user, fileID string) (*models.FileUpload, error) {
	file, err := h.files.GetFile(r.Context(), user, fileID)
	if err != nil {
		if err == interfaces.ErrNotFound {
			WriteError(w, http.StatusNotFound,
				fmt.Sprintf("File %s not found for user %s", fileID, user))
		} else {
			WriteError(w, http.StatusInternalServerError, "Failed to load file record")
		}
		return nil, err
	}
	return file, nil
}

func (h *FileHandler) allowedExt(ext string) bool {
	for _, allowed := range h.cfg.Uploads.AllowedFormats {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}
