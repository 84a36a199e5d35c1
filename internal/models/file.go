// -----------------------------------------------------------------------
// FileUpload - Registered data file owned by a user
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileUpload is the per-user registry entry for one uploaded data file.
// Jobs reference uploads by FileID, never by path.
type FileUpload struct {
	FileID       string    `json:"fileid"`
	User         string    `json:"user"`
	FilePath     string    `json:"filepath"` // absolute server-side path
	FileNameOrig string    `json:"filename_orig"`
	FileExt      string    `json:"fileext"` // without leading dot
	FileSizeMB   float64   `json:"filesize"`
	FileDate     time.Time `json:"filedate"`
	Tag          string    `json:"tag,omitempty"`
}

// NewFileUpload registers an uploaded file stored at path.
func NewFileUpload(user, path, origName string, sizeBytes int64, tag string) *FileUpload {
	ext := strings.TrimPrefix(filepath.Ext(origName), ".")
	return &FileUpload{
		FileID:       uuid.New().String(),
		User:         user,
		FilePath:     path,
		FileNameOrig: origName,
		FileExt:      strings.ToLower(ext),
		FileSizeMB:   float64(sizeBytes) / (1024 * 1024),
		FileDate:     time.Now().UTC(),
		Tag:          tag,
	}
}

// Validate checks structural integrity of the record.
func (f *FileUpload) Validate() error {
	if f.FileID == "" {
		return fmt.Errorf("file id is required")
	}
	if f.User == "" {
		return fmt.Errorf("file user is required")
	}
	if f.FilePath == "" {
		return fmt.Errorf("file path is required")
	}
	return nil
}
