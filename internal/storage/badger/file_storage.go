package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// FileStorage implements the FileStorage interface for Badger. Entries are
// keyed "user/fileID".
type FileStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewFileStorage creates a new FileStorage instance
func NewFileStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FileStorage {
	return &FileStorage{
		db:     db,
		logger: logger,
	}
}

func fileKey(user, fileID string) string {
	return user + "/" + fileID
}

func (s *FileStorage) SaveFile(ctx context.Context, file *models.FileUpload) error {
	if err := file.Validate(); err != nil {
		return err
	}

	if err := s.db.Store().Upsert(fileKey(file.User, file.FileID), file); err != nil {
		return fmt.Errorf("failed to save file entry: %w", err)
	}
	return nil
}

func (s *FileStorage) GetFile(ctx context.Context, user, fileID string) (*models.FileUpload, error) {
	var file models.FileUpload
	if err := s.db.Store().Get(fileKey(user, fileID), &file); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file entry: %w", err)
	}
	return &file, nil
}

func (s *FileStorage) ListFiles(ctx context.Context, user string) ([]*models.FileUpload, error) {
	var files []models.FileUpload
	query := badgerhold.Where("User").Eq(user).SortBy("FileDate").Reverse()
	if err := s.db.Store().Find(&files, query); err != nil {
		return nil, fmt.Errorf("failed to list file entries: %w", err)
	}

	result := make([]*models.FileUpload, len(files))
	for i := range files {
		result[i] = &files[i]
	}
	return result, nil
}

func (s *FileStorage) DeleteFile(ctx context.Context, user, fileID string) error {
	if err := s.db.Store().Delete(fileKey(user, fileID), models.FileUpload{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to delete file entry: %w", err)
	}
	return nil
}
