package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/models"
)

func testFileHandler(t *testing.T) (*FileHandler, *memFileStorage, *common.Config) {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Uploads.DataRoot = t.TempDir()

	fileStore := newMemFileStorage()
	h := NewFileHandler(cfg, fileStore, anonAuth(), nil, arbor.NewLogger())
	return h, fileStore, cfg
}

func multipartUpload(t *testing.T, filename, tag string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	if tag != "" {
		require.NoError(t, mw.WriteField("tag", tag))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadHandler(t *testing.T) {
	h, fileStore, _ := testFileHandler(t)

	rec := httptest.NewRecorder()
	h.UploadHandler(rec, multipartUpload(t, "field.fits", "survey-a", []byte("SIMPLE  = T")))

	require.Equal(t, http.StatusOK, rec.Code)
	var file models.FileUpload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &file))
	assert.NotEmpty(t, file.FileID)
	assert.Equal(t, "anonymous", file.User)
	assert.Equal(t, "field.fits", file.FileNameOrig)
	assert.Equal(t, "fits", file.FileExt)
	assert.Equal(t, "survey-a", file.Tag)

	// The bytes landed on disk under the stored path.
	data, err := os.ReadFile(file.FilePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("SIMPLE  = T"), data)

	// And the registry record resolves.
	_, err = fileStore.GetFile(context.Background(), "anonymous", file.FileID)
	require.NoError(t, err)
}

func TestUploadHandlerRejectsExtension(t *testing.T) {
	h, fileStore, _ := testFileHandler(t)

	rec := httptest.NewRecorder()
	h.UploadHandler(rec, multipartUpload(t, "payload.exe", "", []byte("MZ")))

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Empty(t, fileStore.files)
}

func TestUploadHandlerMissingFilePart(t *testing.T) {
	h, _, _ := testFileHandler(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("tag", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.UploadHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListHandlerReturnsRecords(t *testing.T) {
	h, fileStore, _ := testFileHandler(t)
	fileStore.files["anonymous/f-1"] = &models.FileUpload{FileID: "f-1", User: "anonymous", FilePath: "/x"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fileids", nil)
	rec := httptest.NewRecorder()
	h.ListHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var reply struct {
		FileIDs []*models.FileUpload `json:"fileids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	require.Len(t, reply.FileIDs, 1)
	assert.Equal(t, "f-1", reply.FileIDs[0].FileID)
}

func TestDownloadHandler(t *testing.T) {
	h, fileStore, cfg := testFileHandler(t)

	path := cfg.Uploads.DataRoot + "/stored.fits"
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0644))
	fileStore.files["anonymous/f-1"] = &models.FileUpload{
		FileID: "f-1", User: "anonymous", FilePath: path, FileNameOrig: "field.fits",
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/download/f-1", nil)
	rec := httptest.NewRecorder()
	h.DownloadHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "field.fits")
}

func TestDownloadHandlerNotFound(t *testing.T) {
	h, _, _ := testFileHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/download/missing", nil)
	rec := httptest.NewRecorder()
	h.DownloadHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteHandlerRemovesDiskAndRecord(t *testing.T) {
	h, fileStore, cfg := testFileHandler(t)

	path := cfg.Uploads.DataRoot + "/stored.fits"
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0644))
	fileStore.files["anonymous/f-1"] = &models.FileUpload{
		FileID: "f-1", User: "anonymous", FilePath: path,
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/delete/f-1", nil)
	rec := httptest.NewRecorder()
	h.DeleteHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, fileStore.files)
}
