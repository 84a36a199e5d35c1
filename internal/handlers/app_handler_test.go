package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/apps"
)

func testAppHandler(t *testing.T) *AppHandler {
	t.Helper()
	registry := apps.NewRegistry(apps.CatalogConfig{MaxNProc: 4, MaxNThreads: 4})
	return NewAppHandler(registry, anonAuth(), arbor.NewLogger())
}

func TestAppListHandler(t *testing.T) {
	h := testAppHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/apps", nil)
	rec := httptest.NewRecorder()
	h.ListHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var reply struct {
		Apps []string `json:"apps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Contains(t, reply.Apps, "caesar")
	assert.Contains(t, reply.Apps, "cutex")
}

func TestAppDescribeHandler(t *testing.T) {
	h := testAppHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/app/caesar/describe", nil)
	rec := httptest.NewRecorder()
	h.DescribeHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schema))
	assert.NotEmpty(t, schema)
}

func TestAppDescribeHandlerUnknown(t *testing.T) {
	h := testAppHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/app/unknown/describe", nil)
	rec := httptest.NewRecorder()
	h.DescribeHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
