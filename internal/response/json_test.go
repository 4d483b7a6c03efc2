package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONErrorResponseEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()

	err := JSONErrorResponse(rr, []string{"Amount is required"}, "Validation failed", "", http.StatusBadRequest, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Validation failed", body["message"])
	assert.Equal(t, []any{"Amount is required"}, body["errors"])
	assert.NotContains(t, body, "detail")
	assert.NotContains(t, body, "status")
}

func TestNewPageComputesPages(t *testing.T) {
	p := NewPage([]string{"a", "b"}, 1, 2, 5)
	assert.Equal(t, 3, p.Pagination.Pages)

	empty := NewPage[string](nil, 1, 10, 0)
	assert.NotNil(t, empty.Items)
	assert.Equal(t, 0, empty.Pagination.Pages)
}
