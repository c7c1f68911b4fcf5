package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorImplementsError(t *testing.T) {
	err := New(http.StatusNotFound, "NOT_FOUND", "spread not found")
	assert.Equal(t, "spread not found", err.Error())
	assert.Equal(t, http.StatusNotFound, err.StatusCode)
}

func TestInvalidParameterCarriesDetails(t *testing.T) {
	err := InvalidParameter("date", "must be YYYY-MM-DD")
	assert.Equal(t, "INVALID_PARAMETER", err.ErrorCode)
	assert.Contains(t, err.Message, "date")
	assert.Equal(t, "must be YYYY-MM-DD", err.Details)
}

func TestErrorResponseRendersStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	require.NoError(t, render.Render(rec, req, NewErrorResponse(NotFoundError("daily spread"))))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "NOT_FOUND", body.Error.ErrorCode)
	assert.Contains(t, body.Error.Message, "daily spread")
}
