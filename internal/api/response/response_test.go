package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	WriteJSON(w, http.StatusOK, map[string]int{"records": 3})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body["records"])
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusNotFound, "no backups for staging")

	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "no backups for staging", body["error"])
}

func TestWriteList(t *testing.T) {
	w := httptest.NewRecorder()

	WriteList(w, http.StatusOK, []string{"a", "b"})

	var body ListResponse[string]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"a", "b"}, body.Items)
	assert.Equal(t, 2, body.Count)
}

func TestWriteList_Nil(t *testing.T) {
	w := httptest.NewRecorder()

	WriteList[string](w, http.StatusOK, nil)

	assert.JSONEq(t, `{"items":[],"count":0}`, w.Body.String())
}
