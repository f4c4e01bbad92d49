package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/qaflow/pkg/types"
)

func TestDecodeJSONBodyDefinition(t *testing.T) {
	body := strings.NewReader(`{"name":"Login","url":"https://x","prompt":"log in","steps":[{"id":"s1","target":"b1","action":"click"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/", body)

	var def types.TestCaseDefinition
	status, err := decodeJSONBody(httptest.NewRecorder(), req, &def, maxBodyBytesRun, false)
	require.NoError(t, err)
	assert.Zero(t, status)
	assert.Equal(t, types.ModeBuilder, def.Mode())
}

func TestDecodeJSONBodyFailures(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		maxBytes int64
		allowEOF bool
		status   int
	}{
		{"empty allowed", "", maxBodyBytesSmall, true, 0},
		{"empty required", "", maxBodyBytesSmall, false, http.StatusBadRequest},
		{"invalid json", `{invalid json}`, maxBodyBytesSmall, false, http.StatusBadRequest},
		{"too large", `{"name":"` + strings.Repeat("x", 100) + `"}`, 50, false, http.StatusRequestEntityTooLarge},
		{"no limit", `{"name":"` + strings.Repeat("x", 100) + `"}`, 0, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst struct{ Name string }
			status, err := decodeJSONBody(httptest.NewRecorder(), req, &dst, tt.maxBytes, tt.allowEOF)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.status != 0, err != nil, "err = %v", err)
		})
	}
}

func TestDecodeJSONBodyNilRequest(t *testing.T) {
	var dst struct{}
	status, err := decodeJSONBody(nil, nil, &dst, maxBodyBytesSmall, true)
	assert.NoError(t, err)
	assert.Zero(t, status)

	status, err = decodeJSONBody(httptest.NewRecorder(), nil, &dst, maxBodyBytesSmall, false)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
}
