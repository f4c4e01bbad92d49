package runner

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/odvcencio/qaflow/pkg/errors"
	"github.com/odvcencio/qaflow/pkg/types"
)

func TestClientPathsAndAuth(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		switch r.Method + " " + r.URL.Path {
		case "GET /base/api/test-cases/tc1":
			_ = json.NewEncoder(w).Encode(types.TestCase{ID: "tc1", ProjectID: "p1",
				TestCaseDefinition: types.TestCaseDefinition{Name: "Login"}})
		case "GET /base/api/projects/p1":
			_ = json.NewEncoder(w).Encode(types.Project{ID: "p1", Name: "Shop"})
		case "POST /base/api/projects/p1/test-cases":
			var def types.TestCaseDefinition
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&def))
			assert.Equal(t, "Login", def.Name)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(types.TestCase{ID: "tc2", ProjectID: "p1"})
		case "PUT /base/api/test-cases/tc1":
			_ = json.NewEncoder(w).Encode(types.TestCase{ID: "tc1"})
		case "POST /base/api/test-cases/tc1/run":
			var outcome types.RunOutcome
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&outcome))
			assert.Equal(t, types.StatusPass, outcome.Status)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"run1"}`))
		case "POST /base/api/run-test":
			assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = w.Write([]byte(sseRecord(statusPass)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/base/", "tok", srv.Client())
	require.NoError(t, err)
	ctx := context.Background()

	tc, err := c.GetTestCase(ctx, "tc1")
	require.NoError(t, err)
	assert.Equal(t, "Login", tc.Name)

	p, err := c.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Shop", p.Name)

	id, err := c.CreateTestCase(ctx, "p1", types.TestCaseDefinition{Name: "Login"})
	require.NoError(t, err)
	assert.Equal(t, "tc2", id)

	require.NoError(t, c.UpdateTestCase(ctx, "tc1", types.TestCaseDefinition{Name: "Login"}))
	require.NoError(t, c.SaveRun(ctx, "tc1", types.RunOutcome{Status: types.StatusPass, Events: []types.RunEvent{}}))

	body, err := c.RunTest(ctx, types.TestCaseDefinition{Name: "Login"})
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, sseRecord(statusPass), string(data))

	assert.Len(t, seen, 6)
}

func TestClientErrorsCarryServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/test-cases/tc1/clone":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"Forbidden"}`))
		case "/api/run-test":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"Too many test runs"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "", nil)
	require.NoError(t, err)

	_, err = c.Clone(context.Background(), "tc1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
	assert.Equal(t, "Forbidden", publicMessage(err))

	_, err = c.RunTest(context.Background(), types.TestCaseDefinition{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRateLimited))

	err = c.UpdateTestCase(context.Background(), "tc9", types.TestCaseDefinition{})
	require.Error(t, err)
	assert.Equal(t, "Internal Server Error", publicMessage(err))
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "localhost:4490", "://x"} {
		_, err := NewClient(raw, "", nil)
		assert.Error(t, err, raw)
	}
}
