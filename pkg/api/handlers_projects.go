package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/qaflow/pkg/auth"
	apperrors "github.com/odvcencio/qaflow/pkg/errors"
	"github.com/odvcencio/qaflow/pkg/storage"
	"github.com/odvcencio/qaflow/pkg/types"
)

// testCaseRequest is the body of test case create and update calls.
type testCaseRequest struct {
	types.TestCaseDefinition
	DisplayID string               `json:"displayId,omitempty"`
	Status    types.TestCaseStatus `json:"status,omitempty"`
}

func (req testCaseRequest) validate() error {
	switch req.Status {
	case "", types.TestCaseDraft, types.TestCaseActive:
	default:
		return apperrors.Newf(apperrors.ErrCodeInvalidInput, "invalid status %q", req.Status)
	}
	for id := range req.BrowserConfig {
		if strings.TrimSpace(id) == "" {
			return apperrors.New(apperrors.ErrCodeInvalidInput, "browser config ids must not be empty")
		}
	}
	return nil
}

// callerID resolves the internal id of the authenticated caller.
func (s *Server) callerID(r *http.Request) (string, error) {
	userID := auth.ResolveUserID(auth.PayloadFromContext(r.Context()), s.store)
	if userID == "" {
		return "", apperrors.New(apperrors.ErrCodeUnauthorized, "Unauthorized")
	}
	return userID, nil
}

// ownedProject loads a project and checks the caller owns it.
func (s *Server) ownedProject(r *http.Request, projectID string) (*types.Project, error) {
	project, err := s.store.GetProject(projectID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "Project not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "load project")
	}
	userID, err := s.callerID(r)
	if err != nil {
		return nil, err
	}
	if project.UserID != userID {
		return nil, apperrors.New(apperrors.ErrCodeForbidden, "Forbidden")
	}
	return project, nil
}

// ownedTestCase loads a test case and checks the caller owns its project.
func (s *Server) ownedTestCase(r *http.Request, id string) (*types.TestCase, error) {
	tc, err := s.store.GetTestCase(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "Test case not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "load test case")
	}
	if _, err := s.ownedProject(r, tc.ProjectID); err != nil {
		return nil, err
	}
	return tc, nil
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	userID, err := s.callerID(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	projects, err := s.store.ListProjects(userID)
	if err != nil {
		s.writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "list projects"))
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesSmall, false); err != nil {
		writeError(w, status, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	userID, err := s.callerID(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	project, err := s.store.CreateProject(userID, req.Name)
	if err != nil {
		s.writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "create project"))
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.ownedProject(r, chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleListTestCases(w http.ResponseWriter, r *http.Request) {
	project, err := s.ownedProject(r, chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	testCases, err := s.store.ListTestCases(project.ID)
	if err != nil {
		s.writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "list test cases"))
		return
	}
	writeJSON(w, http.StatusOK, testCases)
}

func (s *Server) handleCreateTestCase(w http.ResponseWriter, r *http.Request) {
	var req testCaseRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesRun, false); err != nil {
		writeError(w, status, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	project, err := s.ownedProject(r, chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	tc := &types.TestCase{
		ProjectID:          project.ID,
		DisplayID:          req.DisplayID,
		Status:             req.Status,
		TestCaseDefinition: req.TestCaseDefinition,
	}
	if err := s.store.CreateTestCase(tc); err != nil {
		s.writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "create test case"))
		return
	}
	writeJSON(w, http.StatusCreated, tc)
}

func (s *Server) handleGetTestCase(w http.ResponseWriter, r *http.Request) {
	tc, err := s.ownedTestCase(r, chi.URLParam(r, "testCaseID"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (s *Server) handleUpdateTestCase(w http.ResponseWriter, r *http.Request) {
	var req testCaseRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesRun, false); err != nil {
		writeError(w, status, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	tc, err := s.ownedTestCase(r, chi.URLParam(r, "testCaseID"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	tc.TestCaseDefinition = req.TestCaseDefinition
	if req.Status != "" {
		tc.Status = req.Status
	}
	if err := s.store.UpdateTestCase(tc); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Test case not found")
			return
		}
		s.writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "update test case"))
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (s *Server) handleCloneTestCase(w http.ResponseWriter, r *http.Request) {
	payload := auth.PayloadFromContext(r.Context())
	cloned, err := s.cloner.Clone(payload, chi.URLParam(r, "testCaseID"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cloned)
}

func (s *Server) handleSaveRun(w http.ResponseWriter, r *http.Request) {
	var outcome types.RunOutcome
	if status, err := decodeJSONBody(w, r, &outcome, maxBodyBytesOutcome, false); err != nil {
		writeError(w, status, err.Error())
		return
	}
	if !outcome.Status.IsTerminal() {
		writeError(w, http.StatusBadRequest, "status must be PASS, FAIL or CANCELLED")
		return
	}
	tc, err := s.ownedTestCase(r, chi.URLParam(r, "testCaseID"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	run, err := s.store.CreateTestRun(tc.ID, outcome)
	if err != nil {
		s.writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "save test run"))
		return
	}
	metricRunsSaved.WithLabelValues(string(run.Status)).Inc()
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	tc, err := s.ownedTestCase(r, chi.URLParam(r, "testCaseID"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	runs, err := s.store.ListTestRuns(tc.ID)
	if err != nil {
		s.writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "list test runs"))
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
