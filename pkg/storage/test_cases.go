package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/odvcencio/qaflow/pkg/types"
)

const testCaseColumns = `
	id, project_id, display_id, name, url, prompt, username, password,
	steps, browser_config, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateTestCase inserts tc, assigning its id, timestamps and a DRAFT status when unset.
func (s *Store) CreateTestCase(tc *types.TestCase) error {
	if strings.TrimSpace(tc.ProjectID) == "" {
		return fmt.Errorf("project id is required")
	}
	steps, browsers, err := encodeDefinition(tc.TestCaseDefinition)
	if err != nil {
		return err
	}

	if tc.Status == "" {
		tc.Status = types.TestCaseDraft
	}
	tc.ID = newID()
	tc.CreatedAt = s.now()
	tc.UpdatedAt = tc.CreatedAt

	err = s.execWithRetry(
		`INSERT INTO test_cases (`+testCaseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tc.ID, tc.ProjectID, tc.DisplayID, tc.Name, tc.URL, tc.Prompt, tc.Username, tc.Password,
		steps, browsers, string(tc.Status), tc.CreatedAt, tc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert test case: %w", err)
	}
	s.touchProject(tc.ProjectID)
	s.notify(s.event(EventTestCaseCreated, tc.ProjectID, tc.ID, *tc))
	return nil
}

// GetTestCase retrieves a test case by id.
func (s *Store) GetTestCase(id string) (*types.TestCase, error) {
	row := s.db.QueryRow(`SELECT `+testCaseColumns+` FROM test_cases WHERE id = ?`, id)
	tc, err := scanTestCase(row)
	if err != nil {
		return nil, notFound(err)
	}
	return tc, nil
}

// UpdateTestCase overwrites the definition and status of an existing test case.
func (s *Store) UpdateTestCase(tc *types.TestCase) error {
	steps, browsers, err := encodeDefinition(tc.TestCaseDefinition)
	if err != nil {
		return err
	}
	if tc.Status == "" {
		tc.Status = types.TestCaseDraft
	}
	tc.UpdatedAt = s.now()

	res, err := s.db.Exec(
		`UPDATE test_cases SET name = ?, url = ?, prompt = ?, username = ?, password = ?,
		 steps = ?, browser_config = ?, status = ?, updated_at = ? WHERE id = ?`,
		tc.Name, tc.URL, tc.Prompt, tc.Username, tc.Password,
		steps, browsers, string(tc.Status), tc.UpdatedAt, tc.ID,
	)
	if err != nil {
		return fmt.Errorf("update test case: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	stored, err := s.GetTestCase(tc.ID)
	if err != nil {
		return err
	}
	*tc = *stored
	s.touchProject(tc.ProjectID)
	s.notify(s.event(EventTestCaseUpdated, tc.ProjectID, tc.ID, *tc))
	return nil
}

// ListTestCases returns the test cases of a project, newest first.
func (s *Store) ListTestCases(projectID string) ([]types.TestCase, error) {
	rows, err := s.db.Query(
		`SELECT `+testCaseColumns+` FROM test_cases WHERE project_id = ? ORDER BY created_at DESC, rowid DESC`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.TestCase{}
	for rows.Next() {
		tc, err := scanTestCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tc)
	}
	return out, rows.Err()
}

// CloneSource is a test case together with everything needed to copy it.
type CloneSource struct {
	TestCase types.TestCase
	OwnerID  string
	Files    []types.TestCaseFile
}

// GetTestCaseForClone loads a test case, the id of the user owning its
// project, and its files newest first.
func (s *Store) GetTestCaseForClone(id string) (*CloneSource, error) {
	tc, err := s.GetTestCase(id)
	if err != nil {
		return nil, err
	}

	var owner string
	if err := s.db.QueryRow(`SELECT user_id FROM projects WHERE id = ?`, tc.ProjectID).Scan(&owner); err != nil {
		return nil, notFound(err)
	}

	files, err := s.ListTestCaseFiles(id)
	if err != nil {
		return nil, err
	}
	return &CloneSource{TestCase: *tc, OwnerID: owner, Files: files}, nil
}

func encodeDefinition(def types.TestCaseDefinition) (string, string, error) {
	steps := def.Steps
	if steps == nil {
		steps = []types.Step{}
	}
	browsers := def.BrowserConfig
	if browsers == nil {
		browsers = map[string]types.BrowserConfig{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return "", "", fmt.Errorf("encode steps: %w", err)
	}
	browsersJSON, err := json.Marshal(browsers)
	if err != nil {
		return "", "", fmt.Errorf("encode browser config: %w", err)
	}
	return string(stepsJSON), string(browsersJSON), nil
}

func scanTestCase(row rowScanner) (*types.TestCase, error) {
	var tc types.TestCase
	var steps, browsers, status string
	err := row.Scan(
		&tc.ID, &tc.ProjectID, &tc.DisplayID, &tc.Name, &tc.URL, &tc.Prompt, &tc.Username, &tc.Password,
		&steps, &browsers, &status, &tc.CreatedAt, &tc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tc.Status = types.TestCaseStatus(status)

	if err := json.Unmarshal([]byte(steps), &tc.Steps); err != nil {
		return nil, fmt.Errorf("decode steps of %s: %w", tc.ID, err)
	}
	if err := json.Unmarshal([]byte(browsers), &tc.BrowserConfig); err != nil {
		return nil, fmt.Errorf("decode browser config of %s: %w", tc.ID, err)
	}
	if len(tc.Steps) == 0 {
		tc.Steps = nil
	}
	if len(tc.BrowserConfig) == 0 {
		tc.BrowserConfig = nil
	}
	return &tc, nil
}
