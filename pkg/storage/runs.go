package storage

import (
	"encoding/json"
	"fmt"

	"github.com/odvcencio/qaflow/pkg/types"
)

// CreateTestRun persists one run outcome for a test case.
func (s *Store) CreateTestRun(testCaseID string, outcome types.RunOutcome) (*types.TestRun, error) {
	if !outcome.Status.IsTerminal() {
		return nil, fmt.Errorf("run status %q is not terminal", outcome.Status)
	}

	var projectID string
	if err := s.db.QueryRow(`SELECT project_id FROM test_cases WHERE id = ?`, testCaseID).Scan(&projectID); err != nil {
		return nil, notFound(err)
	}

	events := outcome.Events
	if events == nil {
		events = []types.RunEvent{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}
	configJSON, err := json.Marshal(outcome.TestConfig)
	if err != nil {
		return nil, fmt.Errorf("encode test config: %w", err)
	}

	run := types.TestRun{
		ID:         newID(),
		TestCaseID: testCaseID,
		Status:     outcome.Status,
		Events:     events,
		Error:      outcome.Error,
		TestConfig: outcome.TestConfig,
		CreatedAt:  s.now(),
	}
	err = s.execWithRetry(
		`INSERT INTO test_runs (id, test_case_id, status, events, error, test_config, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TestCaseID, string(run.Status), string(eventsJSON), run.Error, string(configJSON), run.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert test run: %w", err)
	}
	s.notify(s.event(EventRunCreated, projectID, run.ID, run))
	return &run, nil
}

// ListTestRuns returns the persisted runs of a test case, newest first.
func (s *Store) ListTestRuns(testCaseID string) ([]types.TestRun, error) {
	rows, err := s.db.Query(
		`SELECT id, test_case_id, status, events, error, test_config, created_at
		 FROM test_runs WHERE test_case_id = ? ORDER BY created_at DESC, rowid DESC`,
		testCaseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []types.TestRun{}
	for rows.Next() {
		var run types.TestRun
		var status, events, config string
		if err := rows.Scan(&run.ID, &run.TestCaseID, &status, &events, &run.Error, &config, &run.CreatedAt); err != nil {
			return nil, err
		}
		run.Status = types.RunStatus(status)
		if err := json.Unmarshal([]byte(events), &run.Events); err != nil {
			return nil, fmt.Errorf("decode events of run %s: %w", run.ID, err)
		}
		if err := json.Unmarshal([]byte(config), &run.TestConfig); err != nil {
			return nil, fmt.Errorf("decode test config of run %s: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
