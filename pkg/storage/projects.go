package storage

import (
	"fmt"
	"strings"

	"github.com/odvcencio/qaflow/pkg/types"
)

const projectColumns = `
	p.id, p.name, p.user_id, p.created_at, p.updated_at,
	(SELECT COUNT(*) FROM test_cases tc WHERE tc.project_id = p.id)`

// CreateProject creates a project owned by userID.
func (s *Store) CreateProject(userID, name string) (*types.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	now := s.now()
	p := types.Project{
		ID:        newID(),
		Name:      name,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.execWithRetry(
		`INSERT INTO projects (id, user_id, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	s.notify(s.event(EventProjectCreated, p.ID, p.ID, p))
	return &p, nil
}

// GetProject retrieves a project with its test case count.
func (s *Store) GetProject(id string) (*types.Project, error) {
	var p types.Project
	err := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects p WHERE p.id = ?`, id).
		Scan(&p.ID, &p.Name, &p.UserID, &p.CreatedAt, &p.UpdatedAt, &p.TestCaseCount)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ListProjects returns userID's projects, most recently touched first.
func (s *Store) ListProjects(userID string) ([]types.Project, error) {
	rows, err := s.db.Query(
		`SELECT `+projectColumns+` FROM projects p WHERE p.user_id = ? ORDER BY p.updated_at DESC, p.rowid DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []types.Project{}
	for rows.Next() {
		var p types.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.UserID, &p.CreatedAt, &p.UpdatedAt, &p.TestCaseCount); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) touchProject(projectID string) {
	_ = s.execWithRetry(`UPDATE projects SET updated_at = ? WHERE id = ?`, s.now(), projectID)
}
