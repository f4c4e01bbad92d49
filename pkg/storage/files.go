package storage

import (
	"fmt"

	"github.com/odvcencio/qaflow/pkg/types"
)

// CreateTestCaseFile records an attachment already written to the uploads root.
func (s *Store) CreateTestCaseFile(f *types.TestCaseFile) error {
	var projectID string
	if err := s.db.QueryRow(`SELECT project_id FROM test_cases WHERE id = ?`, f.TestCaseID).Scan(&projectID); err != nil {
		return notFound(err)
	}

	f.ID = newID()
	f.CreatedAt = s.now()
	err := s.execWithRetry(
		`INSERT INTO test_case_files (id, test_case_id, filename, stored_name, mime_type, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.TestCaseID, f.Filename, f.StoredName, f.MimeType, f.Size, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert test case file: %w", err)
	}
	s.notify(s.event(EventFileCreated, projectID, f.ID, *f))
	return nil
}

// ListTestCaseFiles returns the attachments of a test case, newest first.
func (s *Store) ListTestCaseFiles(testCaseID string) ([]types.TestCaseFile, error) {
	rows, err := s.db.Query(
		`SELECT id, test_case_id, filename, stored_name, mime_type, size, created_at
		 FROM test_case_files WHERE test_case_id = ? ORDER BY created_at DESC, rowid DESC`,
		testCaseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []types.TestCaseFile{}
	for rows.Next() {
		var f types.TestCaseFile
		if err := rows.Scan(&f.ID, &f.TestCaseID, &f.Filename, &f.StoredName, &f.MimeType, &f.Size, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetTestCaseFile returns one attachment record.
func (s *Store) GetTestCaseFile(id string) (*types.TestCaseFile, error) {
	var f types.TestCaseFile
	err := s.db.QueryRow(
		`SELECT id, test_case_id, filename, stored_name, mime_type, size, created_at
		 FROM test_case_files WHERE id = ?`,
		id,
	).Scan(&f.ID, &f.TestCaseID, &f.Filename, &f.StoredName, &f.MimeType, &f.Size, &f.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}
