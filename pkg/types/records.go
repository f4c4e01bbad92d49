package types

import "time"

// TestCaseStatus is the editorial state of a test case.
type TestCaseStatus string

const (
	TestCaseDraft  TestCaseStatus = "DRAFT"
	TestCaseActive TestCaseStatus = "ACTIVE"
)

// Project groups test cases and is owned by one user.
type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	UserID        string    `json:"userId"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	TestCaseCount int       `json:"testCaseCount"`
}

// TestCase is a persisted definition inside a project.
type TestCase struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"projectId"`
	DisplayID string         `json:"displayId,omitempty"`
	Status    TestCaseStatus `json:"status"`
	TestCaseDefinition
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Definition returns a detached copy of the runnable part of tc.
func (tc TestCase) Definition() TestCaseDefinition {
	return tc.TestCaseDefinition.Clone()
}

// TestCaseFile is the metadata of an attachment stored on disk.
type TestCaseFile struct {
	ID         string    `json:"id"`
	TestCaseID string    `json:"testCaseId"`
	Filename   string    `json:"filename"`
	StoredName string    `json:"storedName"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TestRun is an immutable persisted RunOutcome.
type TestRun struct {
	ID         string             `json:"id"`
	TestCaseID string             `json:"testCaseId"`
	Status     RunStatus          `json:"status"`
	Events     []RunEvent         `json:"events"`
	Error      string             `json:"error,omitempty"`
	TestConfig TestCaseDefinition `json:"testConfig"`
	CreatedAt  time.Time          `json:"createdAt"`
}
