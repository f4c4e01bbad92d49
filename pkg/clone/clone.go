// Package clone duplicates a test case, including a best-effort copy of its
// attachments, on behalf of the owner of its project.
package clone

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/odvcencio/qaflow/pkg/auth"
	apperrors "github.com/odvcencio/qaflow/pkg/errors"
	"github.com/odvcencio/qaflow/pkg/storage"
	"github.com/odvcencio/qaflow/pkg/types"
	"github.com/odvcencio/qaflow/pkg/uploads"
)

// NameSuffix is appended to the name of every clone.
const NameSuffix = " (Copy)"

const failedMessage = "Failed to clone test case"

var metricCloneFiles = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "qaflow",
	Name:      "clone_files_total",
	Help:      "Attachments processed while cloning test cases, by result.",
}, []string{"result"})

// Store is the persistence the clone service needs.
type Store interface {
	auth.UserLookup
	GetTestCaseForClone(id string) (*storage.CloneSource, error)
	CreateTestCase(tc *types.TestCase) error
	CreateTestCaseFile(f *types.TestCaseFile) error
}

// Service clones test cases.
type Service struct {
	store  Store
	files  *uploads.Store
	logger *slog.Logger
}

// NewService creates a clone service.
func NewService(store Store, files *uploads.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, files: files, logger: logger}
}

// Clone copies test case id for the caller identified by payload. The source
// record and its files are never modified. Attachments whose bytes cannot be
// copied are skipped; the clone is returned regardless.
func (s *Service) Clone(payload *auth.Payload, id string) (*types.TestCase, error) {
	src, err := s.store.GetTestCaseForClone(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "Test case not found").WithContext("test_case_id", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "load clone source").
			WithContext("test_case_id", id).
			WithUserMessage(failedMessage)
	}

	userID := auth.ResolveUserID(payload, s.store)
	if userID == "" {
		return nil, apperrors.New(apperrors.ErrCodeUnauthorized, "Unauthorized")
	}
	if src.OwnerID != userID {
		return nil, apperrors.New(apperrors.ErrCodeForbidden, "Forbidden").WithContext("test_case_id", id)
	}

	clone := &types.TestCase{
		ProjectID:          src.TestCase.ProjectID,
		DisplayID:          src.TestCase.DisplayID,
		Status:             types.TestCaseDraft,
		TestCaseDefinition: src.TestCase.Definition(),
	}
	clone.Name = src.TestCase.Name + NameSuffix
	if err := s.store.CreateTestCase(clone); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "create clone").
			WithContext("test_case_id", id).
			WithUserMessage(failedMessage)
	}

	if len(src.Files) == 0 {
		return clone, nil
	}
	if _, err := s.files.EnsureDir(clone.ID); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "create clone upload dir").
			WithContext("clone_id", clone.ID).
			WithUserMessage(failedMessage)
	}

	for _, file := range src.Files {
		if err := s.copyFile(src.TestCase.ID, clone.ID, file); err != nil {
			return nil, err
		}
	}
	return clone, nil
}

// copyFile copies one attachment. Failures to copy bytes are logged and
// swallowed; failures to record a copied file are returned.
func (s *Service) copyFile(srcID, cloneID string, file types.TestCaseFile) error {
	newStoredName := uploads.NewStoredName(file.StoredName, file.Filename)

	srcPath, err := s.files.FilePath(srcID, file.StoredName)
	if err == nil {
		var dst string
		dst, err = s.files.FilePath(cloneID, newStoredName)
		if err == nil {
			_, err = uploads.Copy(srcPath, dst)
		}
	}
	if err != nil {
		metricCloneFiles.WithLabelValues("failed").Inc()
		copyErr := apperrors.Wrap(err, apperrors.ErrCodeFileCopy, "copy attachment").
			WithContext("file_id", file.ID)
		s.logger.Warn("clone: failed to copy file on disk, skipping",
			"test_case_id", srcID,
			"clone_id", cloneID,
			"file_id", file.ID,
			"src", srcPath,
			"error", copyErr,
		)
		return nil
	}

	record := &types.TestCaseFile{
		TestCaseID: cloneID,
		Filename:   file.Filename,
		StoredName: newStoredName,
		MimeType:   file.MimeType,
		Size:       file.Size,
	}
	if err := s.store.CreateTestCaseFile(record); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "record cloned file").
			WithContext("file_id", file.ID).
			WithUserMessage(failedMessage)
	}
	metricCloneFiles.WithLabelValues("copied").Inc()
	return nil
}
