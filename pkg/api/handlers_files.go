package api

import (
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/odvcencio/qaflow/pkg/errors"
	"github.com/odvcencio/qaflow/pkg/storage"
	"github.com/odvcencio/qaflow/pkg/types"
)

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	tc, err := s.ownedTestCase(r, chi.URLParam(r, "testCaseID"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	storedName, size, err := s.files.Save(tc.ID, filename, file)
	if err != nil {
		s.writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "store upload").
			WithUserMessage("Failed to upload file"))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(filename))
	}
	record := &types.TestCaseFile{
		TestCaseID: tc.ID,
		Filename:   filename,
		StoredName: storedName,
		MimeType:   mimeType,
		Size:       size,
	}
	if err := s.store.CreateTestCaseFile(record); err != nil {
		if path, pathErr := s.files.FilePath(tc.ID, storedName); pathErr == nil {
			_ = os.Remove(path)
		}
		s.writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "record upload").
			WithUserMessage("Failed to upload file"))
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	tc, err := s.ownedTestCase(r, chi.URLParam(r, "testCaseID"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	files, err := s.store.ListTestCaseFiles(tc.ID)
	if err != nil {
		s.writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "list files"))
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// handleDownloadFile serves the bytes of one attachment to the project owner.
func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	tc, err := s.ownedTestCase(r, chi.URLParam(r, "testCaseID"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	record, err := s.store.GetTestCaseFile(chi.URLParam(r, "fileID"))
	if errors.Is(err, storage.ErrNotFound) || (err == nil && record.TestCaseID != tc.ID) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		s.writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "load file record"))
		return
	}

	f, err := s.files.Open(tc.ID, record.StoredName)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("attachment missing on disk", "file_id", record.ID, "stored_name", record.StoredName)
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		s.writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "open file"))
		return
	}
	defer f.Close()

	if record.MimeType != "" {
		w.Header().Set("Content-Type", record.MimeType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": record.Filename}))
	http.ServeContent(w, r, record.Filename, record.CreatedAt, f)
}
