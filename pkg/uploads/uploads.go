// Package uploads stores test-case attachments on disk, one directory per
// test case under a common root.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrUnsafePath is returned for ids or names that would leave the root.
var ErrUnsafePath = errors.New("uploads: unsafe path")

// Store is an uploads root directory.
type Store struct {
	root string
}

// New returns a Store rooted at root. The directory is created lazily.
func New(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

// Root returns the root directory.
func (s *Store) Root() string {
	return s.root
}

// UploadPath returns the directory holding testCaseID's files.
func (s *Store) UploadPath(testCaseID string) (string, error) {
	if !safeComponent(testCaseID) {
		return "", fmt.Errorf("%w: test case id %q", ErrUnsafePath, testCaseID)
	}
	return filepath.Join(s.root, testCaseID), nil
}

// FilePath returns the location of one stored file.
func (s *Store) FilePath(testCaseID, storedName string) (string, error) {
	dir, err := s.UploadPath(testCaseID)
	if err != nil {
		return "", err
	}
	if !safeComponent(storedName) {
		return "", fmt.Errorf("%w: stored name %q", ErrUnsafePath, storedName)
	}
	return filepath.Join(dir, storedName), nil
}

// EnsureDir creates testCaseID's directory if needed and returns it.
func (s *Store) EnsureDir(testCaseID string) (string, error) {
	dir, err := s.UploadPath(testCaseID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	return dir, nil
}

// Copy copies src to a new file dst. dst must not exist; a partially written
// dst is removed on failure.
func Copy(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	return writeNew(dst, in)
}

// Save writes r as a new file of testCaseID and returns its stored name and size.
func (s *Store) Save(testCaseID, filename string, r io.Reader) (string, int64, error) {
	if _, err := s.EnsureDir(testCaseID); err != nil {
		return "", 0, err
	}
	storedName := NewStoredName("", filename)
	dst, err := s.FilePath(testCaseID, storedName)
	if err != nil {
		return "", 0, err
	}
	n, err := writeNew(dst, r)
	if err != nil {
		return "", 0, err
	}
	return storedName, n, nil
}

// Open opens a stored file for reading.
func (s *Store) Open(testCaseID, storedName string) (*os.File, error) {
	path, err := s.FilePath(testCaseID, storedName)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// NewStoredName returns a fresh random name keeping the extension of
// storedName, or of filename when storedName has none, exactly as found.
// An extension that could not be part of a single path component is dropped.
func NewStoredName(storedName, filename string) string {
	ext := filepath.Ext(storedName)
	if ext == "" {
		ext = filepath.Ext(filepath.Base(filename))
	}
	if strings.ContainsAny(ext, `/\`) || strings.ContainsRune(ext, 0) {
		ext = ""
	}
	return uuid.NewString() + ext
}

func writeNew(dst string, r io.Reader) (int64, error) {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return 0, err
	}
	return n, nil
}

func safeComponent(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}
