package uploads

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathsRejectEscapes(t *testing.T) {
	s := New(t.TempDir())

	for _, id := range []string{"", "..", "a/b", `a\b`} {
		_, err := s.UploadPath(id)
		assert.True(t, errors.Is(err, ErrUnsafePath), "id %q", id)
	}
	_, err := s.FilePath("tc1", "../../etc/passwd")
	assert.True(t, errors.Is(err, ErrUnsafePath))

	p, err := s.FilePath("tc1", "f.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "tc1", "f.png"), p)
}

func TestNewStoredName(t *testing.T) {
	a := NewStoredName("0b6a.png", "photo.jpeg")
	b := NewStoredName("0b6a.png", "photo.jpeg")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, ".png"), a)

	assert.Len(t, NewStoredName("", "README"), 36)
	assert.Len(t, NewStoredName(`x.a\b`, ""), 36)
}

func TestNewStoredNameKeepsExtensionAsFound(t *testing.T) {
	cases := []struct {
		storedName, filename, ext string
	}{
		{"a.PNG", "shot.PNG", ".PNG"},
		{"noext", "report.PDF", ".PDF"},
		{"a", "archive.tar-gz", ".tar-gz"},
		{"a.jpeg_1", "x", ".jpeg_1"},
		{"a.averyveryverylongextension", "", ".averyveryverylongextension"},
	}
	for _, tc := range cases {
		got := NewStoredName(tc.storedName, tc.filename)
		assert.Equal(t, tc.ext, filepath.Ext(got), "NewStoredName(%q, %q) = %q", tc.storedName, tc.filename, got)
		assert.Len(t, got, 36+len(tc.ext))
	}
}

func TestSaveAndOpen(t *testing.T) {
	s := New(t.TempDir())

	name, size, err := s.Save("tc1", "notes.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)
	assert.True(t, strings.HasSuffix(name, ".txt"))

	f, err := s.Open("tc1", name)
	require.NoError(t, err)
	defer f.Close()
	data := make([]byte, 5)
	_, err = f.Read(data)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestCopy(t *testing.T) {
	s := New(t.TempDir())
	name, _, err := s.Save("src", "a.bin", strings.NewReader("payload"))
	require.NoError(t, err)

	src, err := s.FilePath("src", name)
	require.NoError(t, err)
	_, err = s.EnsureDir("dst")
	require.NoError(t, err)
	dst, err := s.FilePath("dst", NewStoredName(name, "a.bin"))
	require.NoError(t, err)

	n, err := Copy(src, dst)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	// existing destination is never overwritten
	_, err = Copy(src, dst)
	assert.Error(t, err)

	_, err = Copy(filepath.Join(s.Root(), "src", "missing.bin"), dst+".2")
	assert.Error(t, err)
	_, statErr := os.Stat(dst + ".2")
	assert.True(t, os.IsNotExist(statErr))
}
