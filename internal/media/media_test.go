package media

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Vonhoon/koalatalk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 最小的 1x1 PNG。
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

func newStore(t *testing.T, max int64) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := NewStore(filepath.Join(root, "audio"), filepath.Join(root, "uploads"), max)
	require.NoError(t, err)
	return s
}

func TestSave_Voice(t *testing.T) {
	s := newStore(t, 0)
	saved, err := s.Save(true, "note.webm", "audio/webm", strings.NewReader("voice-bytes"))
	require.NoError(t, err)

	assert.Equal(t, models.TypeVoice, saved.Kind)
	assert.Empty(t, saved.Name)
	assert.Equal(t, s.AudioDir(), filepath.Dir(saved.Path))
	assert.True(t, strings.HasSuffix(saved.Path, ".webm"))
	assert.Len(t, strings.TrimSuffix(filepath.Base(saved.Path), ".webm"), 32)

	data, err := os.ReadFile(saved.Path)
	require.NoError(t, err)
	assert.Equal(t, "voice-bytes", string(data))
}

func TestSave_ImageBySniffing(t *testing.T) {
	s := newStore(t, 0)
	saved, err := s.Save(false, "blob", "application/octet-stream", bytes.NewReader(pngBytes))
	require.NoError(t, err)

	assert.Equal(t, models.TypeImage, saved.Kind)
	assert.Equal(t, s.UploadDir(), filepath.Dir(saved.Path))
	assert.Empty(t, saved.Name)
}

func TestSave_ImageByExtension(t *testing.T) {
	s := newStore(t, 0)
	saved, err := s.Save(false, "photo.jpg", "", strings.NewReader("not really a jpeg"))
	require.NoError(t, err)
	assert.Equal(t, models.TypeImage, saved.Kind)
	assert.True(t, strings.HasSuffix(saved.Path, ".jpg"))
}

func TestSave_FileKeepsNameAndMultiSuffix(t *testing.T) {
	s := newStore(t, 0)
	saved, err := s.Save(false, "backup.tar.gz", "application/gzip", strings.NewReader("archive"))
	require.NoError(t, err)

	assert.Equal(t, models.TypeFile, saved.Kind)
	assert.Equal(t, "backup.tar.gz", saved.Name)
	assert.True(t, strings.HasSuffix(saved.Path, ".tar.gz"))
}

func TestSave_ExtensionFromMIME(t *testing.T) {
	s := newStore(t, 0)
	saved, err := s.Save(false, "report", "application/pdf", strings.NewReader("%PDF-1.4 ..."))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(saved.Path, ".pdf"), saved.Path)
	assert.Equal(t, models.TypeFile, saved.Kind)
}

func TestSave_TooLarge(t *testing.T) {
	s := newStore(t, 4)
	_, err := s.Save(false, "big.txt", "text/plain", strings.NewReader("0123456789"))
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(s.UploadDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "partial file must be removed")
}

func TestRemove_MissingIsNotError(t *testing.T) {
	s := newStore(t, 0)
	saved, err := s.Save(true, "a.ogg", "", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, s.Remove(saved.Path))
	assert.NoFileExists(t, saved.Path)
	assert.NoError(t, s.Remove(saved.Path))
	assert.NoError(t, s.Remove(""))
}

func TestURL(t *testing.T) {
	assert.Equal(t, "/media/abc.webm", URL(models.TypeVoice, "storage/audio/abc.webm"))
	assert.Equal(t, "/uploads/def.png", URL(models.TypeImage, "storage/uploads/def.png"))
	assert.Equal(t, "/uploads/x.pdf", URL(models.TypeFile, "/abs/uploads/x.pdf"))
	assert.Empty(t, URL(models.TypeFile, ""))
}

func TestExtensionOf(t *testing.T) {
	tests := map[string]string{
		"a.png":          ".png",
		"a.tar.gz":       ".tar.gz",
		".bashrc":        "",
		"noext":          "",
		"../../etc/x.sh": ".sh",
		"weird.p n g":    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, extensionOf(in), in)
	}
}
