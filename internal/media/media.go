// Package media 保存消息附件并把存储路径映射为对外 URL。
package media

import (
	"bytes"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/Vonhoon/koalatalk/internal/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	AudioURLPrefix  = "/media/"
	UploadURLPrefix = "/uploads/"

	sniffLen  = 3072
	maxExtLen = 16
)

// ErrTooLarge 表示附件超过大小上限。
var ErrTooLarge = errors.New("attachment too large")

// Saved 描述一次落盘结果。Name 只对普通文件保留原始文件名。
type Saved struct {
	Path string
	Kind string
	Name string
}

type Store struct {
	audioDir  string
	uploadDir string
	maxBytes  int64
}

// NewStore 创建附件存储并确保目录存在。maxBytes<=0 表示不限制。
func NewStore(audioDir, uploadDir string, maxBytes int64) (*Store, error) {
	for _, dir := range []string{audioDir, uploadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create media dir %s", dir)
		}
	}
	return &Store{audioDir: audioDir, uploadDir: uploadDir, maxBytes: maxBytes}, nil
}

func (s *Store) AudioDir() string  { return s.audioDir }
func (s *Store) UploadDir() string { return s.uploadDir }

// Save 把附件写入磁盘。voice 为 true 时保存到语音目录，否则按内容判断图片或普通文件。
// 文件名使用随机 uuid，保留客户端扩展名，没有扩展名时由 MIME 推断。
func (s *Store) Save(voice bool, filename, declaredMIME string, r io.Reader) (Saved, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Saved{}, errors.Wrap(err, "read attachment")
	}
	head = head[:n]
	sniffed := mimetype.Detect(head)

	ext := extensionOf(filename)
	if ext == "" {
		ext = extensionFor(declaredMIME, sniffed)
	}

	kind := models.TypeVoice
	dir := s.audioDir
	if !voice {
		dir = s.uploadDir
		kind = models.TypeFile
		if isImage(sniffed, ext, declaredMIME) {
			kind = models.TypeImage
		}
	}

	path := filepath.Join(dir, strings.ReplaceAll(uuid.NewString(), "-", "")+ext)
	if err := s.write(path, io.MultiReader(bytes.NewReader(head), r)); err != nil {
		return Saved{}, err
	}

	saved := Saved{Path: path, Kind: kind}
	if kind == models.TypeFile {
		saved.Name = filepath.Base(filename)
	}
	return saved, nil
}

func (s *Store) write(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "create attachment")
	}
	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	written, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxBytes > 0 && written > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, ErrTooLarge) {
			return err
		}
		return errors.Wrap(err, "write attachment")
	}
	return nil
}

// Remove 删除附件文件，文件不存在不算错误。
func (s *Store) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove attachment")
	}
	return nil
}

// URL 返回附件的对外地址：语音走 /media/，图片和文件走 /uploads/。
func URL(kind, path string) string {
	if path == "" {
		return ""
	}
	if kind == models.TypeVoice {
		return AudioURLPrefix + filepath.Base(path)
	}
	return UploadURLPrefix + filepath.Base(path)
}

// extensionOf 取文件名中第一个点之后的全部后缀，例如 a.tar.gz -> .tar.gz。
func extensionOf(filename string) string {
	base := strings.TrimLeft(filepath.Base(filename), ".")
	i := strings.Index(base, ".")
	if i < 0 {
		return ""
	}
	ext := base[i:]
	if len(ext) > maxExtLen || ext == "." {
		return ""
	}
	for _, c := range ext {
		if !(c == '.' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return ""
		}
	}
	return ext
}

func extensionFor(declaredMIME string, sniffed *mimetype.MIME) string {
	if declaredMIME != "" {
		if m := mimetype.Lookup(mediaType(declaredMIME)); m != nil && m.Extension() != "" {
			return m.Extension()
		}
	}
	if sniffed != nil && sniffed.Extension() != "" {
		return sniffed.Extension()
	}
	return ".bin"
}

func isImage(sniffed *mimetype.MIME, ext, declaredMIME string) bool {
	if sniffed != nil && strings.HasPrefix(sniffed.String(), "image/") {
		return true
	}
	if byExt := mime.TypeByExtension(filepath.Ext(ext)); byExt != "" {
		return strings.HasPrefix(byExt, "image/")
	}
	return strings.HasPrefix(mediaType(declaredMIME), "image/")
}

func mediaType(v string) string {
	t, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return t
}
