// Package blob stores uploaded images and maps them to public URLs.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"wordcraft/models"
)

const (
	MaxUploadSize = 10 << 20
	maxDimension  = 4000
	thumbWidth    = 200
	thumbDir      = "thumbs"
)

var (
	ErrInvalidMIME  = fmt.Errorf("%w: unsupported image type", models.ErrInvalid)
	ErrFileTooLarge = fmt.Errorf("%w: file size exceeds limit", models.ErrInvalid)
	ErrInvalidPath  = fmt.Errorf("%w: bad object path", models.ErrInvalid)

	allowedMIMEs = []string{"image/jpeg", "image/png", "image/gif"}
)

// Handle names a stored object relative to the blob root.
type Handle string

type Store interface {
	Upload(ctx context.Context, objectPath string, data []byte) (Handle, error)
	PublicURL(h Handle) string
	ThumbnailURL(h Handle) string
}

// PostImagePath is posts/{userId}/{unixMillis}.
func PostImagePath(userID string, unixMillis int64) string {
	return fmt.Sprintf("posts/%s/%d", userID, unixMillis)
}

// ProfilePicturePath is profilePictures/{userId}.
func ProfilePicturePath(userID string) string {
	return "profilePictures/" + userID
}

// Local keeps objects under a directory served at /static/.
type Local struct {
	root    string
	baseURL string
	log     *zap.Logger
}

func NewLocal(root, baseURL string, log *zap.Logger) *Local {
	if log == nil {
		log = zap.NewNop()
	}
	return &Local{root: root, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

func (l *Local) Root() string { return l.root }

// Upload validates an image, re-encodes it as JPEG (dropping EXIF), writes
// it with a 200px thumbnail and returns its handle. Uploading to the same
// path replaces the object.
func (l *Local) Upload(ctx context.Context, objectPath string, data []byte) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	if len(data) > MaxUploadSize {
		return "", ErrFileTooLarge
	}

	mimeType := http.DetectContentType(data)
	if !slices.Contains(allowedMIMEs, mimeType) {
		return "", fmt.Errorf("%w: %s", ErrInvalidMIME, mimeType)
	}

	// the header is checked before decoding so a declared size never
	// turns into an allocation
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: decode image header: %v", models.ErrInvalid, err)
	}
	if err := ValidateImageDimensions(cfg, maxDimension, maxDimension); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalid, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("%w: decode image: %v", models.ErrInvalid, err)
	}

	handle := Handle(clean + ".jpg")
	if err := l.writeJPEG(string(handle), img, 90); err != nil {
		return "", err
	}
	thumb := imaging.Resize(img, thumbWidth, 0, imaging.Lanczos)
	if err := l.writeJPEG(path.Join(thumbDir, string(handle)), thumb, 85); err != nil {
		l.log.Warn("thumbnail failed", zap.String("handle", string(handle)), zap.Error(err))
	}

	l.log.Debug("blob stored", zap.String("handle", string(handle)), zap.String("mime", mimeType), zap.Int("size", len(data)))
	return handle, nil
}

// writeJPEG writes through a temp file so readers never see a partial image.
func (l *Local) writeJPEG(rel string, img image.Image, quality int) error {
	full := filepath.Join(l.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(full), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: quality}); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", rel, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("rename %s: %w", rel, err)
	}
	return nil
}

func (l *Local) PublicURL(h Handle) string {
	if h == "" {
		return ""
	}
	return l.baseURL + "/static/" + string(h)
}

// ThumbnailURL is the public URL of the thumbnail written next to h.
func (l *Local) ThumbnailURL(h Handle) string {
	if h == "" {
		return ""
	}
	return l.baseURL + "/static/" + thumbDir + "/" + string(h)
}

func cleanObjectPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", ErrInvalidPath
	}
	clean := path.Clean(p)
	if clean != p || clean == "." || strings.HasPrefix(clean, "..") || strings.HasPrefix(clean, thumbDir+"/") {
		return "", ErrInvalidPath
	}
	return clean, nil
}

func ValidateImageDimensions(cfg image.Config, maxWidth, maxHeight int) error {
	if cfg.Width > maxWidth || cfg.Height > maxHeight {
		return fmt.Errorf("image dimensions %dx%d exceed max %dx%d", cfg.Width, cfg.Height, maxWidth, maxHeight)
	}
	return nil
}

// ReadFormFile returns the bytes of an optional multipart file field, nil
// when the field is absent.
func ReadFormFile(form *multipart.Form, key string) ([]byte, string, error) {
	if form == nil || len(form.File[key]) == 0 {
		return nil, "", nil
	}
	hdr := form.File[key][0]
	if hdr.Size > MaxUploadSize {
		return nil, "", ErrFileTooLarge
	}
	f, err := hdr.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", key, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxUploadSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	if len(data) > MaxUploadSize {
		return nil, "", ErrFileTooLarge
	}
	return data, hdr.Filename, nil
}
