package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
)

const uploadFolder = "pawnbroker"

var ErrNotConfigured = errors.New("file: uploader is not configured")

// Uploader stores an attachment and returns an opaque handle. Assets,
// valuations and applications only ever keep the handle.
type Uploader interface {
	Upload(ctx context.Context, name string, content io.Reader) (string, error)
}

type FileUploader struct {
	cloud_name string
	api_key    string
	api_secret string

	once sync.Once
	cld  *cloudinary.Cloudinary
	err  error
}

func New(cloud_name, api_key, api_secret string) *FileUploader {
	return &FileUploader{
		cloud_name: cloud_name,
		api_key:    api_key,
		api_secret: api_secret,
	}
}

func (f *FileUploader) client() (*cloudinary.Cloudinary, error) {
	f.once.Do(func() {
		if f.cloud_name == "" || f.api_key == "" || f.api_secret == "" {
			f.err = ErrNotConfigured
			return
		}
		f.cld, f.err = cloudinary.NewFromParams(f.cloud_name, f.api_key, f.api_secret)
	})
	return f.cld, f.err
}

// Upload sends content to Cloudinary under a random public id and returns
// the secure URL as the handle.
func (f *FileUploader) Upload(ctx context.Context, name string, content io.Reader) (string, error) {
	cld, err := f.client()
	if err != nil {
		return "", err
	}

	result, err := cld.Upload.Upload(ctx, content, uploader.UploadParams{
		Folder:       uploadFolder,
		PublicID:     uuid.NewString(),
		ResourceType: "auto",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("upload %s: %s", name, result.Error.Message)
	}

	return result.SecureURL, nil
}

// Memory keeps uploads in memory; used in tests and when Cloudinary is not configured.
type Memory struct {
	mu    sync.Mutex
	Files map[string][]byte
}

func (m *Memory) Upload(_ context.Context, name string, content io.Reader) (string, error) {
	b, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Files == nil {
		m.Files = map[string][]byte{}
	}

	handle := "mem://" + uuid.NewString() + "/" + name
	m.Files[handle] = b
	return handle, nil
}
