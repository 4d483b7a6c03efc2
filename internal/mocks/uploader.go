package mocks

import (
	"context"
	"io"

	"github.com/cradoe/pawnbroker/internal/file"
	"github.com/stretchr/testify/mock"
)

var _ file.Uploader = (*MockUploader)(nil)

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, name string, content io.Reader) (string, error) {
	args := m.Called(ctx, name, content)
	return args.String(0), args.Error(1)
}
