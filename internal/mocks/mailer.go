package mocks

import (
	"github.com/cradoe/pawnbroker/internal/smtp"
	"github.com/stretchr/testify/mock"
)

var _ smtp.MailerInterface = (*MockMailer)(nil)

// MockMailer records Send calls; patterns arrive as a single []string argument.
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(recipient string, data any, patterns ...string) error {
	args := m.Called(recipient, data, patterns)
	return args.Error(0)
}
