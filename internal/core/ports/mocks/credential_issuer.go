package mocks

import (
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

var _ ports.CredentialIssuer = (*CredentialIssuer)(nil)

type CredentialIssuer struct {
	mock.Mock
}

func (m *CredentialIssuer) Issue(sessionName string, role int, ttl time.Duration) (string, *domain.Credential, error) {
	args := m.Called(sessionName, role, ttl)
	cred, _ := args.Get(1).(*domain.Credential)
	return args.String(0), cred, args.Error(2)
}

func (m *CredentialIssuer) Validate(token string) (*domain.Credential, error) {
	args := m.Called(token)
	cred, _ := args.Get(0).(*domain.Credential)
	return cred, args.Error(1)
}
