package services

import (
	"errors"
	"net/http"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	apperrors "overlaycast/pkg/errors"
	"overlaycast/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// issuedAtSkew back-dates iat so clients with slightly slow clocks accept
// a freshly issued credential.
const issuedAtSkew = 30 * time.Second

type sessionClaims struct {
	AppKey   string `json:"app_key"`
	Topic    string `json:"tpc"`
	RoleType int    `json:"role_type"`
	Version  int    `json:"version"`
	jwt.RegisteredClaims
}

type credentialService struct {
	sdkKey    string
	sdkSecret []byte
	now       func() time.Time
	logger    *zap.SugaredLogger
}

func NewCredentialService(sdkKey, sdkSecret string, logger *zap.SugaredLogger) ports.CredentialIssuer {
	return &credentialService{
		sdkKey:    sdkKey,
		sdkSecret: []byte(sdkSecret),
		now:       time.Now,
		logger:    logger,
	}
}

// Issue signs a session credential. All input is validated before any
// signing happens; failures are ConfigErrors.
func (s *credentialService) Issue(sessionName string, role int, ttl time.Duration) (string, *domain.Credential, error) {
	if s.sdkKey == "" || len(s.sdkSecret) == 0 {
		return "", nil, apperrors.NewConfigError("SDK key and secret are required")
	}
	if err := validation.ValidateSessionName(sessionName); err != nil {
		return "", nil, apperrors.NewConfigError(err.Error())
	}
	high, err := validation.ValidateRole(role)
	if err != nil {
		return "", nil, apperrors.NewConfigError(err.Error())
	}
	if high {
		s.logger.Warnw("Issuing credential with unusually high role",
			"role", role,
			"session", sessionName,
		)
	}
	if ttl <= 0 {
		return "", nil, apperrors.NewConfigError("credential lifetime must be positive")
	}

	iat := s.now().Add(-issuedAtSkew).Truncate(time.Second)
	exp := iat.Add(ttl).Truncate(time.Second)

	claims := &sessionClaims{
		AppKey:   s.sdkKey,
		Topic:    sessionName,
		RoleType: role,
		Version:  domain.CredentialVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.sdkSecret)
	if err != nil {
		return "", nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to sign credential", http.StatusInternalServerError)
	}

	return token, claims.credential(), nil
}

// Validate verifies the signature, lifetime and issuer key of a token.
func (s *credentialService) Validate(tokenString string) (*domain.Credential, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidCredential
		}
		return s.sdkSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.WrapError(domain.ErrExpiredCredential, apperrors.ErrCodeUnauthorized, "credential expired", http.StatusUnauthorized)
		}
		return nil, apperrors.WrapError(domain.ErrInvalidCredential, apperrors.ErrCodeUnauthorized, "invalid credential", http.StatusUnauthorized)
	}
	if !token.Valid || claims.AppKey != s.sdkKey || claims.Version != domain.CredentialVersion ||
		claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, apperrors.WrapError(domain.ErrInvalidCredential, apperrors.ErrCodeUnauthorized, "invalid credential", http.StatusUnauthorized)
	}

	return claims.credential(), nil
}

func (c *sessionClaims) credential() *domain.Credential {
	cred := &domain.Credential{
		AppKey:   c.AppKey,
		Topic:    c.Topic,
		RoleType: c.RoleType,
		Version:  c.Version,
	}
	if c.IssuedAt != nil {
		cred.IssuedAt = c.IssuedAt.Unix()
	}
	if c.ExpiresAt != nil {
		cred.ExpiresAt = c.ExpiresAt.Unix()
	}
	return cred
}
