package token

import (
	"ever/internal/credential"
	"ever/internal/platform/middleware"
)

// CredentialAdapter narrows JWTService to the credential service's
// TokenService interface.
type CredentialAdapter struct {
	service *JWTService
}

func NewCredentialAdapter(service *JWTService) *CredentialAdapter {
	return &CredentialAdapter{service: service}
}

func (a *CredentialAdapter) Issue(role string, principalID string) (string, error) {
	return a.service.Issue(role, principalID)
}

func (a *CredentialAdapter) Validate(tokenString string) (*credential.TokenClaims, error) {
	claims, err := a.service.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return &credential.TokenClaims{
		Role:    claims.Role,
		AdminID: claims.AdminID,
	}, nil
}

// MiddlewareAdapter narrows JWTService to the auth middleware's
// TokenValidator interface.
type MiddlewareAdapter struct {
	service *JWTService
}

func NewMiddlewareAdapter(service *JWTService) *MiddlewareAdapter {
	return &MiddlewareAdapter{service: service}
}

func (a *MiddlewareAdapter) Validate(tokenString string) (*middleware.TokenClaims, error) {
	claims, err := a.service.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return &middleware.TokenClaims{
		Role:    claims.Role,
		AdminID: claims.AdminID,
	}, nil
}
