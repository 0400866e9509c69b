package jwttoken

import (
	dErrors "iinportal/pkg/domain-errors"
	authmw "iinportal/pkg/platform/middleware/auth"
	"iinportal/pkg/requestcontext"
)

// JWTServiceAdapter exposes JWTService through the middleware validator port.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token subject")
	}
	return &authmw.JWTClaims{
		UserID: userID,
		Role:   requestcontext.Role(claims.Role),
		JTI:    claims.ID,
	}, nil
}
