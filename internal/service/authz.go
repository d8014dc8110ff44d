package service

import (
	"github.com/propelize/rental-api/internal/models"
	appErrors "github.com/propelize/rental-api/pkg/errors"
)

// IsAdmin reports whether the claims carry the ADMIN role.
func IsAdmin(claims *models.JWTClaims) bool {
	return claims != nil && claims.Role == models.RoleAdmin
}

// CanAccessOwned decides whether the caller may act on a resource owned by
// ownerID. Admins may act on anything; other callers only on their own
// resources.
func CanAccessOwned(claims *models.JWTClaims, ownerID string) bool {
	if claims == nil {
		return false
	}
	if claims.Role == models.RoleAdmin {
		return true
	}
	return claims.UserID == ownerID
}

// RequireOwnerOrAdmin returns ErrForbidden unless CanAccessOwned allows the
// caller.
func RequireOwnerOrAdmin(claims *models.JWTClaims, ownerID string) error {
	if !CanAccessOwned(claims, ownerID) {
		return appErrors.ErrForbidden
	}
	return nil
}

// RequireAdmin returns ErrForbidden unless the caller is an admin.
func RequireAdmin(claims *models.JWTClaims) error {
	if !IsAdmin(claims) {
		return appErrors.ErrForbidden
	}
	return nil
}
