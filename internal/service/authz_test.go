package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/propelize/rental-api/internal/models"
	appErrors "github.com/propelize/rental-api/pkg/errors"
)

func TestCanAccessOwned(t *testing.T) {
	admin := &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}
	owner := &models.JWTClaims{UserID: "u1", Role: models.RoleUser}
	other := &models.JWTClaims{UserID: "u2", Role: models.RoleUser}

	assert.True(t, CanAccessOwned(admin, "u1"))
	assert.True(t, CanAccessOwned(owner, "u1"))
	assert.False(t, CanAccessOwned(other, "u1"))
	assert.False(t, CanAccessOwned(nil, "u1"))
}

func TestRequireOwnerOrAdmin(t *testing.T) {
	owner := &models.JWTClaims{UserID: "u1", Role: models.RoleUser}

	assert.NoError(t, RequireOwnerOrAdmin(owner, "u1"))

	err := RequireOwnerOrAdmin(owner, "u2")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRequireAdmin(t *testing.T) {
	assert.NoError(t, RequireAdmin(&models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}))
	assert.Error(t, RequireAdmin(&models.JWTClaims{UserID: "u1", Role: models.RoleUser}))
	assert.Error(t, RequireAdmin(nil))
}
