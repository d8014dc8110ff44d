package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/propelize/rental-api/internal/dto"
	"github.com/propelize/rental-api/internal/models"
	appErrors "github.com/propelize/rental-api/pkg/errors"
)

type vehicleRepository interface {
	FindByID(ctx context.Context, id string) (*models.Vehicle, error)
	ExistsByPlate(ctx context.Context, plate, excludeID string) (bool, error)
	ExistsByVIN(ctx context.Context, vin, excludeID string) (bool, error)
	List(ctx context.Context, filter models.VehicleFilter) ([]models.Vehicle, int, error)
	Create(ctx context.Context, vehicle *models.Vehicle) error
	Update(ctx context.Context, vehicle *models.Vehicle) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// VehicleService manages the rental fleet with per-record ownership
// enforcement: non-admin callers only ever see and touch their own vehicles.
type VehicleService struct {
	repo      vehicleRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

func NewVehicleService(repo vehicleRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *VehicleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &VehicleService{repo: repo, cache: cache, validator: validate, logger: logger}
}

type vehicleListResult struct {
	Vehicles   []models.Vehicle  `json:"vehicles"`
	Pagination models.Pagination `json:"pagination"`
}

// List returns vehicles visible to the caller. Admin callers see the whole
// fleet (optionally filtered by owner); everyone else is scoped to their own
// vehicles no matter what filter they send.
func (s *VehicleService) List(ctx context.Context, claims *models.JWTClaims, filter models.VehicleFilter) ([]models.Vehicle, *models.Pagination, error) {
	if !IsAdmin(claims) {
		filter.OwnerID = claims.UserID
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	key := VehicleListKey(filter.OwnerID, filter.Make, filter.Search, filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)
	var cached vehicleListResult
	if s.cache.Get(ctx, key, &cached) {
		return cached.Vehicles, &cached.Pagination, nil
	}

	vehicles, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list vehicles")
	}

	pagination := models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	s.cache.Set(ctx, key, vehicleListResult{Vehicles: vehicles, Pagination: pagination})

	return vehicles, &pagination, nil
}

// GetByID returns a vehicle if the caller owns it or is an admin. Vehicles
// owned by someone else yield ErrForbidden, not ErrNotFound, so a valid id
// is acknowledged to exist.
func (s *VehicleService) GetByID(ctx context.Context, claims *models.JWTClaims, id string) (*models.Vehicle, error) {
	vehicle, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := RequireOwnerOrAdmin(claims, vehicle.OwnerID); err != nil {
		return nil, err
	}
	return vehicle, nil
}

// Create registers a vehicle. Only admins may assign another owner.
func (s *VehicleService) Create(ctx context.Context, claims *models.JWTClaims, req dto.CreateVehicleRequest) (*models.Vehicle, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid vehicle payload")
	}

	ownerID := claims.UserID
	if req.OwnerID != "" {
		if !IsAdmin(claims) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may assign an owner")
		}
		ownerID = req.OwnerID
	}

	if err := checkYear(req.Year); err != nil {
		return nil, err
	}

	plate := strings.ToUpper(strings.TrimSpace(req.LicensePlate))
	vin := strings.ToUpper(strings.TrimSpace(req.VIN))

	if err := s.checkUnique(ctx, plate, vin, ""); err != nil {
		return nil, err
	}

	vehicle := &models.Vehicle{
		ID:           uuid.NewString(),
		Make:         req.Make,
		Model:        req.Model,
		Year:         req.Year,
		Color:        req.Color,
		LicensePlate: plate,
		VIN:          vin,
		OwnerID:      ownerID,
		Active:       true,
	}

	if err := s.repo.Create(ctx, vehicle); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create vehicle")
	}

	s.cache.Invalidate(ctx, "vehicles:list:*")
	s.audit(ctx, claims, models.AuditActionVehicleCreate, vehicle.ID)
	return vehicle, nil
}

// Update applies a partial update; the caller must own the vehicle or be an
// admin.
func (s *VehicleService) Update(ctx context.Context, claims *models.JWTClaims, id string, req dto.UpdateVehicleRequest) (*models.Vehicle, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid vehicle payload")
	}

	vehicle, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := RequireOwnerOrAdmin(claims, vehicle.OwnerID); err != nil {
		return nil, err
	}

	if req.Make != nil {
		vehicle.Make = *req.Make
	}
	if req.Model != nil {
		vehicle.Model = *req.Model
	}
	if req.Year != nil {
		if err := checkYear(*req.Year); err != nil {
			return nil, err
		}
		vehicle.Year = *req.Year
	}
	if req.Color != nil {
		vehicle.Color = *req.Color
	}
	if req.LicensePlate != nil {
		vehicle.LicensePlate = strings.ToUpper(strings.TrimSpace(*req.LicensePlate))
	}
	if req.VIN != nil {
		vehicle.VIN = strings.ToUpper(strings.TrimSpace(*req.VIN))
	}

	if err := s.checkUnique(ctx, vehicle.LicensePlate, vehicle.VIN, vehicle.ID); err != nil {
		return nil, err
	}

	vehicle.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, vehicle); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update vehicle")
	}

	s.cache.Invalidate(ctx, "vehicles:list:*")
	s.audit(ctx, claims, models.AuditActionVehicleUpdate, vehicle.ID)
	return vehicle, nil
}

// Delete soft-deletes a vehicle; owner or admin only. Deleting an already
// deleted vehicle reports not found.
func (s *VehicleService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	vehicle, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := RequireOwnerOrAdmin(claims, vehicle.OwnerID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete vehicle")
	}

	s.cache.Invalidate(ctx, "vehicles:list:*")
	s.audit(ctx, claims, models.AuditActionVehicleDelete, id)
	return nil
}

func (s *VehicleService) find(ctx context.Context, id string) (*models.Vehicle, error) {
	vehicle, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "vehicle not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch vehicle")
	}
	if !vehicle.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "vehicle not found")
	}
	return vehicle, nil
}

// checkYear bounds the model year to next year at the latest; the lower
// bound rides on the request validation tags.
func checkYear(year int) error {
	if max := time.Now().Year() + 1; year > max {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("year must not exceed %d", max))
	}
	return nil
}

func (s *VehicleService) checkUnique(ctx context.Context, plate, vin, excludeID string) error {
	if taken, err := s.repo.ExistsByPlate(ctx, plate, excludeID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check license plate")
	} else if taken {
		return appErrors.Clone(appErrors.ErrConflict, "license plate already registered")
	}
	if taken, err := s.repo.ExistsByVIN(ctx, vin, excludeID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check vin")
	} else if taken {
		return appErrors.Clone(appErrors.ErrConflict, "vin already registered")
	}
	return nil
}

func (s *VehicleService) audit(ctx context.Context, claims *models.JWTClaims, action, resourceID string) {
	actor := claims.UserID
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor,
		Action:     action,
		Resource:   "vehicles",
		ResourceID: &resourceID,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
