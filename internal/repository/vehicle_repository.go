package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/propelize/rental-api/internal/models"
)

// VehicleRepository provides database access for the rental fleet.
type VehicleRepository struct {
	db *sqlx.DB
}

// NewVehicleRepository creates a new instance of VehicleRepository.
func NewVehicleRepository(db *sqlx.DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

// FindByID returns a vehicle by identifier regardless of its active flag;
// callers decide how to treat soft-deleted rows.
func (r *VehicleRepository) FindByID(ctx context.Context, id string) (*models.Vehicle, error) {
	const query = `SELECT id, make, model, year, color, license_plate, vin, owner_id, active, created_at, updated_at FROM vehicles WHERE id = $1 LIMIT 1`
	var vehicle models.Vehicle
	if err := r.db.GetContext(ctx, &vehicle, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find vehicle by id: %w", err)
	}
	return &vehicle, nil
}

// ExistsByPlate reports whether any vehicle, soft-deleted ones included,
// already uses the plate.
func (r *VehicleRepository) ExistsByPlate(ctx context.Context, plate, excludeID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM vehicles WHERE license_plate = $1 AND id <> $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, plate, excludeID); err != nil {
		return false, fmt.Errorf("check license plate: %w", err)
	}
	return count > 0, nil
}

// ExistsByVIN reports whether a vehicle already uses the VIN.
func (r *VehicleRepository) ExistsByVIN(ctx context.Context, vin, excludeID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM vehicles WHERE vin = $1 AND id <> $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, vin, excludeID); err != nil {
		return false, fmt.Errorf("check vin: %w", err)
	}
	return count > 0, nil
}

// List returns active vehicles matching the filter with total count.
func (r *VehicleRepository) List(ctx context.Context, filter models.VehicleFilter) ([]models.Vehicle, int, error) {
	baseQuery := `FROM vehicles WHERE active = TRUE`
	var conditions []string
	var args []interface{}

	if filter.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)+1))
		args = append(args, filter.OwnerID)
	}
	if filter.Make != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(make) = $%d", len(args)+1))
		args = append(args, strings.ToLower(filter.Make))
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(make) LIKE $%d OR LOWER(model) LIKE $%d OR LOWER(license_plate) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"make":       true,
		"model":      true,
		"year":       true,
		"created_at": true,
		"updated_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT id, make, model, year, color, license_plate, vin, owner_id, active, created_at, updated_at %s ORDER BY %s %s LIMIT %d OFFSET %d", baseQuery, sortBy, sortOrder, pageSize, offset)

	var vehicles []models.Vehicle
	if err := r.db.SelectContext(ctx, &vehicles, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list vehicles: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count vehicles: %w", err)
	}

	return vehicles, total, nil
}

// ListAll returns every active vehicle; used by fleet report generation.
func (r *VehicleRepository) ListAll(ctx context.Context) ([]models.Vehicle, error) {
	const query = `SELECT id, make, model, year, color, license_plate, vin, owner_id, active, created_at, updated_at FROM vehicles WHERE active = TRUE ORDER BY created_at ASC`
	var vehicles []models.Vehicle
	if err := r.db.SelectContext(ctx, &vehicles, query); err != nil {
		return nil, fmt.Errorf("list all vehicles: %w", err)
	}
	return vehicles, nil
}

// Create inserts a new vehicle.
func (r *VehicleRepository) Create(ctx context.Context, vehicle *models.Vehicle) error {
	if vehicle.ID == "" {
		vehicle.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if vehicle.CreatedAt.IsZero() {
		vehicle.CreatedAt = now
	}
	vehicle.UpdatedAt = now

	const query = `INSERT INTO vehicles (id, make, model, year, color, license_plate, vin, owner_id, active, created_at, updated_at) VALUES (:id, :make, :model, :year, :color, :license_plate, :vin, :owner_id, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, vehicle); err != nil {
		return fmt.Errorf("create vehicle: %w", err)
	}
	return nil
}

// Update updates mutable fields of a vehicle.
func (r *VehicleRepository) Update(ctx context.Context, vehicle *models.Vehicle) error {
	vehicle.UpdatedAt = time.Now().UTC()
	const query = `UPDATE vehicles SET make = :make, model = :model, year = :year, color = :color, license_plate = :license_plate, vin = :vin, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, vehicle); err != nil {
		return fmt.Errorf("update vehicle: %w", err)
	}
	return nil
}

// Delete performs a soft delete by marking the vehicle inactive.
func (r *VehicleRepository) Delete(ctx context.Context, id string) error {
	const query = `UPDATE vehicles SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("delete vehicle: %w", err)
	}
	return nil
}

// CreateAuditLog stores an audit log entry for fleet mutations.
func (r *VehicleRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
