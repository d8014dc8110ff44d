package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propelize/rental-api/internal/models"
)

func vehicleRows(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "make", "model", "year", "color", "license_plate", "vin", "owner_id", "active", "created_at", "updated_at"}).
		AddRow("v1", "Toyota", "Corolla", 2020, "blue", "AA-111", "1HGBH41JXMN109186", "u1", true, now, now)
}

func TestVehicleFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVehicleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, make, model, year, color, license_plate, vin, owner_id, active, created_at, updated_at FROM vehicles WHERE id = $1 LIMIT 1")).
		WithArgs("v1").
		WillReturnRows(vehicleRows(time.Now()))

	vehicle, err := repo.FindByID(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "u1", vehicle.OwnerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleFindByIDUnknown(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVehicleRepository(db)

	mock.ExpectQuery("SELECT id, make, model").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleExistsByPlate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVehicleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM vehicles WHERE license_plate = $1 AND id <> $2")).
		WithArgs("AA-111", "").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	taken, err := repo.ExistsByPlate(context.Background(), "AA-111", "")
	require.NoError(t, err)
	assert.True(t, taken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleListFiltersByOwner(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVehicleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, make, model, year, color, license_plate, vin, owner_id, active, created_at, updated_at FROM vehicles WHERE active = TRUE AND owner_id = $1 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("u1").
		WillReturnRows(vehicleRows(time.Now()))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM vehicles WHERE active = TRUE AND owner_id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	vehicles, total, err := repo.List(context.Background(), models.VehicleFilter{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Len(t, vehicles, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVehicleRepository(db)

	mock.ExpectExec("INSERT INTO vehicles").WillReturnResult(sqlmock.NewResult(1, 1))

	vehicle := &models.Vehicle{Make: "Toyota", Model: "Corolla", Year: 2020, LicensePlate: "AA-111", VIN: "1HGBH41JXMN109186", OwnerID: "u1", Active: true}
	err := repo.Create(context.Background(), vehicle)
	require.NoError(t, err)
	assert.NotEmpty(t, vehicle.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleDeleteMarksInactive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVehicleRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE vehicles SET active = FALSE, updated_at = $2 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Delete(context.Background(), "v1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
