package models

import "time"

// Vehicle represents a rental fleet vehicle. Soft-deleted via Active=false.
type Vehicle struct {
	ID           string    `db:"id" json:"id"`
	Make         string    `db:"make" json:"make"`
	Model        string    `db:"model" json:"model"`
	Year         int       `db:"year" json:"year"`
	Color        string    `db:"color" json:"color"`
	LicensePlate string    `db:"license_plate" json:"license_plate"`
	VIN          string    `db:"vin" json:"vin"`
	OwnerID      string    `db:"owner_id" json:"owner_id"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// VehicleFilter captures filtering criteria for listing vehicles. OwnerID is
// forced to the caller for non-admin requests.
type VehicleFilter struct {
	OwnerID   string
	Make      string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
