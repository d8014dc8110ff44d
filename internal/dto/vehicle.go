package dto

// CreateVehicleRequest is the payload for registering a vehicle. Non-admin
// callers always become the owner regardless of OwnerID.
type CreateVehicleRequest struct {
	Make         string `json:"make" validate:"required"`
	Model        string `json:"model" validate:"required"`
	Year         int    `json:"year" validate:"required,gte=1900"`
	Color        string `json:"color" validate:"omitempty"`
	LicensePlate string `json:"license_plate" validate:"required"`
	VIN          string `json:"vin" validate:"required,len=17"`
	OwnerID      string `json:"owner_id" validate:"omitempty,uuid"`
}

// UpdateVehicleRequest carries optional fields for a partial vehicle update.
type UpdateVehicleRequest struct {
	Make         *string `json:"make" validate:"omitempty,min=1"`
	Model        *string `json:"model" validate:"omitempty,min=1"`
	Year         *int    `json:"year" validate:"omitempty,gte=1900"`
	Color        *string `json:"color"`
	LicensePlate *string `json:"license_plate" validate:"omitempty,min=1"`
	VIN          *string `json:"vin" validate:"omitempty,len=17"`
}
