package dto

import "github.com/propelize/rental-api/internal/models"

// FleetReportRequest asks for an asynchronous fleet inventory export.
type FleetReportRequest struct {
	Format models.ReportFormat `json:"format" validate:"required,oneof=csv pdf"`
}

// FleetReportJobResponse acknowledges an accepted export job.
type FleetReportJobResponse struct {
	ID     string              `json:"id"`
	Status models.ReportStatus `json:"status"`
}

// FleetReportStatusResponse exposes job progress to clients.
type FleetReportStatusResponse struct {
	ID        string              `json:"id"`
	Status    models.ReportStatus `json:"status"`
	ResultURL *string             `json:"result_url,omitempty"`
	Error     *string             `json:"error,omitempty"`
}
