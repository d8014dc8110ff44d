package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/propelize/rental-api/internal/dto"
	"github.com/propelize/rental-api/internal/models"
	"github.com/propelize/rental-api/internal/repository"
	appErrors "github.com/propelize/rental-api/pkg/errors"
	"github.com/propelize/rental-api/pkg/export"
	"github.com/propelize/rental-api/pkg/jobs"
	"github.com/propelize/rental-api/pkg/storage"
)

type reportJobRepository interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
}

type reportVehicleRepository interface {
	ListAll(ctx context.Context) ([]models.Vehicle, error)
}

// ReportService runs asynchronous fleet inventory exports: jobs are queued,
// rendered by background workers and served through signed download URLs.
type ReportService struct {
	repo      reportJobRepository
	vehicles  reportVehicleRepository
	queue     *jobs.Queue
	store     *storage.LocalStorage
	signer    *storage.SignedURLSigner
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

func NewReportService(
	repo reportJobRepository,
	vehicles reportVehicleRepository,
	store *storage.LocalStorage,
	signer *storage.SignedURLSigner,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	queueCfg jobs.QueueConfig,
) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	s := &ReportService{
		repo:      repo,
		vehicles:  vehicles,
		store:     store,
		signer:    signer,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
	s.queue = jobs.NewQueue("fleet-reports", s.process, queueCfg)
	return s
}

// Start launches the background workers.
func (s *ReportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *ReportService) Stop() {
	s.queue.Stop()
}

// Enqueue records a new report job and schedules it for rendering.
func (s *ReportService) Enqueue(ctx context.Context, userID string, req dto.FleetReportRequest) (*dto.FleetReportJobResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload")
	}

	job := &models.ReportJob{
		ID:        uuid.NewString(),
		Format:    req.Format,
		Status:    models.ReportStatusQueued,
		CreatedBy: userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record report job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(req.Format), Payload: job.ID}); err != nil {
		s.fail(ctx, job.ID, "queue unavailable")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}

	return &dto.FleetReportJobResponse{ID: job.ID, Status: job.Status}, nil
}

// Status returns job progress. Only the creator or an admin may inspect it.
func (s *ReportService) Status(ctx context.Context, claims *models.JWTClaims, jobID string) (*dto.FleetReportStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch report job")
	}
	if err := RequireOwnerOrAdmin(claims, job.CreatedBy); err != nil {
		return nil, err
	}

	return &dto.FleetReportStatusResponse{
		ID:        job.ID,
		Status:    job.Status,
		ResultURL: job.ResultURL,
		Error:     job.ErrorMessage,
	}, nil
}

// OpenDownload validates a signed token and returns the rendered file.
func (s *ReportService) OpenDownload(ctx context.Context, token string) (*os.File, string, error) {
	jobID, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrInvalidToken, "invalid or expired download token")
	}

	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "report job not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch report job")
	}
	if job.Status != models.ReportStatusFinished {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "report not ready")
	}

	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open report file")
	}

	contentType := "text/csv"
	if job.Format == models.ReportFormatPDF {
		contentType = "application/pdf"
	}
	return file, contentType, nil
}

// process renders a single job. Runs on queue workers.
func (s *ReportService) process(ctx context.Context, job jobs.Job) error {
	jobID, _ := job.Payload.(string)
	if jobID == "" {
		jobID = job.ID
	}

	record, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load report job %s: %w", jobID, err)
	}

	processing := models.ReportStatusProcessing
	if err := s.repo.Update(ctx, jobID, repository.UpdateReportJobParams{Status: &processing}); err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}

	vehicles, err := s.vehicles.ListAll(ctx)
	if err != nil {
		s.fail(ctx, jobID, "failed to load fleet")
		return fmt.Errorf("list vehicles: %w", err)
	}

	dataset := fleetDataset(vehicles)

	var payload []byte
	var filename string
	switch record.Format {
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, "Fleet Inventory")
		filename = fmt.Sprintf("fleet/%s.pdf", jobID)
	default:
		payload, err = s.csv.Render(dataset)
		filename = fmt.Sprintf("fleet/%s.csv", jobID)
	}
	if err != nil {
		s.fail(ctx, jobID, "failed to render report")
		return fmt.Errorf("render report: %w", err)
	}

	relPath, err := s.store.Save(filename, payload)
	if err != nil {
		s.fail(ctx, jobID, "failed to store report")
		return fmt.Errorf("store report: %w", err)
	}

	token, _, err := s.signer.Generate(jobID, relPath)
	if err != nil {
		s.fail(ctx, jobID, "failed to sign download url")
		return fmt.Errorf("sign download url: %w", err)
	}

	finished := models.ReportStatusFinished
	now := time.Now().UTC()
	resultURL := "/api/v1/reports/fleet/download/" + token
	if err := s.repo.Update(ctx, jobID, repository.UpdateReportJobParams{Status: &finished, ResultURL: &resultURL, FinishedAt: &now}); err != nil {
		return fmt.Errorf("mark job finished: %w", err)
	}

	s.metrics.RecordReportJob(string(models.ReportStatusFinished))
	s.logger.Info("fleet report ready", zap.String("job_id", jobID), zap.String("format", string(record.Format)))
	return nil
}

func (s *ReportService) fail(ctx context.Context, jobID, message string) {
	failed := models.ReportStatusFailed
	now := time.Now().UTC()
	if err := s.repo.Update(ctx, jobID, repository.UpdateReportJobParams{Status: &failed, ErrorMessage: &message, FinishedAt: &now}); err != nil {
		s.logger.Error("failed to mark report job failed", zap.String("job_id", jobID), zap.Error(err))
	}
	s.metrics.RecordReportJob(string(models.ReportStatusFailed))
}

func fleetDataset(vehicles []models.Vehicle) export.Dataset {
	headers := []string{"ID", "Make", "Model", "Year", "Color", "License Plate", "VIN", "Owner", "Active"}
	rows := make([]map[string]string, 0, len(vehicles))
	for _, v := range vehicles {
		rows = append(rows, map[string]string{
			"ID":            v.ID,
			"Make":          v.Make,
			"Model":         v.Model,
			"Year":          strconv.Itoa(v.Year),
			"Color":         v.Color,
			"License Plate": v.LicensePlate,
			"VIN":           v.VIN,
			"Owner":         v.OwnerID,
			"Active":        strconv.FormatBool(v.Active),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
