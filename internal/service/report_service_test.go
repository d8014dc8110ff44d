package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/propelize/rental-api/internal/models"
	"github.com/propelize/rental-api/internal/repository"
	appErrors "github.com/propelize/rental-api/pkg/errors"
	"github.com/propelize/rental-api/pkg/jobs"
	"github.com/propelize/rental-api/pkg/storage"
)

type mockReportRepo struct {
	jobs map[string]*models.ReportJob
}

func newMockReportRepo() *mockReportRepo {
	return &mockReportRepo{jobs: make(map[string]*models.ReportJob)}
}

func (m *mockReportRepo) Create(ctx context.Context, job *models.ReportJob) error {
	m.jobs[job.ID] = job
	return nil
}

func (m *mockReportRepo) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (m *mockReportRepo) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	job, ok := m.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

type mockFleetRepo struct {
	vehicles []models.Vehicle
}

func (m *mockFleetRepo) ListAll(ctx context.Context) ([]models.Vehicle, error) {
	return m.vehicles, nil
}

func newReportTestService(t *testing.T, repo *mockReportRepo, fleet *mockFleetRepo) *ReportService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	return NewReportService(repo, fleet, store, signer, nil, validator.New(), zap.NewNop(), jobs.QueueConfig{Workers: 1})
}

func TestReportServiceProcessRendersCSV(t *testing.T) {
	repo := newMockReportRepo()
	fleet := &mockFleetRepo{vehicles: []models.Vehicle{
		{ID: "v1", Make: "Toyota", Model: "Corolla", Year: 2020, LicensePlate: "AA-111", VIN: "1HGBH41JXMN109186", OwnerID: "u1", Active: true},
	}}
	svc := newReportTestService(t, repo, fleet)

	job := &models.ReportJob{ID: "job-1", Format: models.ReportFormatCSV, Status: models.ReportStatusQueued, CreatedBy: "admin"}
	require.NoError(t, repo.Create(context.Background(), job))

	require.NoError(t, svc.process(context.Background(), jobs.Job{ID: "job-1", Payload: "job-1"}))

	stored, err := repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFinished, stored.Status)
	require.NotNil(t, stored.ResultURL)
	require.NotNil(t, stored.FinishedAt)

	token := strings.TrimPrefix(*stored.ResultURL, "/api/v1/reports/fleet/download/")
	file, contentType, err := svc.OpenDownload(context.Background(), token)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, "text/csv", contentType)
}

func TestReportServiceStatusOwnership(t *testing.T) {
	repo := newMockReportRepo()
	svc := newReportTestService(t, repo, &mockFleetRepo{})

	job := &models.ReportJob{ID: "job-1", Format: models.ReportFormatCSV, Status: models.ReportStatusQueued, CreatedBy: "admin-1"}
	require.NoError(t, repo.Create(context.Background(), job))

	_, err := svc.Status(context.Background(), &models.JWTClaims{UserID: "u2", Role: models.RoleUser}, "job-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	status, err := svc.Status(context.Background(), &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, status.Status)
}

func TestReportServiceStatusUnknownJob(t *testing.T) {
	svc := newReportTestService(t, newMockReportRepo(), &mockFleetRepo{})

	_, err := svc.Status(context.Background(), &models.JWTClaims{UserID: "a", Role: models.RoleAdmin}, "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReportServiceOpenDownloadRejectsBadToken(t *testing.T) {
	svc := newReportTestService(t, newMockReportRepo(), &mockFleetRepo{})

	_, _, err := svc.OpenDownload(context.Background(), "tampered.token.value.sig")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)
}
