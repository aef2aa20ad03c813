package dashboard

import (
	"context"
	"encoding/json"
	"io"

	"github.com/qualys/compliance-console/internal/backend"
	"github.com/qualys/compliance-console/internal/models"
)

// Backend is the subset of the REST gateway the console drives.
// *backend.Client satisfies it.
type Backend interface {
	ListPolicies(ctx context.Context) ([]models.Policy, error)
	GetPolicy(ctx context.Context, id string) (*models.Policy, error)
	CreatePolicy(ctx context.Context, policy models.Policy) (*models.Policy, error)
	DeletePolicy(ctx context.Context, id string) error

	RunScan(ctx context.Context, req backend.ScanRequest) (json.RawMessage, error)
	ListViolations(ctx context.Context) ([]models.Violation, error)
	GetViolation(ctx context.Context, id string) (*models.Violation, error)

	ListTransactions(ctx context.Context) ([]models.Transaction, error)

	GenerateReport(ctx context.Context, req backend.GenerateReportRequest) (json.RawMessage, error)
	ListReports(ctx context.Context) ([]models.Report, error)
	GetReport(ctx context.Context, id string) (*models.Report, error)
	GetReportDocument(ctx context.Context, id string) (json.RawMessage, error)

	GetRaw(ctx context.Context, path string) (json.RawMessage, error)
	Upload(ctx context.Context, filename string, r io.Reader) (*backend.UploadResponse, error)
}

var _ Backend = (*backend.Client)(nil)

// Archiver receives a copy of every downloaded report.
type Archiver interface {
	Archive(ctx context.Context, name, contentType string, data []byte) error
}
