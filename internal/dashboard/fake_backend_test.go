package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/qualys/compliance-console/internal/backend"
	"github.com/qualys/compliance-console/internal/models"
)

var errBackendDown = errors.New("connection refused")

type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int

	policies        []models.Policy
	policiesErr     error
	violations      []models.Violation
	violationsErr   error
	transactions    []models.Transaction
	transactionsErr error
	reports         []models.Report
	reportsErr      error
	rawErr          map[string]error

	policy      *models.Policy
	violation   *models.Violation
	report      *models.Report
	reportDoc   json.RawMessage
	getErr      error
	created     []models.Policy
	createResp  *models.Policy
	createErr   error
	deleted     []string
	deleteErr   error
	scans       []backend.ScanRequest
	scanErr     error
	generated   []backend.GenerateReportRequest
	generateErr error
	uploads     map[string]string
	uploadResp  *backend.UploadResponse
	uploadErr   error

	// listPoliciesHook, when set, replaces ListPolicies.
	listPoliciesHook func(ctx context.Context, call int) ([]models.Policy, error)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls:   make(map[string]int),
		rawErr:  make(map[string]error),
		uploads: make(map[string]string),
	}
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.calls[name]
}

func (f *fakeBackend) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) ListPolicies(ctx context.Context) ([]models.Policy, error) {
	call := f.count("ListPolicies")
	if f.listPoliciesHook != nil {
		return f.listPoliciesHook(ctx, call)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.policies, f.policiesErr
}

func (f *fakeBackend) GetPolicy(ctx context.Context, id string) (*models.Policy, error) {
	f.count("GetPolicy")
	return f.policy, f.getErr
}

func (f *fakeBackend) CreatePolicy(ctx context.Context, policy models.Policy) (*models.Policy, error) {
	f.count("CreatePolicy")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, policy)
	return f.createResp, f.createErr
}

func (f *fakeBackend) DeletePolicy(ctx context.Context, id string) error {
	f.count("DeletePolicy")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func (f *fakeBackend) RunScan(ctx context.Context, req backend.ScanRequest) (json.RawMessage, error) {
	f.count("RunScan")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, req)
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return json.RawMessage(`{"status":"ok"}`), nil
}

func (f *fakeBackend) ListViolations(ctx context.Context) ([]models.Violation, error) {
	f.count("ListViolations")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.violations, f.violationsErr
}

func (f *fakeBackend) GetViolation(ctx context.Context, id string) (*models.Violation, error) {
	f.count("GetViolation")
	return f.violation, f.getErr
}

func (f *fakeBackend) ListTransactions(ctx context.Context) ([]models.Transaction, error) {
	f.count("ListTransactions")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transactions, f.transactionsErr
}

func (f *fakeBackend) GenerateReport(ctx context.Context, req backend.GenerateReportRequest) (json.RawMessage, error) {
	f.count("GenerateReport")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = append(f.generated, req)
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return json.RawMessage(`{"id": 11}`), nil
}

func (f *fakeBackend) ListReports(ctx context.Context) ([]models.Report, error) {
	f.count("ListReports")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports, f.reportsErr
}

func (f *fakeBackend) GetReport(ctx context.Context, id string) (*models.Report, error) {
	f.count("GetReport")
	return f.report, f.getErr
}

func (f *fakeBackend) GetReportDocument(ctx context.Context, id string) (json.RawMessage, error) {
	f.count("GetReportDocument")
	return f.reportDoc, f.getErr
}

func (f *fakeBackend) GetRaw(ctx context.Context, path string) (json.RawMessage, error) {
	f.count("GetRaw " + path)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.rawErr[path]; err != nil {
		return nil, err
	}
	var v interface{}
	switch path {
	case backend.PathViolations:
		v = f.violations
	case backend.PathTransactions:
		v = f.transactions
	case backend.PathPolicies:
		v = f.policies
	}
	data, err := json.Marshal(v)
	return json.RawMessage(data), err
}

func (f *fakeBackend) Upload(ctx context.Context, filename string, r io.Reader) (*backend.UploadResponse, error) {
	f.count("Upload")
	data, _ := io.ReadAll(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[filename] = string(data)
	return f.uploadResp, f.uploadErr
}

type recordingArchiver struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (r *recordingArchiver) Archive(ctx context.Context, name, contentType string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	return r.err
}
