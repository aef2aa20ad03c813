package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/qualys/compliance-console/internal/models"
)

type ScanRequest struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type GenerateReportRequest struct {
	ViolationsData   json.RawMessage `json:"violations_data"`
	TransactionsData json.RawMessage `json:"transactions_data"`
	PoliciesData     json.RawMessage `json:"policies_data"`
}

type UploadResponse struct {
	Message string `json:"message,omitempty"`
}

type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// listJSON fetches a collection. A null body is rejected; an empty
// collection is [].
func listJSON[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var items []T
	if err := c.getJSON(ctx, path, &items); err != nil {
		return nil, err
	}
	if items == nil {
		return nil, fmt.Errorf("decoding %s: %w: null collection", path, ErrInvalidResponse)
	}
	return items, nil
}

func (c *Client) ListPolicies(ctx context.Context) ([]models.Policy, error) {
	return listJSON[models.Policy](ctx, c, PathPolicies)
}

func (c *Client) GetPolicy(ctx context.Context, id string) (*models.Policy, error) {
	var policy models.Policy
	if err := c.getJSON(ctx, itemPath(PathPolicies, id), &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// CreatePolicy posts policy and returns the stored document as the backend
// echoes it.
func (c *Client) CreatePolicy(ctx context.Context, policy models.Policy) (*models.Policy, error) {
	var created models.Policy
	if err := c.sendJSON(ctx, http.MethodPost, PathPolicies, policy, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) DeletePolicy(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, itemPath(PathPolicies, id), nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) RunScan(ctx context.Context, req ScanRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.sendJSON(ctx, http.MethodPost, PathScan, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListViolations(ctx context.Context) ([]models.Violation, error) {
	return listJSON[models.Violation](ctx, c, PathViolations)
}

func (c *Client) GetViolation(ctx context.Context, id string) (*models.Violation, error) {
	var violation models.Violation
	if err := c.getJSON(ctx, itemPath(PathViolations, id), &violation); err != nil {
		return nil, err
	}
	return &violation, nil
}

func (c *Client) ListTransactions(ctx context.Context) ([]models.Transaction, error) {
	return listJSON[models.Transaction](ctx, c, PathTransactions)
}

func (c *Client) GenerateReport(ctx context.Context, req GenerateReportRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.sendJSON(ctx, http.MethodPost, PathGenerateReport, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListReports(ctx context.Context) ([]models.Report, error) {
	return listJSON[models.Report](ctx, c, PathReports)
}

func (c *Client) GetReport(ctx context.Context, id string) (*models.Report, error) {
	doc, err := c.GetReportDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	var report models.Report
	if err := json.Unmarshal(doc, &report); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w: %v", id, ErrInvalidResponse, err)
	}
	return &report, nil
}

// GetReportDocument returns the full report document as the backend sent it.
func (c *Client) GetReportDocument(ctx context.Context, id string) (json.RawMessage, error) {
	return c.GetRaw(ctx, itemPath(PathReports, id))
}

// Upload posts r as the "file" part of a multipart body.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*UploadResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("creating multipart file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("copying upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, PathUpload, &body, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var out UploadResponse
	if err := c.decode(resp, PathUpload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges service credentials for a gateway bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (*Token, error) {
	q := url.Values{}
	q.Set("username", username)
	q.Set("password", password)

	resp, err := c.doQuery(ctx, http.MethodPost, PathLogin, q, nil, "")
	if err != nil {
		return nil, err
	}

	var token Token
	if err := c.decode(resp, PathLogin, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("login: %w: empty access token", ErrInvalidResponse)
	}
	return &token, nil
}
