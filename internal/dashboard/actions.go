package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qualys/compliance-console/internal/backend"
	"github.com/qualys/compliance-console/internal/models"
	"github.com/qualys/compliance-console/internal/reports"
)

var ErrTitleRequired = errors.New("policy title is required")

// isoMillis matches the timestamps browsers send (UTC, millisecond precision).
const isoMillis = "2006-01-02T15:04:05.000Z"

type Action string

const (
	ActionSavePolicy     Action = "save_policy"
	ActionDeletePolicy   Action = "delete_policy"
	ActionRunScan        Action = "run_scan"
	ActionGenerateReport Action = "generate_report"
	ActionDownloadReport Action = "download_report"
	ActionUpload         Action = "upload"
)

// ActionResult is the outcome of one mutation, viewer or upload step.
type ActionResult struct {
	Action  Action
	OK      bool
	Message string
	Target  string
	Err     error
}

// ActionEvent is sent to observers after every mutation.
type ActionEvent struct {
	SessionID string
	User      string
	Action    Action
	Target    string
	OK        bool
	Message   string
	At        time.Time
}

type Observer interface {
	ObserveAction(ctx context.Context, ev ActionEvent)
}

type ObserverFunc func(ctx context.Context, ev ActionEvent)

func (f ObserverFunc) ObserveAction(ctx context.Context, ev ActionEvent) {
	f(ctx, ev)
}

// finish logs res, shows it as a notification and hands it to observers.
func (a *App) finish(ctx context.Context, res ActionResult) ActionResult {
	a.mu.Lock()
	state := a.state
	if res.OK {
		a.notifyLocked(LevelSuccess, res.Message)
	} else {
		a.notifyLocked(LevelError, res.Message)
	}
	a.mu.Unlock()

	if res.OK {
		a.logger.Info("action completed", "session", state.SessionID, "action", res.Action, "target", res.Target)
	} else {
		a.logger.Error("action failed", "session", state.SessionID, "action", res.Action, "target", res.Target, "error", res.Err)
	}

	ev := ActionEvent{
		SessionID: state.SessionID,
		User:      state.User,
		Action:    res.Action,
		Target:    res.Target,
		OK:        res.OK,
		Message:   res.Message,
		At:        a.now(),
	}
	octx := context.WithoutCancel(ctx)
	for _, o := range a.observers {
		o.ObserveAction(octx, ev)
	}
	return res
}

func failed(action Action, target, prefix string, err error) ActionResult {
	return ActionResult{
		Action:  action,
		Target:  target,
		Message: fmt.Sprintf("%s: %v", prefix, err),
		Err:     err,
	}
}

// SavePolicy creates a policy from form. The policy is posted with a
// placeholder id (current time in milliseconds) that the id returned by the
// backend replaces. On success the form closes and resets and the policies
// table reloads.
func (a *App) SavePolicy(ctx context.Context, form PolicyForm) ActionResult {
	if strings.TrimSpace(form.Title) == "" {
		a.mu.Lock()
		a.view.PolicyForm = form
		a.mu.Unlock()
		return a.finish(ctx, failed(ActionSavePolicy, "", "Error saving policy", ErrTitleRequired))
	}

	now := a.now()
	policy := models.Policy{
		ID:           models.ID(strconv.FormatInt(now.UnixMilli(), 10)),
		Title:        form.Title,
		Content:      form.Content,
		Jurisdiction: form.Jurisdiction,
		Category:     form.Category,
		CreatedAt:    now.UTC().Format(isoMillis),
	}

	created, err := a.backend.CreatePolicy(ctx, policy)
	if err != nil {
		a.mu.Lock()
		a.view.PolicyForm = form
		a.mu.Unlock()
		return a.finish(ctx, failed(ActionSavePolicy, policy.ID.String(), "Error saving policy", err))
	}

	id := policy.ID
	if created != nil && created.ID != "" {
		id = created.ID
	}

	a.mu.Lock()
	a.view.PolicyForm = PolicyForm{}
	a.mu.Unlock()
	_ = a.modals.Dismiss(ModalPolicyForm, TriggerAction)

	a.reload(ctx, PagePolicies)

	return a.finish(ctx, ActionResult{
		Action:  ActionSavePolicy,
		OK:      true,
		Target:  id.String(),
		Message: fmt.Sprintf("Policy %q saved", form.Title),
	})
}

func (a *App) DeletePolicy(ctx context.Context, id string) ActionResult {
	if err := a.backend.DeletePolicy(ctx, id); err != nil {
		return a.finish(ctx, failed(ActionDeletePolicy, id, "Error deleting policy", err))
	}

	a.reload(ctx, PagePolicies)

	return a.finish(ctx, ActionResult{
		Action:  ActionDeletePolicy,
		OK:      true,
		Target:  id,
		Message: "Policy deleted",
	})
}

// acquire marks control busy with label. It fails if the control is already
// busy. The returned func restores the control.
func (a *App) acquire(id ControlID, label string) (func(), bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctl := a.view.Controls[id]
	if ctl.Busy {
		return nil, false
	}
	original := *ctl
	ctl.Busy = true
	ctl.Disabled = true
	ctl.Label = label

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		*a.view.Controls[id] = original
	}, true
}

// RunScan asks the backend for a compliance scan and reloads the violations
// table when it completes.
func (a *App) RunScan(ctx context.Context) ActionResult {
	release, ok := a.acquire(ControlRunScan, "Scanning...")
	if !ok {
		return ActionResult{Action: ActionRunScan, Message: "A compliance scan is already running", Err: ErrActionInProgress}
	}

	a.setStatus(StatusScan, StatusProcessing, "Running compliance scan...")

	_, err := a.backend.RunScan(ctx, backend.ScanRequest{
		Message:   "Compliance scan initiated",
		Timestamp: a.now().UTC().Format(isoMillis),
	})
	release()

	if err != nil {
		res := failed(ActionRunScan, "", "Error running compliance scan", err)
		a.setStatus(StatusScan, StatusError, res.Message)
		return a.finish(ctx, res)
	}

	a.setStatus(StatusScan, StatusSuccess, "Compliance scan completed.")
	a.reload(ctx, PageScan)

	return a.finish(ctx, ActionResult{
		Action:  ActionRunScan,
		OK:      true,
		Message: "Compliance scan completed.",
	})
}

// GenerateReport fetches the current violations, transactions and policies
// in parallel and passes them unchanged to the report generator. If any of
// the three fetches fails, no generate request is sent.
func (a *App) GenerateReport(ctx context.Context) ActionResult {
	release, ok := a.acquire(ControlGenerateReport, "Generating...")
	if !ok {
		return ActionResult{Action: ActionGenerateReport, Message: "A report is already being generated", Err: ErrActionInProgress}
	}

	report, err := a.generateReport(ctx)
	release()

	if err != nil {
		return a.finish(ctx, failed(ActionGenerateReport, "", "Error generating report", err))
	}

	a.reload(ctx, PageReports)

	return a.finish(ctx, ActionResult{
		Action:  ActionGenerateReport,
		OK:      true,
		Target:  generatedID(report),
		Message: "Report generated successfully",
	})
}

func (a *App) generateReport(ctx context.Context) (json.RawMessage, error) {
	var req backend.GenerateReportRequest

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		req.ViolationsData, err = a.backend.GetRaw(gctx, backend.PathViolations)
		return err
	})
	g.Go(func() error {
		var err error
		req.TransactionsData, err = a.backend.GetRaw(gctx, backend.PathTransactions)
		return err
	})
	g.Go(func() error {
		var err error
		req.PoliciesData, err = a.backend.GetRaw(gctx, backend.PathPolicies)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return a.backend.GenerateReport(ctx, req)
}

// generatedID pulls an "id" or "report_id" member out of a generate
// response, if there is one.
func generatedID(doc json.RawMessage) string {
	var body struct {
		ID       models.ID `json:"id"`
		ReportID models.ID `json:"report_id"`
	}
	if err := json.Unmarshal(doc, &body); err != nil {
		return ""
	}
	if body.ID != "" {
		return body.ID.String()
	}
	return body.ReportID.String()
}

// DownloadReport fetches report id and renders it for download. JSON
// downloads are named report-<id>.json and hold the whole document indented
// by two spaces. A configured archiver receives a copy; archiving failures
// only produce a warning.
func (a *App) DownloadReport(ctx context.Context, id string, format reports.Format) (*reports.Export, ActionResult) {
	doc, err := a.backend.GetReportDocument(ctx, id)
	if err != nil {
		return nil, a.finish(ctx, failed(ActionDownloadReport, id, "Error downloading report", err))
	}

	export, err := a.exporter.Export(id, doc, format)
	if err != nil {
		return nil, a.finish(ctx, failed(ActionDownloadReport, id, "Error downloading report", err))
	}

	if a.archiver != nil {
		if err := a.archiver.Archive(ctx, export.Filename, export.MimeType, export.Data); err != nil {
			a.logger.Warn("archiving report failed", "report", id, "file", export.Filename, "error", err)
			a.notify(LevelWarning, fmt.Sprintf("Report %s was downloaded but could not be archived: %v", id, err))
		}
	}

	return export, a.finish(ctx, ActionResult{
		Action:  ActionDownloadReport,
		OK:      true,
		Target:  id,
		Message: fmt.Sprintf("Downloaded %s", export.Filename),
	})
}
