package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qualys/compliance-console/internal/backend"
	"github.com/qualys/compliance-console/internal/models"
	"github.com/qualys/compliance-console/internal/reports"
)

var fixedNow = time.Date(2024, 6, 10, 8, 30, 15, 250*int(time.Millisecond), time.UTC)

func fixedClock() time.Time { return fixedNow }

type eventLog struct {
	mu     sync.Mutex
	events []ActionEvent
}

func (l *eventLog) ObserveAction(ctx context.Context, ev ActionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) last() ActionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return ActionEvent{}
	}
	return l.events[len(l.events)-1]
}

func TestSavePolicy_SendsFieldsVerbatim(t *testing.T) {
	fb := newFakeBackend()
	fb.createResp = &models.Policy{ID: "srv-9"}
	events := &eventLog{}
	app := newTestApp(fb, WithClock(fixedClock), WithObserver(events), WithState(State{SessionID: "s1", User: "alice"}))
	defer app.Close()

	if _, err := app.Navigate(context.Background(), PagePolicies); err != nil {
		t.Fatal(err)
	}
	app.OpenPolicyForm()

	res := app.SavePolicy(context.Background(), PolicyForm{
		Title:        "AML Policy",
		Jurisdiction: "US",
		Category:     "Anti-Money Laundering",
		Content:      "Do X",
	})
	if !res.OK {
		t.Fatalf("SavePolicy failed: %v", res.Err)
	}

	if len(fb.created) != 1 {
		t.Fatalf("expected 1 create request, got %d", len(fb.created))
	}
	sent := fb.created[0]
	if sent.Title != "AML Policy" || sent.Jurisdiction != "US" || sent.Category != "Anti-Money Laundering" || sent.Content != "Do X" {
		t.Errorf("fields not sent verbatim: %+v", sent)
	}
	if _, err := strconv.ParseInt(sent.ID.String(), 10, 64); err != nil {
		t.Errorf("expected numeric string id, got %q", sent.ID)
	}
	if sent.ID.String() != strconv.FormatInt(fixedNow.UnixMilli(), 10) {
		t.Errorf("expected placeholder from clock, got %q", sent.ID)
	}
	if sent.CreatedAt != "2024-06-10T08:30:15.250Z" {
		t.Errorf("unexpected created_at %q", sent.CreatedAt)
	}
	if sent.Embeddings != nil {
		t.Error("embeddings should be sent as null")
	}

	if res.Target != "srv-9" {
		t.Errorf("server id should replace the placeholder, got %q", res.Target)
	}

	v := app.Snapshot()
	if v.Modal(ModalPolicyForm).Open {
		t.Error("policy form should close after save")
	}
	if v.PolicyForm != (PolicyForm{}) {
		t.Errorf("policy form should reset, got %+v", v.PolicyForm)
	}
	if fb.Calls("ListPolicies") != 2 {
		t.Errorf("expected policies reload, got %d loads", fb.Calls("ListPolicies"))
	}

	ev := events.last()
	if ev.Action != ActionSavePolicy || !ev.OK || ev.Target != "srv-9" || ev.User != "alice" || ev.SessionID != "s1" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestSavePolicy_KeepsPlaceholderWithoutServerID(t *testing.T) {
	fb := newFakeBackend()
	fb.createResp = &models.Policy{}
	app := newTestApp(fb, WithClock(fixedClock))
	defer app.Close()

	res := app.SavePolicy(context.Background(), PolicyForm{Title: "KYC"})
	if res.Target != strconv.FormatInt(fixedNow.UnixMilli(), 10) {
		t.Errorf("expected placeholder id, got %q", res.Target)
	}
}

func TestSavePolicy_EmptyTitle(t *testing.T) {
	fb := newFakeBackend()
	app := newTestApp(fb)
	defer app.Close()

	res := app.SavePolicy(context.Background(), PolicyForm{Title: "  ", Content: "text"})
	if !errors.Is(res.Err, ErrTitleRequired) {
		t.Errorf("expected ErrTitleRequired, got %v", res.Err)
	}
	if fb.Calls("CreatePolicy") != 0 {
		t.Error("no request should be sent without a title")
	}
	if app.Snapshot().PolicyForm.Content != "text" {
		t.Error("form values should be kept")
	}
}

func TestSavePolicy_Failure(t *testing.T) {
	fb := newFakeBackend()
	fb.createErr = &backend.APIError{Method: "POST", Path: backend.PathPolicies, StatusCode: 500, Message: "boom"}
	app := newTestApp(fb)
	defer app.Close()

	app.OpenPolicyForm()
	form := PolicyForm{Title: "AML Policy", Content: "Do X"}
	res := app.SavePolicy(context.Background(), form)
	if res.OK {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(res.Message, "Error saving policy: ") {
		t.Errorf("unexpected message %q", res.Message)
	}

	v := app.Render()
	if !v.Modal(ModalPolicyForm).Open {
		t.Error("form should stay open on failure")
	}
	if v.PolicyForm != form {
		t.Errorf("form values lost: %+v", v.PolicyForm)
	}
	if len(v.Notifications) != 1 || v.Notifications[0].Level != LevelError {
		t.Errorf("expected one error notification, got %+v", v.Notifications)
	}
	if len(app.Render().Notifications) != 0 {
		t.Error("notifications should be shown once")
	}
}

func TestDeletePolicy(t *testing.T) {
	fb := newFakeBackend()
	app := newTestApp(fb)
	defer app.Close()

	if _, err := app.Navigate(context.Background(), PagePolicies); err != nil {
		t.Fatal(err)
	}
	if res := app.DeletePolicy(context.Background(), "3"); !res.OK {
		t.Fatalf("DeletePolicy failed: %v", res.Err)
	}
	if len(fb.deleted) != 1 || fb.deleted[0] != "3" {
		t.Errorf("unexpected deletes %v", fb.deleted)
	}
	if fb.Calls("ListPolicies") != 2 {
		t.Errorf("expected reload after delete")
	}

	fb.deleteErr = errBackendDown
	if res := app.DeletePolicy(context.Background(), "4"); res.OK || res.Err == nil {
		t.Error("expected delete failure")
	}
	if fb.Calls("ListPolicies") != 2 {
		t.Error("failed delete must not reload")
	}
}

func TestRunScan(t *testing.T) {
	fb := newFakeBackend()
	app := newTestApp(fb, WithClock(fixedClock))
	defer app.Close()

	if _, err := app.Navigate(context.Background(), PageScan); err != nil {
		t.Fatal(err)
	}

	res := app.RunScan(context.Background())
	if !res.OK {
		t.Fatalf("RunScan failed: %v", res.Err)
	}
	if len(fb.scans) != 1 || fb.scans[0].Message != "Compliance scan initiated" || fb.scans[0].Timestamp != "2024-06-10T08:30:15.250Z" {
		t.Errorf("unexpected scan request %+v", fb.scans)
	}

	v := app.Snapshot()
	status := v.Status(StatusScan)
	if status.Text != "Compliance scan completed." || status.Kind != StatusSuccess {
		t.Errorf("unexpected status %+v", status)
	}
	ctl := v.Control(ControlRunScan)
	if ctl.Busy || ctl.Disabled || ctl.Label != "Run Compliance Scan" {
		t.Errorf("control not restored: %+v", ctl)
	}
	if fb.Calls("ListViolations") != 2 {
		t.Errorf("expected violations reload")
	}
}

func TestRunScan_Failure(t *testing.T) {
	fb := newFakeBackend()
	fb.scanErr = errors.New("Scan failed")
	app := newTestApp(fb)
	defer app.Close()

	res := app.RunScan(context.Background())
	if res.OK {
		t.Fatal("expected failure")
	}

	v := app.Snapshot()
	status := v.Status(StatusScan)
	if status.Text != "Error running compliance scan: Scan failed" || status.Kind != StatusError {
		t.Errorf("unexpected status %+v", status)
	}
	if ctl := v.Control(ControlRunScan); ctl.Busy || ctl.Disabled {
		t.Errorf("control not restored: %+v", ctl)
	}
}

func TestRunScan_AlreadyRunning(t *testing.T) {
	fb := newFakeBackend()
	app := newTestApp(fb)
	defer app.Close()

	release, ok := app.acquire(ControlRunScan, "Scanning...")
	if !ok {
		t.Fatal("acquire failed")
	}
	if ctl := app.Snapshot().Control(ControlRunScan); ctl.Label != "Scanning..." || !ctl.Disabled {
		t.Errorf("unexpected busy control %+v", ctl)
	}

	if res := app.RunScan(context.Background()); !errors.Is(res.Err, ErrActionInProgress) {
		t.Errorf("expected ErrActionInProgress, got %v", res.Err)
	}
	if fb.Calls("RunScan") != 0 {
		t.Error("no scan request expected while busy")
	}
	release()
}

func TestGenerateReport_PassesCollectionsThrough(t *testing.T) {
	fb := newFakeBackend()
	fb.violations = []models.Violation{{ID: "1", RiskLevel: models.RiskHigh}}
	fb.transactions = []models.Transaction{{ID: "7", Amount: 12000, Type: "CASH_IN"}}
	fb.policies = []models.Policy{{ID: "2", Title: "AML Policy"}}
	app := newTestApp(fb)
	defer app.Close()

	if _, err := app.Navigate(context.Background(), PageReports); err != nil {
		t.Fatal(err)
	}

	res := app.GenerateReport(context.Background())
	if !res.OK {
		t.Fatalf("GenerateReport failed: %v", res.Err)
	}
	if res.Target != "11" {
		t.Errorf("expected generated report id, got %q", res.Target)
	}
	if len(fb.generated) != 1 {
		t.Fatalf("expected 1 generate request, got %d", len(fb.generated))
	}

	req := fb.generated[0]
	for name, pair := range map[string][2]interface{}{
		"violations":   {req.ViolationsData, fb.violations},
		"transactions": {req.TransactionsData, fb.transactions},
		"policies":     {req.PoliciesData, fb.policies},
	} {
		want, _ := json.Marshal(pair[1])
		if !bytes.Equal(pair[0].(json.RawMessage), want) {
			t.Errorf("%s payload changed: %s", name, pair[0])
		}
	}

	if fb.Calls("ListReports") != 2 {
		t.Error("expected reports reload")
	}
	if ctl := app.Snapshot().Control(ControlGenerateReport); ctl.Busy || ctl.Label != "Generate Report" {
		t.Errorf("control not restored: %+v", ctl)
	}
}

func TestGenerateReport_FailingPrerequisiteSkipsGenerate(t *testing.T) {
	paths := []string{backend.PathViolations, backend.PathTransactions, backend.PathPolicies}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			fb := newFakeBackend()
			fb.rawErr[path] = errBackendDown
			app := newTestApp(fb)
			defer app.Close()

			res := app.GenerateReport(context.Background())
			if res.OK {
				t.Fatal("expected failure")
			}
			if !errors.Is(res.Err, errBackendDown) {
				t.Errorf("expected prerequisite error, got %v", res.Err)
			}
			if fb.Calls("GenerateReport") != 0 {
				t.Error("generate request must not be sent")
			}
			if ctl := app.Snapshot().Control(ControlGenerateReport); ctl.Busy || ctl.Disabled {
				t.Errorf("control not restored: %+v", ctl)
			}
		})
	}
}

func TestDownloadReport(t *testing.T) {
	fb := newFakeBackend()
	fb.reportDoc = json.RawMessage(`{"id":"4","summary":"ok"}`)
	archive := &recordingArchiver{}
	app := newTestApp(fb, WithArchiver(archive))
	defer app.Close()

	export, res := app.DownloadReport(context.Background(), "4", reports.FormatJSON)
	if !res.OK {
		t.Fatalf("DownloadReport failed: %v", res.Err)
	}
	if export.Filename != "report-4.json" {
		t.Errorf("unexpected filename %q", export.Filename)
	}
	if string(export.Data) != "{\n  \"id\": \"4\",\n  \"summary\": \"ok\"\n}" {
		t.Errorf("unexpected document:\n%s", export.Data)
	}
	if len(archive.names) != 1 || archive.names[0] != "report-4.json" {
		t.Errorf("expected archived copy, got %v", archive.names)
	}
}

func TestDownloadReport_ArchiveFailureOnlyWarns(t *testing.T) {
	fb := newFakeBackend()
	fb.reportDoc = json.RawMessage(`{"id":"4"}`)
	app := newTestApp(fb, WithArchiver(&recordingArchiver{err: errors.New("bucket missing")}))
	defer app.Close()

	export, res := app.DownloadReport(context.Background(), "4", reports.FormatCSV)
	if !res.OK || export == nil {
		t.Fatalf("download should succeed, got %+v", res)
	}

	warned := false
	for _, n := range app.Render().Notifications {
		if n.Level == LevelWarning && strings.Contains(n.Message, "bucket missing") {
			warned = true
		}
	}
	if !warned {
		t.Error("expected archive warning")
	}
}

func TestDownloadReport_Failure(t *testing.T) {
	fb := newFakeBackend()
	fb.getErr = errBackendDown
	app := newTestApp(fb)
	defer app.Close()

	export, res := app.DownloadReport(context.Background(), "4", reports.FormatJSON)
	if export != nil || res.OK {
		t.Error("expected failure")
	}
	if !strings.Contains(res.Message, "connection refused") {
		t.Errorf("expected raw error in message, got %q", res.Message)
	}
}
