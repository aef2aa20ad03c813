package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qualys/compliance-console/internal/dashboard"
)

func TestFromEvent(t *testing.T) {
	tests := []struct {
		name     string
		ev       dashboard.ActionEvent
		wantType NotificationType
		wantSev  Severity
	}{
		{"scan ok", dashboard.ActionEvent{Action: dashboard.ActionRunScan, OK: true}, NotifyScanComplete, SeverityMedium},
		{"scan failed", dashboard.ActionEvent{Action: dashboard.ActionRunScan}, NotifyScanFailed, SeverityHigh},
		{"report ok", dashboard.ActionEvent{Action: dashboard.ActionGenerateReport, OK: true}, NotifyReportGenerated, SeverityMedium},
		{"report failed", dashboard.ActionEvent{Action: dashboard.ActionGenerateReport}, NotifyReportFailed, SeverityHigh},
		{"upload ok", dashboard.ActionEvent{Action: dashboard.ActionUpload, OK: true}, NotifyTransactionsLoad, SeverityLow},
		{"policy saved", dashboard.ActionEvent{Action: dashboard.ActionSavePolicy, OK: true}, "", ""},
		{"upload failed", dashboard.ActionEvent{Action: dashboard.ActionUpload}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := FromEvent(tt.ev)
			if tt.wantType == "" {
				if n != nil {
					t.Errorf("expected no notification, got %+v", n)
				}
				return
			}
			if n == nil {
				t.Fatal("expected notification")
			}
			if n.Type != tt.wantType || n.Severity != tt.wantSev {
				t.Errorf("expected %s/%s, got %s/%s", tt.wantType, tt.wantSev, n.Type, n.Severity)
			}
		})
	}
}

func TestParseSeverity(t *testing.T) {
	tests := map[string]Severity{
		"high":     SeverityHigh,
		" LOW ":    SeverityLow,
		"critical": SeverityCritical,
		"bogus":    SeverityMedium,
		"":         SeverityMedium,
	}
	for in, want := range tests {
		if got := ParseSeverity(in); got != want {
			t.Errorf("ParseSeverity(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestObserveAction_SlackDelivery(t *testing.T) {
	var mu sync.Mutex
	var received []SlackMessage

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg SlackMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := NewService(Config{
		MinSeverity: SeverityMedium,
		Slack:       SlackConfig{Enabled: true, WebhookURL: srv.URL, Channel: "#compliance"},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	svc.ObserveAction(ctx, dashboard.ActionEvent{
		User:    "alice",
		Action:  dashboard.ActionRunScan,
		OK:      false,
		Message: "Error running compliance scan: backend down",
		At:      time.Date(2024, 6, 10, 8, 30, 0, 0, time.UTC),
	})
	// Delivery must survive the request context ending.
	cancel()
	svc.ObserveAction(context.Background(), dashboard.ActionEvent{Action: dashboard.ActionUpload, OK: true})
	svc.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 slack message (upload is below threshold), got %d", len(received))
	}
	msg := received[0]
	if msg.Channel != "#compliance" || len(msg.Attachments) != 1 {
		t.Fatalf("unexpected message %+v", msg)
	}
	att := msg.Attachments[0]
	if att.Title != "Compliance Scan Failed" || att.Color != "#FFA500" {
		t.Errorf("unexpected attachment %+v", att)
	}
	if !strings.Contains(att.Text, "backend down") {
		t.Errorf("expected error message in text, got %q", att.Text)
	}
}

func TestSend_SlackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := NewService(Config{Slack: SlackConfig{Enabled: true, WebhookURL: srv.URL}}, nil)
	err := svc.Send(context.Background(), &Notification{Title: "x", Severity: SeverityHigh})
	if err == nil || !strings.Contains(err.Error(), "slack") {
		t.Errorf("expected slack error, got %v", err)
	}
}

func TestSend_Email(t *testing.T) {
	svc := NewService(Config{
		Email: EmailConfig{
			Enabled:  true,
			SMTPHost: "smtp.example.com",
			SMTPPort: 587,
			From:     "console@example.com",
			To:       []string{"a@example.com", "b@example.com"},
		},
	}, nil)

	var addr string
	var body string
	svc.sendMail = func(a string, _ smtp.Auth, from string, to []string, msg []byte) error {
		addr = a
		body = string(msg)
		return nil
	}

	err := svc.Send(context.Background(), &Notification{
		Type:      NotifyReportGenerated,
		Title:     "Compliance Report Generated",
		Message:   "Report generated successfully",
		Severity:  SeverityMedium,
		Data:      map[string]string{"user": "alice"},
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if addr != "smtp.example.com:587" {
		t.Errorf("unexpected addr %q", addr)
	}
	for _, want := range []string{
		"Subject: [Compliance] Compliance Report Generated",
		"To: a@example.com,b@example.com",
		"Report generated successfully",
		"alice",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in message", want)
		}
	}
}

func TestSend_BelowThreshold(t *testing.T) {
	called := false
	svc := NewService(Config{
		MinSeverity: SeverityHigh,
		Email:       EmailConfig{Enabled: true},
	}, nil)
	svc.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}

	if err := svc.Send(context.Background(), &Notification{Severity: SeverityMedium}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if called {
		t.Error("medium notification should be filtered by high threshold")
	}
}
