package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/qualys/compliance-console/internal/dashboard"
)

type NotificationType string

const (
	NotifyScanComplete     NotificationType = "scan_complete"
	NotifyScanFailed       NotificationType = "scan_failed"
	NotifyReportGenerated  NotificationType = "report_generated"
	NotifyReportFailed     NotificationType = "report_failed"
	NotifyTransactionsLoad NotificationType = "transactions_loaded"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityOrder = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity maps a config value to a Severity, defaulting to medium.
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := severityOrder[sev]; ok {
		return sev
	}
	return SeverityMedium
}

type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Severity  Severity
	Data      map[string]string
	Timestamp time.Time
}

type Config struct {
	MinSeverity Severity
	Slack       SlackConfig
	Email       EmailConfig
}

type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
	Enabled    bool
}

type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	To       []string
	Enabled  bool
}

// Service delivers notifications for console actions. Delivery from
// ObserveAction is asynchronous; Close waits for pending sends.
type Service struct {
	config   Config
	logger   *slog.Logger
	client   *http.Client
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	timeout  time.Duration

	wg sync.WaitGroup
}

func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MinSeverity == "" {
		config.MinSeverity = SeverityMedium
	}
	if config.Slack.Username == "" {
		config.Slack.Username = "Compliance Console"
	}

	return &Service{
		config:   config,
		logger:   logger,
		client:   &http.Client{Timeout: 10 * time.Second},
		sendMail: smtp.SendMail,
		timeout:  30 * time.Second,
	}
}

// Enabled reports whether any channel is configured.
func (s *Service) Enabled() bool {
	return s.config.Slack.Enabled || s.config.Email.Enabled
}

// Send delivers notif to every enabled channel whose threshold it meets.
func (s *Service) Send(ctx context.Context, notif *Notification) error {
	if !s.shouldNotify(notif.Severity) {
		return nil
	}

	var errs []error
	if s.config.Slack.Enabled {
		if err := s.sendSlack(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}
	if s.config.Email.Enabled {
		if err := s.sendEmail(notif); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) shouldNotify(actual Severity) bool {
	return severityOrder[actual] >= severityOrder[s.config.MinSeverity]
}

// ObserveAction turns scan and report events into notifications and sends
// them in the background.
func (s *Service) ObserveAction(ctx context.Context, ev dashboard.ActionEvent) {
	notif := FromEvent(ev)
	if notif == nil || !s.Enabled() || !s.shouldNotify(notif.Severity) {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		if err := s.Send(sendCtx, notif); err != nil {
			s.logger.Error("failed to send notification", "type", notif.Type, "error", err)
		}
	}()
}

// Close waits for in-flight deliveries.
func (s *Service) Close() {
	s.wg.Wait()
}

// FromEvent maps an action event to a notification. Actions that are not
// worth alerting on return nil.
func FromEvent(ev dashboard.ActionEvent) *Notification {
	notif := &Notification{
		Data: map[string]string{
			"user":    ev.User,
			"session": ev.SessionID,
		},
		Timestamp: ev.At,
	}
	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now()
	}
	if ev.Target != "" {
		notif.Data["target"] = ev.Target
	}

	switch {
	case ev.Action == dashboard.ActionRunScan && ev.OK:
		notif.Type = NotifyScanComplete
		notif.Title = "Compliance Scan Completed"
		notif.Severity = SeverityMedium
	case ev.Action == dashboard.ActionRunScan:
		notif.Type = NotifyScanFailed
		notif.Title = "Compliance Scan Failed"
		notif.Severity = SeverityHigh
	case ev.Action == dashboard.ActionGenerateReport && ev.OK:
		notif.Type = NotifyReportGenerated
		notif.Title = "Compliance Report Generated"
		notif.Severity = SeverityMedium
	case ev.Action == dashboard.ActionGenerateReport:
		notif.Type = NotifyReportFailed
		notif.Title = "Compliance Report Failed"
		notif.Severity = SeverityHigh
	case ev.Action == dashboard.ActionUpload && ev.OK:
		notif.Type = NotifyTransactionsLoad
		notif.Title = "Transactions Processed"
		notif.Severity = SeverityLow
	default:
		return nil
	}
	notif.Message = ev.Message
	return notif
}

type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *Service) sendSlack(ctx context.Context, notif *Notification) error {
	var fields []SlackField
	for _, key := range []string{"user", "target"} {
		if v := notif.Data[key]; v != "" {
			fields = append(fields, SlackField{Title: strings.ToUpper(key[:1]) + key[1:], Value: v, Short: true})
		}
	}

	msg := SlackMessage{
		Channel:  s.config.Slack.Channel,
		Username: s.config.Slack.Username,
		Attachments: []SlackAttachment{
			{
				Color:     severityColor(notif.Severity),
				Title:     notif.Title,
				Text:      notif.Message,
				Fallback:  fmt.Sprintf("%s: %s", notif.Title, notif.Message),
				Fields:    fields,
				Footer:    "Compliance Console",
				Timestamp: notif.Timestamp.Unix(),
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Slack.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent", "type", notif.Type, "title", notif.Title)
	return nil
}

func severityColor(severity Severity) string {
	switch severity {
	case SeverityCritical:
		return "#FF0000"
	case SeverityHigh:
		return "#FFA500"
	case SeverityMedium:
		return "#FFFF00"
	default:
		return "#36A64F"
	}
}

func (s *Service) sendEmail(notif *Notification) error {
	body, err := formatEmailBody(notif)
	if err != nil {
		return err
	}
	msg := s.buildEmailMessage("[Compliance] "+notif.Title, body)

	auth := smtp.PlainAuth("", s.config.Email.Username, s.config.Email.Password, s.config.Email.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	if err := s.sendMail(addr, auth, s.config.Email.From, s.config.Email.To, []byte(msg)); err != nil {
		return err
	}

	s.logger.Info("email notification sent",
		"type", notif.Type,
		"title", notif.Title,
		"recipients", len(s.config.Email.To))
	return nil
}

func (s *Service) buildEmailMessage(subject, body string) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.config.Email.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(s.config.Email.To, ","))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background-color: #f5f5f5; padding: 20px;">
  <div style="max-width: 600px; margin: 0 auto; background: white; border-radius: 8px;">
    <div style="padding: 20px; background: {{.Color}}; border-radius: 8px 8px 0 0;">
      <h2 style="margin:0;">{{.Title}}</h2>
    </div>
    <div style="padding: 20px;">
      <p>{{.Message}}</p>
      <p>Severity: <strong>{{.Severity}}</strong></p>
      {{if .Data}}
      <table style="width: 100%; border-collapse: collapse;">
        {{range $key, $value := .Data}}{{if $value}}
        <tr><td style="font-weight: bold; width: 30%;">{{$key}}</td><td>{{$value}}</td></tr>
        {{end}}{{end}}
      </table>
      {{end}}
    </div>
    <div style="padding: 15px 20px; font-size: 12px; color: #666;">
      <p>Generated at: {{.Timestamp}}</p>
    </div>
  </div>
</body>
</html>
`))

func formatEmailBody(notif *Notification) (string, error) {
	data := map[string]interface{}{
		"Title":     notif.Title,
		"Message":   notif.Message,
		"Severity":  string(notif.Severity),
		"Color":     severityColor(notif.Severity),
		"Data":      notif.Data,
		"Timestamp": notif.Timestamp.Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var _ dashboard.Observer = (*Service)(nil)
