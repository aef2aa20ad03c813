package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ID is an entity identifier as the backend sends it. Some services emit
// numeric ids, others strings; both decode to the same decimal text.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// Normalize lowercases the level and maps empty values to low.
func (r RiskLevel) Normalize() RiskLevel {
	v := RiskLevel(strings.ToLower(strings.TrimSpace(string(r))))
	if v == "" {
		return RiskLow
	}
	return v
}

// Label is the capitalised display form ("High", "Medium", "Low").
func (r RiskLevel) Label() string {
	v := string(r.Normalize())
	return strings.ToUpper(v[:1]) + v[1:]
}

type Policy struct {
	ID           ID      `json:"id"`
	Title        string  `json:"title"`
	Content      string  `json:"content"`
	Jurisdiction string  `json:"jurisdiction"`
	Category     string  `json:"category"`
	CreatedAt    string  `json:"created_at"`
	Embeddings   *string `json:"embeddings"`
}

// CreatedDate returns the date part of CreatedAt when it parses as a
// timestamp, and the raw value otherwise.
func (p Policy) CreatedDate() string {
	return DisplayDate(p.CreatedAt)
}

type Violation struct {
	ID             ID        `json:"id"`
	TransactionID  string    `json:"transaction_id"`
	PolicyID       string    `json:"policy_id"`
	RiskLevel      RiskLevel `json:"risk_level"`
	Description    string    `json:"description"`
	Recommendation string    `json:"recommendation"`
	CreatedAt      string    `json:"created_at,omitempty"`
}

// UnmarshalJSON also accepts the list keys older scan services emit
// (transactionId, policy, risk).
func (v *Violation) UnmarshalJSON(data []byte) error {
	type plain Violation
	var aux struct {
		plain
		LegacyTransactionID string    `json:"transactionId"`
		LegacyPolicy        string    `json:"policy"`
		LegacyRisk          RiskLevel `json:"risk"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*v = Violation(aux.plain)
	if v.TransactionID == "" {
		v.TransactionID = aux.LegacyTransactionID
	}
	if v.PolicyID == "" {
		v.PolicyID = aux.LegacyPolicy
	}
	if v.RiskLevel == "" {
		v.RiskLevel = aux.LegacyRisk
	}
	return nil
}

type Report struct {
	ID        ID              `json:"id"`
	Generated string          `json:"generated,omitempty"`
	Status    string          `json:"status,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// UnmarshalJSON maps the report service's generated_at/content fields onto
// Generated/Summary when the console fields are absent.
func (r *Report) UnmarshalJSON(data []byte) error {
	type plain Report
	var aux struct {
		plain
		GeneratedAt string `json:"generated_at"`
		Content     string `json:"content"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Report(aux.plain)
	if r.Generated == "" {
		r.Generated = aux.GeneratedAt
	}
	if r.Summary == "" {
		r.Summary = aux.Content
	}
	return nil
}

// DetailsText renders Details as display text: JSON strings unquoted, other
// values as compact JSON, absent values as "".
func (r Report) DetailsText() string {
	raw := bytes.TrimSpace(r.Details)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

type Transaction struct {
	ID          ID      `json:"id"`
	UserID      string  `json:"user_id,omitempty"`
	Amount      float64 `json:"amount"`
	Date        string  `json:"date,omitempty"`
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
}

// UploadedFile is the file chosen for the upload flow. It lives only for the
// duration of one upload.
type UploadedFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the timestamp shapes the backend services produce.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func DisplayDate(s string) string {
	if t, ok := ParseTime(s); ok {
		return t.Format("2006-01-02")
	}
	return s
}

func DisplayTimestamp(s string) string {
	if t, ok := ParseTime(s); ok {
		return t.Format("2006-01-02 15:04:05")
	}
	return s
}

// FormatCount renders n with thousands separators ("5,000").
func FormatCount(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
