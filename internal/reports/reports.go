package reports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/qualys/compliance-console/internal/models"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
)

var ErrUnsupportedFormat = errors.New("unsupported report format")

// ParseFormat maps a query value to a Format; empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV, FormatPDF:
		return Format(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Export is a rendered report ready to be served as an attachment.
type Export struct {
	Filename string
	MimeType string
	Data     []byte
}

type Exporter struct {
	now func() time.Time
}

func NewExporter() *Exporter {
	return &Exporter{now: time.Now}
}

// Export renders the report document doc in the requested format. The JSON
// form is the full document indented by two spaces.
func (e *Exporter) Export(id string, doc json.RawMessage, format Format) (*Export, error) {
	if !json.Valid(doc) {
		return nil, fmt.Errorf("report %s: document is not valid JSON", id)
	}

	var (
		data     []byte
		mimeType string
		err      error
	)

	switch format {
	case "", FormatJSON:
		format = FormatJSON
		var buf bytes.Buffer
		if err = json.Indent(&buf, doc, "", "  "); err == nil {
			data = buf.Bytes()
		}
		mimeType = "application/json"
	case FormatCSV:
		data, err = e.toCSV(doc)
		mimeType = "text/csv"
	case FormatPDF:
		data, err = e.toPDF(id, doc)
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("rendering report %s as %s: %w", id, format, err)
	}

	return &Export{
		Filename: fmt.Sprintf("report-%s.%s", id, format),
		MimeType: mimeType,
		Data:     data,
	}, nil
}

type field struct {
	key   string
	value string
}

// flatten lists the top-level members of an object document in key order.
// Strings are kept as text, everything else as compact JSON.
func flatten(doc json.RawMessage) ([]field, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil {
		return []field{{key: "value", value: valueText(doc)}}, nil
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, field{key: k, value: valueText(obj[k])})
	}
	return fields, nil
}

func valueText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
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

func (e *Exporter) toCSV(doc json.RawMessage) ([]byte, error) {
	fields, err := flatten(doc)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"Field", "Value"}); err != nil {
		return nil, err
	}
	for _, f := range fields {
		if err := w.Write([]string{f.key, f.value}); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (e *Exporter) toPDF(id string, doc json.RawMessage) ([]byte, error) {
	var report models.Report
	if err := json.Unmarshal(doc, &report); err != nil {
		report = models.Report{}
	}

	pdf := NewPDFReport(fmt.Sprintf("Report %s", id), e.now())

	generated := "N/A"
	if report.Generated != "" {
		generated = models.DisplayTimestamp(report.Generated)
	}
	status := report.Status
	if status == "" {
		status = "Completed"
	}
	pdf.AddSection("Overview")
	pdf.AddFields([][2]string{
		{"Generated", generated},
		{"Status", status},
	})

	pdf.AddSection("Summary")
	summary := report.Summary
	if summary == "" {
		summary = "No summary available"
	}
	pdf.AddParagraph(summary)

	pdf.AddSection("Details")
	if metrics := numericMembers(report.Details); len(metrics) > 0 {
		pdf.AddChart("", metrics)
	}
	details := report.DetailsText()
	if details == "" {
		details = "No details available"
	}
	pdf.AddParagraph(details)

	fields, err := flatten(doc)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(fields))
	for _, f := range fields {
		switch f.key {
		case "summary", "details", "content", "generated", "generated_at", "status":
			continue
		}
		rows = append(rows, []string{f.key, truncate(f.value, 60)})
	}
	if len(rows) > 0 {
		pdf.AddSection("Document")
		pdf.AddTable([]string{"Field", "Value"}, rows)
	}

	return pdf.Output()
}

// numericMembers returns the integer members of an object value in key
// order, for the details chart.
func numericMembers(raw json.RawMessage) []Bar {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}

	var bars []Bar
	for k, v := range obj {
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			continue
		}
		i, err := n.Int64()
		if err != nil {
			continue
		}
		bars = append(bars, Bar{Label: k, Value: int(i)})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Label < bars[j].Label })
	return bars
}

// truncate shortens s to at most length runes, ellipsis included.
func truncate(s string, length int) string {
	if utf8.RuneCountInString(s) <= length {
		return s
	}
	if length <= 3 {
		return string([]rune(s)[:length])
	}
	return string([]rune(s)[:length-3]) + "..."
}
