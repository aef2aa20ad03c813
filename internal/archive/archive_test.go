package archive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qualys/compliance-console/internal/config"
)

type memorySink struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemorySink() *memorySink {
	return &memorySink{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memorySink) Put(ctx context.Context, key, contentType string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memorySink) Close() error { return nil }

func fixedArchiver(sink Sink, prefix string) *Archiver {
	a := NewArchiver(sink, prefix, nil)
	a.now = func() time.Time { return time.Date(2024, 6, 10, 23, 30, 0, 0, time.UTC) }
	return a
}

func TestArchiver_Key(t *testing.T) {
	tests := []struct {
		prefix string
		name   string
		want   string
	}{
		{"reports/", "report-1.json", "reports/2024/06/10/report-1.json"},
		{"/compliance/reports", "report-1.pdf", "compliance/reports/2024/06/10/report-1.pdf"},
		{"", "report-2.csv", "2024/06/10/report-2.csv"},
		{"reports", "../../etc/report-3.json", "reports/2024/06/10/report-3.json"},
	}

	for _, tt := range tests {
		a := fixedArchiver(newMemorySink(), tt.prefix)
		if got := a.Key(tt.name); got != tt.want {
			t.Errorf("Key(%q) with prefix %q = %q, want %q", tt.name, tt.prefix, got, tt.want)
		}
	}
}

func TestArchiver_Archive(t *testing.T) {
	sink := newMemorySink()
	a := fixedArchiver(sink, "reports/")

	if err := a.Archive(context.Background(), "report-1.json", "application/json", []byte(`{}`)); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	key := "reports/2024/06/10/report-1.json"
	if string(sink.objects[key]) != "{}" || sink.types[key] != "application/json" {
		t.Errorf("unexpected stored object %q (%s)", sink.objects[key], sink.types[key])
	}

	sink.err = errors.New("access denied")
	if err := a.Archive(context.Background(), "report-1.json", "application/json", nil); err == nil {
		t.Error("expected error")
	}
}

func TestNew_Disabled(t *testing.T) {
	a, err := New(context.Background(), config.ArchiveConfig{}, nil)
	if err != nil || a != nil {
		t.Errorf("expected nil archiver, got %v, %v", a, err)
	}

	if _, err := New(context.Background(), config.ArchiveConfig{Provider: "ftp"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestS3Sink_Put(t *testing.T) {
	var gotPath, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := NewS3Sink(context.Background(), S3Config{
		Bucket:          "compliance-archive",
		Region:          "us-east-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		Endpoint:        srv.URL,
	})
	if err != nil {
		t.Fatalf("NewS3Sink failed: %v", err)
	}

	err = sink.Put(context.Background(), "reports/2024/06/10/report-1.csv", "text/csv", []byte("Field,Value\n"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if gotPath != "/compliance-archive/reports/2024/06/10/report-1.csv" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotType != "text/csv" || gotBody != "Field,Value\n" {
		t.Errorf("unexpected object %q (%s)", gotBody, gotType)
	}
}
