// Package archive copies downloaded report documents to object storage.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/qualys/compliance-console/internal/config"
	"github.com/qualys/compliance-console/internal/dashboard"
)

// Sink stores one object under key.
type Sink interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Close() error
}

// Archiver places documents under <prefix><yyyy>/<mm>/<dd>/<name> in a Sink.
type Archiver struct {
	sink   Sink
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

func NewArchiver(sink Sink, prefix string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		sink:   sink,
		prefix: normalizePrefix(prefix),
		logger: logger,
		now:    time.Now,
	}
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// Key returns the object key for a document named name.
func (a *Archiver) Key(name string) string {
	return a.prefix + a.now().UTC().Format("2006/01/02") + "/" + path.Base(name)
}

func (a *Archiver) Archive(ctx context.Context, name, contentType string, data []byte) error {
	key := a.Key(name)
	if err := a.sink.Put(ctx, key, contentType, data); err != nil {
		return fmt.Errorf("archiving %s: %w", key, err)
	}
	a.logger.Info("report archived", "key", key, "bytes", len(data))
	return nil
}

func (a *Archiver) Close() error {
	return a.sink.Close()
}

var _ dashboard.Archiver = (*Archiver)(nil)

// New builds the archiver for cfg. It returns nil when no provider is
// configured.
func New(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*Archiver, error) {
	var sink Sink
	var err error

	switch cfg.Provider {
	case "":
		return nil, nil
	case "s3":
		sink, err = NewS3Sink(ctx, S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	case "gcs":
		sink, err = NewGCSSink(ctx, GCSConfig{
			Bucket:          cfg.GCS.Bucket,
			CredentialsFile: cfg.GCS.CredentialsFile,
		})
	case "azure":
		sink, err = NewAzureSink(AzureConfig{
			AccountURL:   cfg.Azure.AccountURL,
			Container:    cfg.Azure.Container,
			TenantID:     cfg.Azure.TenantID,
			ClientID:     cfg.Azure.ClientID,
			ClientSecret: cfg.Azure.ClientSecret,
		})
	default:
		return nil, fmt.Errorf("unknown archive provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewArchiver(sink, cfg.Prefix, logger), nil
}
