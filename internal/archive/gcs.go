package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type GCSConfig struct {
	Bucket          string
	CredentialsFile string
}

type GCSSink struct {
	client *storage.Client
	bucket string
}

func NewGCSSink(ctx context.Context, cfg GCSConfig) (*GCSSink, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &GCSSink{client: client, bucket: cfg.Bucket}, nil
}

func (s *GCSSink) Put(ctx context.Context, key, contentType string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("writing gcs object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing gcs object: %w", err)
	}
	return nil
}

func (s *GCSSink) Close() error {
	return s.client.Close()
}
