package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/mmdatafocus/recipe_integrity/config"
)

// NewGCSClient prefers explicit credentials JSON and falls back to Application
// Default Credentials.
func NewGCSClient(ctx context.Context, settings config.ReportSettings) (*storage.Client, error) {
	if credJSON := strings.TrimSpace(settings.GCSCredentialsJSON); credJSON != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// ObjectName is the bucket path of a health export taken at t.
func ObjectName(t time.Time) string {
	return fmt.Sprintf("integrity/health-%s.xlsx", t.UTC().Format("20060102-150405"))
}

func UploadToGCS(ctx context.Context, client *storage.Client, bucket, object string, data []byte) error {
	if client == nil {
		return errors.New("gcs client is nil")
	}
	if strings.TrimSpace(bucket) == "" {
		return errors.New("GCS_BUCKET is required")
	}
	if strings.TrimSpace(object) == "" {
		return errors.New("object name is required")
	}

	wc := client.Bucket(bucket).Object(object).NewWriter(ctx)
	wc.ContentType = ContentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("upload %s/%s: %w", bucket, object, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, object, err)
	}
	return nil
}
