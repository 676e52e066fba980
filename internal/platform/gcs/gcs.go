package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/storage"

	"github.com/zardamhussain/outblog-crawl/internal/core/job"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
)

// Mirror writes scrape results to a GCS bucket when one is configured.
// A nil Mirror (no bucket) is valid and disables mirroring.
type Mirror struct {
	bucket string
	client *storage.Client
	log    *logger.Logger
}

// New builds a mirror for the given bucket, or nil when the bucket name is
// empty.
func New(ctx context.Context, bucket string) (*Mirror, error) {
	if bucket == "" {
		return nil, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &Mirror{bucket: bucket, client: client, log: logger.New("GCSMirror")}, nil
}

func (m *Mirror) Enabled() bool { return m != nil }

func (m *Mirror) Bucket() string {
	if m == nil {
		return ""
	}
	return m.bucket
}

func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	return m.client.Close()
}

// StoreDocument mirrors a job's document under scrape-results/<job_id>.json.
// Callers treat this as fire and forget; errors are logged here.
func (m *Mirror) StoreDocument(jobID string, doc *job.Document) {
	if m == nil || doc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	w := m.client.Bucket(m.bucket).Object("scrape-results/" + jobID + ".json").NewWriter(ctx)
	w.ContentType = "application/json"
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		m.log.LogWarnf("failed to encode document for job %s: %v", jobID, err)
		_ = w.Close()
		return
	}
	if err := w.Close(); err != nil {
		m.log.LogWarnf("failed to mirror document for job %s: %v", jobID, err)
		return
	}
	m.log.LogDebugf("mirrored document for job %s to gs://%s", jobID, m.bucket)
}
