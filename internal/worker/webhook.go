package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/zardamhussain/outblog-crawl/internal/core/job"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
)

// WebhookSender delivers per-page and crawl-completion callbacks to the
// URL the caller registered. Delivery is best effort and asynchronous.
type WebhookSender struct {
	secret string
	client *http.Client
	log    *logger.Logger
}

func NewWebhookSender(secret string) *WebhookSender {
	return &WebhookSender{
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger.New("Webhook"),
	}
}

// SendDocument pushes one finished page.
func (w *WebhookSender) SendDocument(cfg *job.WebhookConfig, crawlID, jobID string, doc *job.Document) {
	go w.deliver(cfg, "crawl.page", map[string]interface{}{
		"crawl_id": crawlID,
		"job_id":   jobID,
		"data":     doc,
	})
}

// SendCompleted signals the end of a crawl.
func (w *WebhookSender) SendCompleted(cfg *job.WebhookConfig, crawlID string) {
	go w.deliver(cfg, "crawl.completed", map[string]interface{}{
		"crawl_id": crawlID,
	})
}

func (w *WebhookSender) deliver(cfg *job.WebhookConfig, event string, payload map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	payload["event"] = event
	body, err := json.Marshal(payload)
	if err != nil {
		w.log.LogErrorf("failed to marshal %s webhook payload: %v", event, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewBuffer(body))
	if err != nil {
		w.log.LogErrorf("failed to create %s webhook request: %v", event, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "OutblogCrawl/1.0")
	req.Header.Set("X-Outblog-Event", event)

	if w.secret != "" {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("X-System-Timestamp", timestamp)
		req.Header.Set("X-System-Signature", w.sign(timestamp, body))
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.LogWarnf("failed to send %s webhook to %s: %v", event, cfg.URL, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.log.LogWarnf("%s webhook to %s returned status %d", event, cfg.URL, resp.StatusCode)
	}
}

func (w *WebhookSender) sign(timestamp string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(w.secret))
	h.Write([]byte(timestamp + string(payload)))
	return hex.EncodeToString(h.Sum(nil))
}
