package notify

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

	"github.com/zardamhussain/outblog-crawl/internal/logger"
)

// Type identifies a team-facing notification.
type Type string

const (
	TypeLimitReached     Type = "LIMIT_REACHED"
	TypeApproachingLimit Type = "APPROACHING_LIMIT"
)

// Notifier delivers credit notifications. Implementations must not block
// the caller; delivery is best effort and failures stay internal.
type Notifier interface {
	Notify(ctx context.Context, teamID string, typ Type)
}

// WebhookNotifier POSTs notifications to the billing backend, signed with
// an HMAC so the receiver can authenticate the sender.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	log    *logger.Logger
}

func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger.New("Notify"),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, teamID string, typ Type) {
	if n.url == "" {
		n.log.LogDebugf("notification %s for team %s skipped, no webhook configured", typ, teamID)
		return
	}
	go n.deliver(teamID, typ)
}

func (n *WebhookNotifier) deliver(teamID string, typ Type) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	payload := map[string]interface{}{
		"team_id": teamID,
		"type":    string(typ),
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.log.LogErrorf("failed to marshal notification for team %s: %v", teamID, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewBuffer(body))
	if err != nil {
		n.log.LogErrorf("failed to create notification request for team %s: %v", teamID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Outblog-Event", "credit."+string(typ))

	if n.secret != "" {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("X-System-Timestamp", timestamp)
		req.Header.Set("X-System-Signature", n.sign(timestamp, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.LogWarnf("failed to deliver %s notification for team %s: %v", typ, teamID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.log.LogWarnf("notification webhook returned status %d for team %s", resp.StatusCode, teamID)
	}
}

func (n *WebhookNotifier) sign(timestamp string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(n.secret))
	h.Write([]byte(timestamp + string(payload)))
	return hex.EncodeToString(h.Sum(nil))
}
