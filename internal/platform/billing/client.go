package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zardamhussain/outblog-crawl/internal/core/credit"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
)

// Client talks to the external billing backend. It implements the credit
// gate's RechargeSource and Recharger as well as the aggregator's Ledger.
type Client struct {
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

func New(baseURL string) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     logger.New("BillingAPI"),
	}
}

func (c *Client) AutoRechargeConfig(ctx context.Context, teamID string) (credit.AutoRechargeConfig, error) {
	var cfg credit.AutoRechargeConfig
	err := c.get(ctx, "/teams/"+teamID+"/auto-recharge", &cfg)
	return cfg, err
}

func (c *Client) Recharge(ctx context.Context, teamID string) (*credit.Chunk, error) {
	var chunk credit.Chunk
	if err := c.post(ctx, "/teams/"+teamID+"/recharge", nil, &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

func (c *Client) RecordUsage(ctx context.Context, events []credit.BillingEvent) error {
	return c.post(ctx, "/usage", map[string]interface{}{"events": events}, nil)
}

func (c *Client) get(ctx context.Context, path string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, dest)
}

func (c *Client) post(ctx context.Context, path string, body, dest interface{}) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("billing backend returned status %d for %s", resp.StatusCode, req.URL.Path)
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
