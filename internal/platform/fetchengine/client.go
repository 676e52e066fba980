package fetchengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zardamhussain/outblog-crawl/internal/core/job"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
)

// Client talks to the external fetch/render engine over HTTP. The engine
// owns everything about actually loading pages; this service only moves
// descriptors in and documents out.
type Client struct {
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
		log:     logger.New("FetchEngine"),
	}
}

type scrapeRequest struct {
	URL     string              `json:"url"`
	Options job.ScrapeOptions   `json:"options"`
	Flags   job.InternalOptions `json:"flags"`
}

type linksRequest struct {
	URL   string `json:"url"`
	Limit int    `json:"limit"`
}

type linksResponse struct {
	Links []string `json:"links"`
}

// Scrape fetches a single URL through the engine.
func (c *Client) Scrape(ctx context.Context, desc *job.Descriptor) (*job.Document, error) {
	var doc job.Document
	err := c.post(ctx, "/scrape", scrapeRequest{
		URL:     desc.URL,
		Options: desc.ScrapeOptions,
		Flags:   desc.InternalOptions,
	}, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// DiscoverLinks expands a seed URL into candidate child links.
func (c *Client) DiscoverLinks(ctx context.Context, desc *job.Descriptor, limit int) ([]string, error) {
	var resp linksResponse
	if err := c.post(ctx, "/links", linksRequest{URL: desc.URL, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Links, nil
}

func (c *Client) post(ctx context.Context, path string, body, dest interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch engine %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		// The engine reports extraction failures as plain-text bodies;
		// surface them verbatim so callers can classify by message.
		return fmt.Errorf("%s", string(raw))
	}
	return json.Unmarshal(raw, dest)
}
