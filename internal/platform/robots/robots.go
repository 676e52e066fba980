package robots

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/zardamhussain/outblog-crawl/internal/logger"
)

// UserAgent identifies the crawler in robots.txt group matching.
const UserAgent = "OutblogCrawlAgent"

const fetchTimeout = 10 * time.Second

// Result is a fetched and parsed robots.txt.
type Result struct {
	Raw  string
	data *robotstxt.RobotsData
}

// CrawlDelay returns the crawl delay the site requests for our agent, or
// zero when none is specified.
func (r *Result) CrawlDelay() time.Duration {
	if r == nil || r.data == nil {
		return 0
	}
	g := r.data.FindGroup(UserAgent)
	if g == nil {
		return 0
	}
	return g.CrawlDelay
}

// Allowed reports whether the given path may be fetched by our agent.
func (r *Result) Allowed(path string) bool {
	if r == nil || r.data == nil {
		return true
	}
	return r.data.TestAgent(path, UserAgent)
}

type Client struct {
	log *logger.Logger
}

func NewClient() *Client { return &Client{log: logger.New("Robots")} }

// Fetch downloads and parses robots.txt for the origin of the given URL.
// TLS verification can be skipped to match the crawl's fetch settings.
func (c *Client) Fetch(ctx context.Context, originURL string, skipTLSVerification bool) (*Result, error) {
	u, err := url.Parse(originURL)
	if err != nil {
		return nil, err
	}
	robotsURL := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}

	transport := &http.Transport{}
	if skipTLSVerification {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := &http.Client{Timeout: fetchTimeout, Transport: transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("robots.txt fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, err
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, err
	}
	return &Result{Raw: string(body), data: data}, nil
}

// Parse builds a Result from raw robots.txt content, e.g. one stored on a
// crawl record.
func Parse(raw string) (*Result, error) {
	data, err := robotstxt.FromString(raw)
	if err != nil {
		return nil, err
	}
	return &Result{Raw: raw, data: data}, nil
}
