package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zardamhussain/outblog-crawl/internal/core/job"
)

func TestResolveOptionsDefaults(t *testing.T) {
	opts, timeout, origin := resolveOptions(Request{URL: "https://example.com"})
	assert.True(t, opts.ParsePDF)
	assert.False(t, opts.OnlyMainContent)
	assert.Equal(t, defaultTimeoutMillis, timeout)
	assert.Equal(t, defaultOrigin, origin)
}

func TestResolveOptionsUserTimeoutWins(t *testing.T) {
	timeoutMs := 5000
	_, timeout, _ := resolveOptions(Request{URL: "https://example.com", Timeout: &timeoutMs})
	assert.Equal(t, 5000, timeout)
}

func TestResolveOptionsLLMRaisesTimeout(t *testing.T) {
	req := Request{
		URL: "https://example.com",
		ExtractorOptions: &ExtractorOptions{
			Mode:             "llm-extraction",
			ExtractionSchema: map[string]any{"type": "object"},
		},
	}
	opts, timeout, _ := resolveOptions(req)
	assert.True(t, opts.OnlyMainContent)
	assert.Equal(t, llmTimeoutMillis, timeout)
	assert.Equal(t, "llm-extraction", opts.ExtractorMode)

	// An explicit timeout still overrides the LLM default.
	userTimeout := 120000
	req.Timeout = &userTimeout
	_, timeout, _ = resolveOptions(req)
	assert.Equal(t, 120000, timeout)
}

func TestToLegacyContentMirrorsMarkdown(t *testing.T) {
	md := "# title"
	legacy := toLegacy(&job.Document{Markdown: &md})
	assert.Equal(t, md, legacy.Content)
	assert.Equal(t, &md, legacy.Markdown)

	assert.Nil(t, toLegacy(nil))
}
