package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterLinks(t *testing.T) {
	links := []string{
		"https://example.com/blog/post-1",
		"https://example.com/blog/post-2",
		"https://example.com/about",
		"https://example.com/admin/settings",
		"https://example.com",
		"://bad",
	}

	t.Run("no patterns keeps everything parsable", func(t *testing.T) {
		out := CrawlerOptions{}.FilterLinks(links)
		assert.Len(t, out, 5)
	})

	t.Run("includes restrict to matches", func(t *testing.T) {
		out := CrawlerOptions{IncludePaths: []string{"^/blog/"}}.FilterLinks(links)
		assert.Equal(t, []string{
			"https://example.com/blog/post-1",
			"https://example.com/blog/post-2",
		}, out)
	})

	t.Run("excludes drop matches", func(t *testing.T) {
		out := CrawlerOptions{ExcludePaths: []string{"^/admin"}}.FilterLinks(links)
		assert.NotContains(t, out, "https://example.com/admin/settings")
		assert.Len(t, out, 4)
	})

	t.Run("empty path treated as root", func(t *testing.T) {
		out := CrawlerOptions{IncludePaths: []string{"^/$"}}.FilterLinks(links)
		assert.Equal(t, []string{"https://example.com"}, out)
	})
}
