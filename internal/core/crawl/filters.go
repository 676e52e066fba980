package crawl

import (
	"net/url"
	"regexp"
)

// FilterLinks applies the crawl's include/exclude path patterns to a set
// of discovered links. Patterns were validated at admission, so a pattern
// that fails to compile here is skipped rather than failing the batch.
func (o CrawlerOptions) FilterLinks(links []string) []string {
	includes := compileAll(o.IncludePaths)
	excludes := compileAll(o.ExcludePaths)

	out := make([]string, 0, len(links))
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil {
			continue
		}
		path := u.Path
		if path == "" {
			path = "/"
		}
		if len(includes) > 0 && !anyMatch(includes, path) {
			continue
		}
		if anyMatch(excludes, path) {
			continue
		}
		out = append(out, link)
	}
	return out
}

func compileAll(patterns []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			res = append(res, re)
		}
	}
	return res
}

func anyMatch(res []*regexp.Regexp, path string) bool {
	for _, re := range res {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
