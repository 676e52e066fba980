package blocklist

import (
	"net/url"
	"strings"
)

// BlocklistedURLMessage is the fixed message returned for any URL whose
// host is on the blocklist.
const BlocklistedURLMessage = "This website is not currently supported due to policy restrictions on automated access."

// Social networks and similar hosts whose terms forbid scraping. Matching
// covers the apex domain and any subdomain.
var blockedDomains = []string{
	"facebook.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"tiktok.com",
	"linkedin.com",
	"snapchat.com",
	"reddit.com",
	"pinterest.com",
	"whatsapp.com",
	"telegram.org",
	"wechat.com",
	"messenger.com",
}

// Allowed subpaths that are fine to fetch even on blocked hosts, e.g.
// public developer docs.
var allowedURLs = []string{
	"https://developers.facebook.com",
	"https://www.linkedin.com/pulse",
}

// IsBlocked reports whether the URL's host is on the blocklist. Unparsable
// URLs are treated as blocked; callers reject them anyway.
func IsBlocked(raw string) bool {
	for _, allowed := range allowedURLs {
		if strings.HasPrefix(strings.ToLower(raw), allowed) {
			return false
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return true
	}
	for _, blocked := range blockedDomains {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}
