package dispatch

import (
	"net/url"
	"strings"
)

// ValidURL reports whether raw is a well-formed absolute http(s) URL.
func ValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ExtractURLs returns the syntactically valid http(s) URLs in body, in
// order of appearance.
func ExtractURLs(body string) []string {
	var urls []string
	for _, word := range strings.Fields(body) {
		if !strings.HasPrefix(word, "http://") && !strings.HasPrefix(word, "https://") {
			continue
		}
		if ValidURL(word) {
			urls = append(urls, word)
		}
	}
	return urls
}
