// Package links finds download links to CSV files in message body text.
package links

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrNoLinks is reported when a body holds no CSV link. It never aborts a run.
var ErrNoLinks = errors.New("no .csv links found in message")

var (
	candidatePattern = regexp.MustCompile("(?i)\\bhttps?://[^\\s\"'<>`\\\\]+")
	trailingEntity   = regexp.MustCompile(`&(?:[a-zA-Z]{2,8}|#[0-9]{1,5});$`)
	// a comma or semicolon glued to the next scheme separates two URLs
	joinedURL = regexp.MustCompile(`(?i)[,;]https?://`)
)

const trailingPunct = ".,;:!?)]}*"

// Extract returns every http(s) URL in body whose path ends in ".csv",
// optionally followed by a query string. URLs are kept in first-seen order
// without exact duplicates, and each one is a substring of body.
func Extract(body string) []string {
	found := make([]string, 0)
	seen := make(map[string]struct{})

	for _, match := range candidatePattern.FindAllString(body, -1) {
		for _, candidate := range splitJoined(match) {
			link, ok := normalize(candidate)
			if !ok {
				continue
			}
			if _, dup := seen[link]; dup {
				continue
			}
			seen[link] = struct{}{}
			found = append(found, link)
		}
	}

	return found
}

// splitJoined cuts a match like "https://a/x.csv,https://a/y.csv" into its
// URLs. The separator stays with the left piece and is trimmed later.
func splitJoined(match string) []string {
	locs := joinedURL.FindAllStringIndex(match, -1)
	if len(locs) == 0 {
		return []string{match}
	}
	parts := make([]string, 0, len(locs)+1)
	start := 0
	for _, loc := range locs {
		parts = append(parts, match[start:loc[0]+1])
		start = loc[0] + 1
	}
	return append(parts, match[start:])
}

// IsCSV reports whether raw is an absolute http(s) URL whose path ends in ".csv".
func IsCSV(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if u.Host == "" || u.Fragment != "" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".csv")
}

// normalize trims the decoration text usually leaves around a URL and
// reports whether what remains is a CSV link. The result is always a prefix
// of candidate.
func normalize(candidate string) (string, bool) {
	link := candidate
	if idx := strings.IndexByte(link, '#'); idx >= 0 {
		link = link[:idx]
	}

	for link != "" {
		if loc := trailingEntity.FindStringIndex(link); loc != nil {
			link = link[:loc[0]]
			continue
		}
		if strings.IndexByte(trailingPunct, link[len(link)-1]) >= 0 {
			link = link[:len(link)-1]
			continue
		}
		break
	}

	if !IsCSV(link) {
		return "", false
	}
	return link, true
}
