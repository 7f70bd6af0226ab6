package fetch

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxNameLen = 120

// NameFromURL derives the local file name for a download: the URL path's
// last segment folded to ASCII, or download_<seq>.csv when nothing usable is
// left.
func NameFromURL(rawURL string, seq int) string {
	fallback := fmt.Sprintf("download_%d.csv", seq)

	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}

	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return fallback
	}

	name := sanitize(base)
	ext := path.Ext(name)
	if name == "" || ext == "" || strings.Trim(name[:len(name)-len(ext)], "_.-") == "" {
		return fallback
	}

	if len(name) > maxNameLen {
		name = name[:maxNameLen-len(ext)] + ext
	}
	return name
}

func sanitize(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err == nil {
		name = folded
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	return strings.TrimLeft(b.String(), ".")
}
