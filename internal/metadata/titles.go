package metadata

import (
	"regexp"
	"strings"
)

var (
	// Chinese numerals need the 第 prefix so titles like 我的四季 survive.
	cjkSeasonRe = regexp.MustCompile(`[\s\x{3000}]*[（(]?(?:第[0-9一二三四五六七八九十百零]+|[0-9]+)季[）)]?[\s\x{3000}]*$`)
	engSeasonRe = regexp.MustCompile(`(?i)[\s\x{3000}]*[（(]?season\s*[0-9]+[）)]?[\s\x{3000}]*$`)
)

// NormalizeTitle strips season annotations such as "第二季", "第2季",
// "（第十二季）" or "(Season 3)". A title that is nothing but a season clause
// is returned trimmed but otherwise unchanged.
func NormalizeTitle(title string) string {
	out := cjkSeasonRe.ReplaceAllString(title, "")
	out = engSeasonRe.ReplaceAllString(out, "")
	out = strings.TrimSpace(out)
	if out == "" {
		return strings.TrimSpace(title)
	}
	return out
}

// titleSet returns the distinct raw and normalized forms of title.
func titleSet(title string) []string {
	raw := strings.TrimSpace(title)
	norm := NormalizeTitle(raw)
	if raw == "" {
		return nil
	}
	if norm == raw {
		return []string{raw}
	}
	return []string{raw, norm}
}
