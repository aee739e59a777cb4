package util

import (
	"strings"
	"unicode/utf8"
)

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// CleanTags trims each tag, drops a leading '#', and removes empty and
// case-insensitive duplicate tags. Tags are otherwise kept as written.
func CleanTags(tags []string) []string {
	cleanTags := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))

	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		tag = strings.TrimSpace(strings.TrimPrefix(tag, "#"))
		if tag == "" || seen[strings.ToLower(tag)] {
			continue
		}
		seen[strings.ToLower(tag)] = true
		cleanTags = append(cleanTags, tag)
	}

	return cleanTags
}

// CapTags returns at most max tags, keeping order.
func CapTags(tags []string, max int) []string {
	if len(tags) <= max {
		return tags
	}
	return tags[:max]
}
