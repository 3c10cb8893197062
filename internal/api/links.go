package api

import (
	"fmt"
	"strings"
)

// HashFor derives the URL hash from a descriptor's opaque unique ID.
func HashFor(uniqueID string) string {
	if len(uniqueID) < hashLength {
		return uniqueID
	}
	return uniqueID[:hashLength]
}

// BuildURL renders the combined-shape download link, "<base>/<hash><id>".
func BuildURL(base string, messageID int, hash string) string {
	return fmt.Sprintf("%s/%s%d", strings.TrimRight(base, "/"), hash, messageID)
}

// BuildQueryURL renders the query-shape download link, "<base>/<id>?hash=".
func BuildQueryURL(base string, messageID int, hash string) string {
	return fmt.Sprintf("%s/%d?hash=%s", strings.TrimRight(base, "/"), messageID, hash)
}

// BuildWatchURL renders the HTML preview link.
func BuildWatchURL(base string, messageID int, hash string) string {
	return fmt.Sprintf("%s/watch/%s%d", strings.TrimRight(base, "/"), hash, messageID)
}
