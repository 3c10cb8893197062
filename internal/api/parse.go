// Package api is the HTTP frontend: URL grammar, CORS and logging middleware,
// the streaming endpoint, the status document, and the watch page.
package api

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/arclight-labs/streamgate/internal/errdefs"
)

// hashLength is the fixed length of the opaque URL hash.
const hashLength = 6

var (
	// combinedShape matches "<hash><message_id>": exactly six hash characters
	// followed by digits. The hash alphabet includes digits, so the first six
	// characters always belong to the hash.
	combinedShape = regexp.MustCompile(`^([A-Za-z0-9_-]{6})([0-9]+)$`)

	idShape   = regexp.MustCompile(`^[0-9]+$`)
	hashShape = regexp.MustCompile(`^[A-Za-z0-9_-]{6}$`)
)

// ParseFilePath extracts (messageID, hash) from a file endpoint path.
//
// Two shapes are accepted: "/<hash><id>" with the hash inlined, and "/<id>"
// with the hash carried in the query string. Anything after a second slash is
// ignored, which lets clients append a display filename. The hash is checked
// for form only, never against descriptor contents.
func ParseFilePath(path, queryHash string) (int, string, error) {
	segment := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(segment, '/'); i >= 0 {
		segment = segment[:i]
	}
	if segment == "" {
		return 0, "", errdefs.ErrInvalidURL
	}

	if queryHash != "" {
		if !hashShape.MatchString(queryHash) || !idShape.MatchString(segment) {
			return 0, "", errdefs.ErrInvalidURL
		}
		return parseMessageID(segment, queryHash)
	}

	m := combinedShape.FindStringSubmatch(segment)
	if m == nil {
		return 0, "", errdefs.ErrInvalidURL
	}
	return parseMessageID(m[2], m[1])
}

func parseMessageID(digits, hash string) (int, string, error) {
	id, err := strconv.Atoi(digits)
	if err != nil || id <= 0 {
		return 0, "", errdefs.ErrInvalidURL
	}
	return id, hash, nil
}
