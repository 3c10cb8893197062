package api

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arclight-labs/streamgate/internal/metadata"
)

var watchTemplate = template.Must(template.New("watch").Parse(watchPage))

const watchPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { margin: 0; background: #111; color: #eee; font-family: sans-serif; display: flex; flex-direction: column; align-items: center; }
h1 { font-size: 1rem; font-weight: normal; margin: 1rem; word-break: break-all; }
video, audio { max-width: 95vw; max-height: 80vh; outline: none; }
a { color: #6af; }
p { margin: 1rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{if .IsVideo}}<video controls autoplay src="{{.StreamURL}}" type="{{.MimeType}}"></video>
{{else if .IsAudio}}<audio controls autoplay src="{{.StreamURL}}" type="{{.MimeType}}"></audio>
{{else}}<p>No inline preview for this file type.</p>{{end}}
<p><a href="{{.StreamURL}}" download="{{.Title}}">Download</a></p>
</body>
</html>
`

type watchData struct {
	Title     string
	StreamURL string
	MimeType  string
	IsVideo   bool
	IsAudio   bool
}

// handleWatch renders the HTML preview page for a file.
func (s *Server) handleWatch(c *gin.Context) {
	messageID, hash, err := ParseFilePath(c.Param("path"), c.Query("hash"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	desc, err := s.resolver.Resolve(c.Request.Context(), messageID)
	if err != nil {
		if metadata.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		s.internalError(c, err, "descriptor resolution failed")
		return
	}

	data := watchData{
		Title:     desc.FileName,
		StreamURL: fmt.Sprintf("/%s%d", hash, messageID),
		MimeType:  desc.MimeType,
		IsVideo:   strings.HasPrefix(desc.MimeType, "video/") || desc.MediaKind == metadata.KindVideo,
		IsAudio:   strings.HasPrefix(desc.MimeType, "audio/") || desc.MediaKind == metadata.KindAudio,
	}

	var buf bytes.Buffer
	if err := watchTemplate.Execute(&buf, data); err != nil {
		s.internalError(c, err, "watch page rendering failed")
		return
	}

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	if c.Request.Method == http.MethodHead {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.Status(http.StatusOK)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
