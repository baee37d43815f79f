package http

import (
	"path"
	"strings"
)

// DefaultContentType is used for unknown suffixes.
const DefaultContentType = "text/plain"

var suffixType = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/nsword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".ico":   "image/x-icon",
	".svg":   "image/svg+xml",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".mp4":   "video/mp4",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".zip":   "application/zip",
	".json":  "application/json",
	".css":   "text/css",
	".js":    "text/javascript",
}

// ContentType maps the suffix of p to a MIME type.
func ContentType(p string) string {
	ext := path.Ext(p)
	if ext == "" {
		return DefaultContentType
	}
	if t, ok := suffixType[strings.ToLower(ext)]; ok {
		return t
	}
	return DefaultContentType
}
