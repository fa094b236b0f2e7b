package static

import (
	"path/filepath"
	"strings"
)

// DefaultContentType is served for unknown or missing extensions
const DefaultContentType = "application/octet-stream"

var mimeTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".txt":  "text/plain",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".wasm": "application/wasm",
}

// ContentType returns the MIME type for name based on its extension
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := mimeTypes[ext]; ok {
		return ct
	}
	return DefaultContentType
}
