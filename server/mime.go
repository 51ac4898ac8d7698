package server

import (
	"mime"
	"path/filepath"
	"strings"
)

// extensionTypes seeds the mime registry so lookups do not depend on the
// host's mime.types files
var extensionTypes = map[string]string{
	// Text formats
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".txt":  "text/plain",
	".text": "text/plain",
	".xml":  "application/xml",
	".csv":  "text/csv",

	// Images
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".ico":  "image/x-icon",

	// Media
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",

	// Fonts
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",

	// Documents and archives
	".pdf": "application/pdf",
	".zip": "application/zip",
	".gz":  "application/gzip",
}

func init() {
	for ext, typ := range extensionTypes {
		mime.AddExtensionType(ext, typ)
	}
}

// ContentTypeFor determines the MIME type from a file extension
func ContentTypeFor(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if typ, ok := extensionTypes[ext]; ok {
		return typ
	}
	if typ := mime.TypeByExtension(ext); typ != "" {
		return typ
	}
	return "application/octet-stream"
}
