package server

import (
	"os"
	"path/filepath"
	"strings"
)

// StaticProvider serves file content for GET paths no route matched
type StaticProvider interface {
	Open(path string) ([]byte, bool)
}

// DirProvider reads static files from a directory on disk
type DirProvider struct {
	Root string
}

// Open maps a request path to a file under Root. "/" serves index.html.
// Paths escaping Root and directories are reported absent.
func (d DirProvider) Open(path string) ([]byte, bool) {
	if path == "/" || path == "" {
		path = "/index.html"
	}

	absBaseDir, err := filepath.Abs(d.Root)
	if err != nil {
		return nil, false
	}
	absFilePath, err := filepath.Abs(filepath.Join(d.Root, filepath.FromSlash(path)))
	if err != nil {
		return nil, false
	}
	if absFilePath != absBaseDir && !strings.HasPrefix(absFilePath, absBaseDir+string(filepath.Separator)) {
		return nil, false
	}

	info, err := os.Stat(absFilePath)
	if err != nil || info.IsDir() {
		return nil, false
	}
	return readFileContent(absFilePath)
}

// readFileContent reads entire file content
func readFileContent(filePath string) ([]byte, bool) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, false
	}
	return content, true
}
