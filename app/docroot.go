package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/searchktools/fast-static/core/static"
)

const welcomePage = `<!DOCTYPE html>
<html><head><title>fast-static</title></head>
<body><h1>Welcome to fast-static!</h1>
<p>Serving %s on port %d.</p>
</body></html>
`

// PrepareDocRoot creates the document root and writes the welcome page
// as its index file, replacing any existing one.
func PrepareDocRoot(root string, port int) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create document root: %w", err)
	}
	page := fmt.Sprintf(welcomePage, root, port)
	index := filepath.Join(root, static.IndexFile)
	if err := os.WriteFile(index, []byte(page), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", index, err)
	}
	return nil
}
