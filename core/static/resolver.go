// Package static maps request targets onto files below a document root.
package static

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrForbidden   = errors.New("path escapes document root")
	ErrNotFound    = errors.New("file not found")
	ErrReadFailure = errors.New("file read failed")
)

// IndexFile is appended to targets ending in a slash
const IndexFile = "index.html"

// File is a fully read file ready to be sent
type File struct {
	Path        string
	ContentType string
	Body        []byte
}

// Resolver serves files from a fixed document root
type Resolver struct {
	root string
}

// NewResolver returns a Resolver for root. The root must exist; it is
// made absolute and its own symlinks are resolved once.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("document root %q: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("document root %q: %w", root, err)
	}
	return &Resolver{root: resolved}, nil
}

// Root returns the resolved document root
func (r *Resolver) Root() string { return r.root }

// locate maps target to a path inside the root without reading it.
func (r *Resolver) locate(target string) (string, error) {
	// Coarse guard first: any ".." is refused, wherever it appears,
	// query and fragment included.
	if strings.Contains(target, "..") {
		return "", ErrForbidden
	}
	if i := strings.IndexAny(target, "?#"); i != -1 {
		target = target[:i]
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	if strings.HasSuffix(target, "/") {
		target += IndexFile
	}

	full := filepath.Join(r.root, filepath.FromSlash(target))

	// Then the real one: after following symlinks the file must still
	// live under the root.
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", ErrNotFound
	}
	if !within(r.root, resolved) {
		return "", ErrForbidden
	}
	return resolved, nil
}

// Resolve locates target and reads the whole file
func (r *Resolver) Resolve(target string) (*File, error) {
	path, err := r.locate(target)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, ErrNotFound
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrReadFailure, path, err)
	}
	if st.IsDir() {
		return nil, ErrNotFound
	}

	size := st.Size()
	body := make([]byte, size)
	n, err := io.ReadFull(f, body)
	if err != nil || int64(n) != size {
		return nil, fmt.Errorf("%w: read %s: %d of %d bytes", ErrReadFailure, path, n, size)
	}

	return &File{
		Path:        path,
		ContentType: ContentType(path),
		Body:        body,
	}, nil
}

func within(root, path string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
