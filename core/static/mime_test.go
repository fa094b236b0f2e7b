package static

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentTypeKnown(t *testing.T) {
	for ext, want := range mimeTypes {
		assert.Equal(t, want, ContentType("/dir/file"+ext), ext)
	}
}

func TestContentTypeFallback(t *testing.T) {
	for _, name := range []string{"/file.xyz", "/Makefile", "/dir.d/noext", "/trailing."} {
		assert.Equal(t, DefaultContentType, ContentType(name), name)
	}
}

func TestContentTypeIgnoresCase(t *testing.T) {
	assert.Equal(t, "image/png", ContentType("/LOGO.PNG"))
	assert.Equal(t, "text/html", ContentType("/Index.Html"))
}
