package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		path     string
		wantKind string
		wantOK   bool
	}{
		{"/a/b/IMG_0001.JPG", "photo", true},
		{"/a/b/photo.heic", "photo", true},
		{"/a/b/clip.MOV", "video", true},
		{"/a/b/clip.mkv", "video", true},
		{"/a/b/notes.txt", "", false},
		{"/a/b/noext", "", false},
	}
	for _, c := range cases {
		kind, ok := classify(c.path)
		assert.Equal(t, c.wantOK, ok, c.path)
		assert.Equal(t, c.wantKind, kind, c.path)
	}
}

func TestIsIgnoredDir(t *testing.T) {
	assert.True(t, isIgnoredDir(".git", nil))
	assert.True(t, isIgnoredDir("node_modules", nil))
	assert.False(t, isIgnoredDir("Vacation2024", nil))

	extra := map[string]bool{"Staging": true}
	assert.True(t, isIgnoredDir("Staging", extra))
	assert.False(t, isIgnoredDir("Staging", nil))
}
