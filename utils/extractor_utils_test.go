package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFolder(t *testing.T) {
	assert.True(t, IsFolder("dir/"))
	assert.True(t, IsFolder("dir/sub/"))
	assert.False(t, IsFolder("dir/file.txt"))
}

func TestCleanEntryName(t *testing.T) {
	assert.Equal(t, "a/b.txt", CleanEntryName("./a/b.txt"))
	assert.Equal(t, "a/b", CleanEntryName("/a/b/"))
	assert.Equal(t, "etc/passwd", CleanEntryName("../../etc/passwd"))
	assert.Equal(t, "a/b.txt", CleanEntryName("a\\b.txt"))
	assert.Equal(t, "", CleanEntryName("./"))
}

func TestIsWithinRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	assert.True(t, IsWithinRoot(root, "a/b.txt"))
	assert.True(t, IsWithinRoot(root, "a/../b.txt"))
	assert.False(t, IsWithinRoot(root, "../escape.txt"))
	assert.False(t, IsWithinRoot(root, "a/../../escape.txt"))
}

func TestJoinPathKeepingUnixSlash(t *testing.T) {
	assert.Equal(t, "a/b/c", JoinPathKeepingUnixSlash("a", "b", "c"))
	assert.Equal(t, "a/c", CleanPathKeepingUnixSlash("a/b/../c"))
}
