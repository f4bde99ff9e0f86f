package utils

import (
	"path/filepath"
	"strings"
)

const (
	FolderSuffix string = "/"
)

func IsFolder(path string) bool {
	return strings.HasSuffix(path, FolderSuffix)
}

// In Windows, filepath.Clean operation will replace all slashes '/'
// to backslashes '\\'
// This can mess-up with the code that makes path comparisons
func CleanPathKeepingUnixSlash(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

func JoinPathKeepingUnixSlash(elem ...string) string {
	return filepath.ToSlash(filepath.Join(elem...))
}

// CleanEntryName normalizes an archive entry name to a relative slash
// separated path. Directory names lose their trailing slash.
func CleanEntryName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = CleanPathKeepingUnixSlash("/" + name)
	return strings.TrimPrefix(name, "/")
}

// IsWithinRoot reports whether joining name under root stays inside root.
func IsWithinRoot(root, name string) bool {
	rel, err := filepath.Rel(root, filepath.Join(root, filepath.FromSlash(name)))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
