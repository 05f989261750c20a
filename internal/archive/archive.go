// Package archive stores verification reports outside the case store, either
// in an S3-compatible bucket or on the local filesystem.
package archive

import (
	"fmt"
	"path"
	"strings"
)

// cleanKey rejects keys that are empty, absolute or escape the archive root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid archive key %q", key)
	}
	cleaned := path.Clean(key)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("archive key %q escapes the archive root", key)
	}
	return cleaned, nil
}
