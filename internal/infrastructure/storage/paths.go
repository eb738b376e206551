package storage

import (
	"fmt"
	"strings"
	"time"
)

// Object paths are derived, never stored as state. Processed paths are
// stable per item so regeneration overwrites in place; original paths get
// a timestamp so repeated uploads never collide.

// OriginalPath returns the timestamped pre-removal location for an upload.
func OriginalPath(ownerID, itemID, ext string) string {
	return fmt.Sprintf("original/%s/%s_%d.%s", ownerID, itemID, time.Now().UnixNano(), ext)
}

// ProcessedPath returns the stable post-removal location for an item.
func ProcessedPath(ownerID, itemID, ext string) string {
	return fmt.Sprintf("processed/%s/%s.%s", ownerID, itemID, ext)
}

// IsOriginalPath reports whether key addresses the pre-removal class.
func IsOriginalPath(key string) bool {
	return strings.HasPrefix(key, "original/")
}
