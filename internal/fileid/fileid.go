// Package fileid generates document file IDs.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"github.com/google/uuid"
)

const prefix = "file:"

// New returns a random file ID for an uploaded document.
func New() string {
	return uuid.New().String()
}

// ForPath returns a stable file ID for a user's inbox file, so the watcher can find the
// document again when the file changes or disappears. The path is cleaned first.
func ForPath(userID, absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(userID + "\x00" + normalized))
	return prefix + hex.EncodeToString(hash[:])
}
