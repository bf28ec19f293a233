package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 12-hex-char random identifier, optionally prefixed
// (prj_, ch_, hl_, ...). Short enough to appear in URLs and filenames.
func NewID(prefix string) string {
	bytes := make([]byte, 6)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
