// Package naming generates collision-resistant, sharded storage keys.
package naming

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

// NewKey returns a storage key base of the form aa/bb/cc/<40 hex chars>,
// where the leading path segments are the first three byte-pairs of the token
// itself. The 160 bits of randomness make collisions practically impossible
// while the shards bound per-directory fan-out on filesystem disks. Callers
// append suffixes and an extension.
func NewKey() (string, error) {
	var raw [20]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	token := hex.EncodeToString(raw[:])
	return path.Join(token[0:2], token[2:4], token[4:6], token), nil
}

// WithExtension appends a normalized extension to a key base.
func WithExtension(key, extension string) string {
	extension = strings.TrimPrefix(strings.TrimSpace(extension), ".")
	if extension == "" {
		return key
	}
	return key + "." + extension
}

// TrimExtension strips the extension from a key, preserving its directory part.
func TrimExtension(key string) string {
	ext := path.Ext(key)
	return strings.TrimSuffix(key, ext)
}
