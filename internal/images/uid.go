package images

import (
	"encoding/hex"

	"github.com/zeebo/xxh3"
)

// FingerprintURL derives the stable identity of a source URL. Submitting the
// same URL twice always lands on the same record because the uid column is
// unique on this value.
func FingerprintURL(rawURL string) string {
	sum := xxh3.Hash128([]byte(rawURL)).Bytes()
	return hex.EncodeToString(sum[:])
}
