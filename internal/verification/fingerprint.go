package verification

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Fingerprint returns the hex SHA-256 digest of everything read from r.
// Only the content matters; names, MIME types and timestamps never reach it.
func Fingerprint(r io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", fmt.Errorf("reading file content: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

