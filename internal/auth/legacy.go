package auth

import (
	"crypto/md5" //nolint:gosec // legacy digest parity only, never the default
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
)

// LegacyMD5Hasher reproduces the unsalted MD5 hex digests written by older
// deployments of this system.
//
// WARNING: an unsalted, non-iterated digest falls to precomputed tables in
// seconds. It exists so that existing databases keep working and so that
// ChainHasher can upgrade those digests on the next successful login. Select
// it as the primary hasher only for compatibility testing.
type LegacyMD5Hasher struct{}

var _ Scheme = (*LegacyMD5Hasher)(nil)

// NewLegacyMD5Hasher creates the hasher and logs a warning every time it is
// constructed, so the choice is visible in the service logs.
func NewLegacyMD5Hasher(logger *slog.Logger) *LegacyMD5Hasher {
	logger.Warn("legacy MD5 password digests enabled; these are unsalted and unsuitable for new passwords")
	return &LegacyMD5Hasher{}
}

func (h *LegacyMD5Hasher) Hash(plaintext string) (string, error) {
	sum := md5.Sum([]byte(plaintext)) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}

// Verify compares the lowercase hex digests byte for byte. Upper-case or
// padded digests do not match.
func (h *LegacyMD5Hasher) Verify(plaintext, digest string) bool {
	computed, _ := h.Hash(plaintext)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

func (h *LegacyMD5Hasher) NeedsRehash(digest string) bool {
	return !h.Recognizes(digest)
}

// Recognizes matches exactly 32 lowercase hex characters.
func (h *LegacyMD5Hasher) Recognizes(digest string) bool {
	if len(digest) != 2*md5.Size {
		return false
	}
	for _, c := range digest {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
