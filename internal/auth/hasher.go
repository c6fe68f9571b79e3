package auth

import (
	"fmt"
	"log/slog"
	"strings"
)

// Hasher turns a plaintext password into a storable digest and checks a
// plaintext against one.
//
// Verify is a pure function of (plaintext, digest): it never errors and a
// malformed digest is just a mismatch. It performs one exact comparison,
// with no case folding or whitespace trimming.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
	// NeedsRehash reports whether digest should be replaced by a fresh
	// Hash of the same plaintext after a successful Verify.
	NeedsRehash(digest string) bool
}

// Scheme is a Hasher that can tell its own digests apart from others'.
type Scheme interface {
	Hasher
	Recognizes(digest string) bool
}

// FederatedDigest is stored as the password digest of accounts created
// through an external identity provider. No Scheme ever produces a digest
// starting with '!', so no plaintext can verify against it.
const FederatedDigest = "!federated-login-only"

// IsFederatedDigest reports whether digest is the federated sentinel.
func IsFederatedDigest(digest string) bool {
	return strings.HasPrefix(digest, "!")
}

// ChainHasher hashes with a primary scheme and verifies digests written by
// the primary or by any configured legacy scheme.
//
// UPGRADE PATH:
// A database migrated from an MD5 deployment holds 32-char hex digests.
// With ChainHasher{primary: bcrypt, legacy: [md5]} those users can still log
// in; NeedsRehash then reports true and the Authenticator stores a bcrypt
// digest in its place.
type ChainHasher struct {
	primary Scheme
	legacy  []Scheme
}

var _ Hasher = (*ChainHasher)(nil)

// NewChainHasher creates a ChainHasher. legacy may be empty.
func NewChainHasher(primary Scheme, legacy ...Scheme) *ChainHasher {
	return &ChainHasher{primary: primary, legacy: legacy}
}

func (c *ChainHasher) Hash(plaintext string) (string, error) {
	return c.primary.Hash(plaintext)
}

// Verify dispatches on the digest format. Exactly one scheme is consulted.
func (c *ChainHasher) Verify(plaintext, digest string) bool {
	if digest == "" || IsFederatedDigest(digest) {
		return false
	}
	if c.primary.Recognizes(digest) {
		return c.primary.Verify(plaintext, digest)
	}
	for _, s := range c.legacy {
		if s.Recognizes(digest) {
			return s.Verify(plaintext, digest)
		}
	}
	return false
}

func (c *ChainHasher) NeedsRehash(digest string) bool {
	if IsFederatedDigest(digest) {
		return false
	}
	return !c.primary.Recognizes(digest) || c.primary.NeedsRehash(digest)
}

// HasherConfig selects the password hashing scheme.
type HasherConfig struct {
	Algorithm      string // "bcrypt" (default), "argon2id" or "md5-legacy"
	BcryptCost     int
	AllowLegacyMD5 bool // verify and upgrade existing MD5 digests
}

// NewHasher builds the Hasher described by cfg.
func NewHasher(cfg HasherConfig, logger *slog.Logger) (*ChainHasher, error) {
	var primary Scheme
	switch cfg.Algorithm {
	case "", "bcrypt":
		primary = NewBcryptHasher(cfg.BcryptCost)
	case "argon2id":
		primary = NewArgon2idHasher()
	case "md5-legacy":
		return NewChainHasher(NewLegacyMD5Hasher(logger)), nil
	default:
		return nil, fmt.Errorf("auth: unknown hasher %q", cfg.Algorithm)
	}

	var legacy []Scheme
	if _, ok := primary.(*BcryptHasher); !ok {
		legacy = append(legacy, NewBcryptHasher(cfg.BcryptCost))
	}
	if _, ok := primary.(*Argon2idHasher); !ok {
		legacy = append(legacy, NewArgon2idHasher())
	}
	if cfg.AllowLegacyMD5 {
		legacy = append(legacy, NewLegacyMD5Hasher(logger))
	}
	return NewChainHasher(primary, legacy...), nil
}
