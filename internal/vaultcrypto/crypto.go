// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

// Package vaultcrypto wraps the primitives the vault is built on:
// AES-256-GCM, Argon2id, Ed25519 and SHA-256. Every operation is total and
// failure-typed; nothing here logs, retries or interprets.
package vaultcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"io"

	"github.com/cloudflare/circl/sign/ed25519"
	"golang.org/x/crypto/argon2"
)

const (
	KeySize   = 32
	SaltSize  = 16
	NonceSize = 12
	TagSize   = 16

	SeedSize      = ed25519.SeedSize
	PublicKeySize = ed25519.PublicKeySize
	SignatureSize = ed25519.SignatureSize
)

var (
	ErrBadKeyLength = errors.New("key must be 32 bytes")
	ErrTagMismatch  = errors.New("authentication tag mismatch")
)

// KDFParams are the Argon2id inputs. They are persisted in the vault
// Metadata so a future reader reproduces the exact derivation.
type KDFParams struct {
	Time      uint32 `json:"time_cost"`
	MemoryKiB uint32 `json:"memory_cost_kib"`
	Threads   uint8  `json:"parallelism"`
}

var (
	DefaultKDFParams = KDFParams{Time: 3, MemoryKiB: 65536, Threads: 1}

	// LegacyKDFParams is the older published parameter set. Readers try it
	// after DefaultKDFParams so vaults initialized under either set unlock.
	LegacyKDFParams = KDFParams{Time: 2, MemoryKiB: 65536, Threads: 1}
)

// GenerateKey draws 32 bytes of key material from rnd.
func GenerateKey(rnd io.Reader) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rnd, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveKey stretches secret into a 32-byte key with Argon2id.
func DeriveKey(secret, salt []byte, p KDFParams) []byte {
	return argon2.IDKey(secret, salt, p.Time, p.MemoryKiB, p.Threads, KeySize)
}

// SealedBox is an AES-256-GCM ciphertext with its nonce and tag held
// separately, matching the on-disk layout of vault.enc and metadata.enc.
type SealedBox struct {
	Nonce      []byte
	Tag        []byte
	Ciphertext []byte
}

// Seal encrypts plaintext under key with a nonce freshly drawn from rnd.
func Seal(rnd io.Reader, key, plaintext []byte) (*SealedBox, error) {
	if len(key) != KeySize {
		return nil, ErrBadKeyLength
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rnd, nonce); err != nil {
		return nil, err
	}
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := aesGCM.Seal(nil, nonce, plaintext, nil)
	// golang's GCM appends the tag to the ciphertext; the vault layout keeps
	// them apart
	split := len(sealed) - TagSize
	return &SealedBox{
		Nonce:      nonce,
		Tag:        sealed[split:],
		Ciphertext: sealed[:split],
	}, nil
}

// Open decrypts box under key. Any tampering with the ciphertext, nonce or
// tag yields ErrTagMismatch and no plaintext.
func Open(box *SealedBox, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrBadKeyLength
	}
	if len(box.Nonce) != NonceSize || len(box.Tag) != TagSize {
		return nil, ErrTagMismatch
	}
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	// append the tag to the ciphertext, which is what golang's GCM
	// implementation expects
	sealed := make([]byte, 0, len(box.Ciphertext)+TagSize)
	sealed = append(sealed, box.Ciphertext...)
	sealed = append(sealed, box.Tag...)
	plaintext, err := aesGCM.Open(nil, box.Nonce, sealed, nil)
	if err != nil {
		return nil, ErrTagMismatch
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	blk, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(blk)
}

// NewSigningSeed draws a fresh 32-byte Ed25519 seed from rnd.
func NewSigningSeed(rnd io.Reader) ([]byte, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(rnd, seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// SigningKeyFromSeed expands a 32-byte seed into a usable private key.
func SigningKeyFromSeed(seed []byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(seed)
}

// PublicKeyFromSeed returns the 32-byte public half for a seed.
func PublicKeyFromSeed(seed []byte) ed25519.PublicKey {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return pub
}

// Sign produces a 64-byte Ed25519 signature over msg.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify reports whether sig is a valid, canonically-encoded signature over
// msg under pub.
func Verify(pub ed25519.PublicKey, sig, msg []byte) bool {
	if len(pub) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// Hash is SHA-256.
func Hash(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}
