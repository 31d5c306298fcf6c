// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

// Package sharing implements M-of-N Shamir splitting of 32-byte secrets.
// Secrets and share values are scalars of the P-256 group; share IDs are the
// integers 1..N, carried outside the share value (the chunk filename on
// disk). Any M distinct shares reconstruct the secret; fewer yield nothing.
package sharing

import (
	"bytes"
	"io"

	"github.com/cloudflare/circl/group"
	shamir "github.com/cloudflare/circl/secretsharing"
	errors2 "github.com/pkg/errors"
)

const (
	// SecretSize is the only supported secret length.
	SecretSize = 32

	// MaxShares bounds N; indices must fit a single byte namespace.
	MaxShares = 255
)

var (
	ErrInsufficientShares = errors2.New("insufficient shares")
	ErrInconsistentShares = errors2.New("inconsistent shares")
	ErrBadSecret          = errors2.New("secret is not usable for splitting")
	ErrBadParams          = errors2.New("invalid (M, N) parameters")
)

// Share is one output of a split. Value is an opaque byte string; Index
// identifies it within the set.
type Share struct {
	Index int
	Value []byte
}

// UsableSecret reports whether a 32-byte secret can be split, i.e. whether
// it decodes to a group scalar. Callers drawing random key material retry
// generation until this holds.
func UsableSecret(secret []byte) bool {
	if len(secret) != SecretSize {
		return false
	}
	s := group.P256.NewScalar()
	return s.UnmarshalBinary(secret) == nil
}

// Split divides secret into n shares with reconstruction threshold m.
// Randomness for the polynomial coefficients is drawn from rnd.
func Split(rnd io.Reader, secret []byte, m, n int) ([]Share, error) {
	if len(secret) != SecretSize {
		return nil, ErrBadSecret
	}
	if m < 2 || n < m || n > MaxShares {
		return nil, ErrBadParams
	}

	g := group.P256
	s := g.NewScalar()
	if err := s.UnmarshalBinary(secret); err != nil {
		return nil, ErrBadSecret
	}
	defer s.SetUint64(0)

	ss := shamir.New(rnd, uint(m-1), s)
	raw := ss.Share(uint(n))

	shares := make([]Share, len(raw))
	for i, sh := range raw {
		idx, err := shareIndex(sh.ID)
		if err != nil {
			return nil, err
		}
		val, err := sh.Value.MarshalBinary()
		if err != nil {
			return nil, errors2.Wrap(err, "marshal share value")
		}
		shares[i] = Share{Index: idx, Value: val}
	}
	return shares, nil
}

// Combine reconstructs the secret from at least threshold shares with
// distinct indices. Syntactically valid shares that decode to inconsistent
// polynomials (tampering) yield ErrInconsistentShares.
func Combine(shares []Share, threshold int) ([]byte, error) {
	if threshold < 2 {
		return nil, ErrBadParams
	}

	distinct := dedupe(shares)
	if len(distinct) < threshold {
		return nil, ErrInsufficientShares
	}

	secret, err := recoverSubset(distinct[:threshold], threshold)
	if err != nil {
		return nil, err
	}

	// with spare shares available, cross-check a second subset; a mismatch
	// means at least one share is not on the original polynomial
	if len(distinct) > threshold {
		check, err := recoverSubset(distinct[len(distinct)-threshold:], threshold)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(secret, check) {
			return nil, ErrInconsistentShares
		}
	}
	return secret, nil
}

func recoverSubset(subset []Share, threshold int) ([]byte, error) {
	g := group.P256
	circlShares := make([]shamir.Share, len(subset))
	for i, sh := range subset {
		if len(sh.Value) != SecretSize {
			return nil, ErrInconsistentShares
		}
		val := g.NewScalar()
		if err := val.UnmarshalBinary(sh.Value); err != nil {
			return nil, ErrInconsistentShares
		}
		id := g.NewScalar()
		id.SetUint64(uint64(sh.Index))
		circlShares[i] = shamir.Share{ID: id, Value: val}
	}

	rec, err := shamir.Recover(uint(threshold-1), circlShares)
	if err != nil {
		return nil, errors2.Wrap(err, "recover")
	}
	defer rec.SetUint64(0)

	out, err := rec.MarshalBinary()
	if err != nil {
		return nil, errors2.Wrap(err, "marshal recovered secret")
	}
	return out, nil
}

// dedupe keeps the first share seen for each index, preserving order.
func dedupe(shares []Share) []Share {
	seen := make(map[int]struct{}, len(shares))
	out := make([]Share, 0, len(shares))
	for _, sh := range shares {
		if sh.Index < 1 || sh.Index > MaxShares {
			continue
		}
		if _, ok := seen[sh.Index]; ok {
			continue
		}
		seen[sh.Index] = struct{}{}
		out = append(out, sh)
	}
	return out
}

func shareIndex(id group.Scalar) (int, error) {
	b, err := id.MarshalBinary()
	if err != nil {
		return 0, errors2.Wrap(err, "marshal share ID")
	}
	idx := 0
	for _, c := range b {
		idx = idx<<8 | int(c)
		if idx > MaxShares {
			return 0, errors2.Errorf("share ID out of range")
		}
	}
	if idx == 0 {
		return 0, errors2.Errorf("share ID is zero")
	}
	return idx, nil
}
