// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

// Package config carries the engine configuration. Everything the source
// system kept as implicit globals (host chunk directory, KDF parameters,
// share split) is an explicit field here, with injectable clock and
// randomness for tests.
package config

import (
	"crypto/rand"
	"io"
	"time"

	errors2 "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ursafe-io/ursafe/internal/chunks"
	"github.com/ursafe-io/ursafe/internal/fingerprint"
	"github.com/ursafe-io/ursafe/internal/vaultcrypto"
)

type Config struct {
	// HostChunkDir is where host-side shares live. Shared across vaults on
	// one host.
	HostChunkDir string

	// KDFParams are used for new derivations; the snapshot persisted in the
	// vault Metadata is authoritative when reading an existing vault.
	KDFParams vaultcrypto.KDFParams

	// Threshold (M) of TotalShares (N), split HostShares/DriveShares (H/D)
	// across the two stores. H + D must equal N.
	Threshold   int
	TotalShares int
	HostShares  int
	DriveShares int

	// Clock produces log entry timestamps; tests may inject a fake.
	Clock func() time.Time

	// Rand is the randomness source for keys, salts, nonces and share
	// polynomials. Tests may seed it for reproducibility of non-security
	// tests only.
	Rand io.Reader

	// Fingerprint collects host hardware attributes.
	Fingerprint fingerprint.Collector

	Logger *zap.Logger
}

// Default returns the documented production configuration: 10-of-20
// sharing with 15 host / 5 drive shares.
func Default() Config {
	return Config{
		HostChunkDir: chunks.HostDir(),
		KDFParams:    vaultcrypto.DefaultKDFParams,
		Threshold:    10,
		TotalShares:  20,
		HostShares:   15,
		DriveShares:  5,
		Clock:        time.Now,
		Rand:         rand.Reader,
		Fingerprint:  fingerprint.Collect,
		Logger:       zap.NewNop(),
	}
}

// Normalized fills zero-valued fields with their defaults.
func (c Config) Normalized() Config {
	def := Default()
	if c.HostChunkDir == "" {
		c.HostChunkDir = def.HostChunkDir
	}
	if c.KDFParams == (vaultcrypto.KDFParams{}) {
		c.KDFParams = def.KDFParams
	}
	if c.Threshold == 0 && c.TotalShares == 0 {
		c.Threshold, c.TotalShares = def.Threshold, def.TotalShares
		c.HostShares, c.DriveShares = def.HostShares, def.DriveShares
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	if c.Rand == nil {
		c.Rand = def.Rand
	}
	if c.Fingerprint == nil {
		c.Fingerprint = def.Fingerprint
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	return c
}

func (c Config) Validate() error {
	if c.Threshold < 2 || c.TotalShares < c.Threshold || c.TotalShares > 255 {
		return errors2.Errorf("invalid share scheme (%d of %d)", c.Threshold, c.TotalShares)
	}
	if c.HostShares < 1 || c.DriveShares < 1 || c.HostShares+c.DriveShares != c.TotalShares {
		return errors2.Errorf("invalid host/drive split %d+%d for %d shares",
			c.HostShares, c.DriveShares, c.TotalShares)
	}
	return nil
}
