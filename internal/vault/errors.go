// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

package vault

import errors2 "github.com/pkg/errors"

// The stable error kinds of the engine. Callers match with errors.Is;
// messages are advisory and never carry secret material.
var (
	ErrBadPin             = errors2.New("bad pin")
	ErrHardwareMismatch   = errors2.New("hardware fingerprint mismatch")
	ErrInsufficientShares = errors2.New("insufficient shares to reconstruct key")
	ErrTamperDetected     = errors2.New("tamper detected")
	ErrCorruptLog         = errors2.New("corrupt log chain")
	ErrDriveNotVault      = errors2.New("drive does not carry a vault")
	ErrAlreadyInitialized = errors2.New("drive already contains a vault")
	ErrNotUnlocked        = errors2.New("vault is not unlocked")
	ErrQuarantined        = errors2.New("vault engine is quarantined")
	ErrBadRecoveryPhrase  = errors2.New("recovery phrase does not match this vault")
)
