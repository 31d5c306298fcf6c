// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

// Package logchain maintains the vault's append-only audit log: one JSON
// entry per line, each hash-linked to its predecessor and signed with the
// vault's long-term Ed25519 key. Lines are never rewritten.
package logchain

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudflare/circl/sign/ed25519"
	errors2 "github.com/pkg/errors"

	"github.com/ursafe-io/ursafe/internal/vaultcrypto"
)

// Action enumerates the auditable events. Unknown actions are rejected at
// append time.
type Action string

const (
	VaultCreated        Action = "vault_created"
	VaultUnlocked       Action = "vault_unlocked"
	VaultLocked         Action = "vault_locked"
	SecretAdded         Action = "secret_added"
	SecretUpdated       Action = "secret_updated"
	SecretRemoved       Action = "secret_removed"
	IntegrityFailure    Action = "integrity_failure"
	FingerprintMismatch Action = "fingerprint_mismatch"
	SharesRepaired      Action = "shares_repaired"
)

var knownActions = map[Action]struct{}{
	VaultCreated: {}, VaultUnlocked: {}, VaultLocked: {},
	SecretAdded: {}, SecretUpdated: {}, SecretRemoved: {},
	IntegrityFailure: {}, FingerprintMismatch: {}, SharesRepaired: {},
}

// GenesisHash is the prev_hash literal of the first entry.
const GenesisHash = "genesis"

// FileName under <drive_root>/.ursafe/.
const FileName = "logchain.json"

const timeLayout = "2006-01-02T15:04:05.000Z"

var (
	ErrUnknownAction = errors2.New("unknown log action")
	ErrCorrupt       = errors2.New("corrupt log")
)

// Reason classifies the first verification failure of a chain.
type Reason string

const (
	ReasonHashMismatch     Reason = "hash_mismatch"
	ReasonBadSignature     Reason = "bad_signature"
	ReasonNonMonotonicTime Reason = "non_monotonic_time"
	ReasonMalformed        Reason = "malformed"
)

// BrokenError reports where and why verification stopped. Line is 1-based.
type BrokenError struct {
	Line   int
	Reason Reason
}

func (e *BrokenError) Error() string {
	return fmt.Sprintf("log chain broken at line %d: %s", e.Line, e.Reason)
}

// Entry is one audit record. Field order matches the canonical sorted-key
// schema of the line format.
type Entry struct {
	Action      string `json:"action"`
	CurrentHash string `json:"current_hash"`
	PrevHash    string `json:"prev_hash"`
	Signature   string `json:"signature"`
	Timestamp   string `json:"timestamp"`
}

// Chain is a handle on one drive's log file.
type Chain struct {
	path  string
	clock func() time.Time
}

func New(driveRoot string, clock func() time.Time) *Chain {
	if clock == nil {
		clock = time.Now
	}
	return &Chain{
		path:  filepath.Join(driveRoot, ".ursafe", FileName),
		clock: clock,
	}
}

func (c *Chain) Path() string { return c.path }

// Append constructs, signs and durably writes one entry. The previous hash
// is taken from the last line, or GenesisHash on an empty log.
func (c *Chain) Append(action Action, priv ed25519.PrivateKey) (*Entry, error) {
	if _, ok := knownActions[action]; !ok {
		return nil, errors2.Wrapf(ErrUnknownAction, "%q", action)
	}

	prevHash, err := c.HeadHash()
	if err != nil {
		return nil, err
	}

	timestamp := c.clock().UTC().Format(timeLayout)
	canonical := canonicalSerialize(timestamp, string(action), prevHash)
	entry := &Entry{
		Action:      string(action),
		CurrentHash: hex.EncodeToString(vaultcrypto.Hash(canonical)),
		PrevHash:    prevHash,
		Signature:   hex.EncodeToString(vaultcrypto.Sign(priv, canonical)),
		Timestamp:   timestamp,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return nil, errors2.Wrap(err, "marshal log entry")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return nil, errors2.Wrap(err, "create log dir")
	}
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors2.Wrap(err, "open log")
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return nil, errors2.Wrap(err, "append log entry")
	}
	if err := f.Sync(); err != nil {
		return nil, errors2.Wrap(err, "sync log")
	}
	return entry, nil
}

// Entries parses every line of the log. A malformed line aborts with
// ErrCorrupt naming the offending line number.
func (c *Chain) Entries() ([]Entry, error) {
	lines, err := c.readLines()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(lines))
	for i, line := range lines {
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, errors2.Wrapf(ErrCorrupt, "line %d: %v", i+1, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// HeadHash returns the current_hash of the last entry, or GenesisHash when
// the log does not exist or is empty.
func (c *Chain) HeadHash() (string, error) {
	lines, err := c.readLines()
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return GenesisHash, nil
	}
	var last Entry
	if err := json.Unmarshal(lines[len(lines)-1], &last); err != nil {
		return "", errors2.Wrapf(ErrCorrupt, "line %d: %v", len(lines), err)
	}
	return last.CurrentHash, nil
}

// Verify walks the chain and stops at the first break: recomputed hashes
// must match, each prev_hash must equal the predecessor's current_hash,
// every signature must verify under one of pubs (the vault's current key
// plus any rotated-out predecessors), and timestamps must be
// non-decreasing. A nil return means the chain is valid.
func (c *Chain) Verify(pubs ...ed25519.PublicKey) error {
	lines, err := c.readLines()
	if err != nil {
		return err
	}

	prevHash := GenesisHash
	var prevTime time.Time
	for i, line := range lines {
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return &BrokenError{Line: i + 1, Reason: ReasonMalformed}
		}
		ts, err := time.Parse(timeLayout, entry.Timestamp)
		if err != nil {
			return &BrokenError{Line: i + 1, Reason: ReasonMalformed}
		}

		canonical := canonicalSerialize(entry.Timestamp, entry.Action, entry.PrevHash)
		if entry.PrevHash != prevHash {
			return &BrokenError{Line: i + 1, Reason: ReasonHashMismatch}
		}
		if entry.CurrentHash != hex.EncodeToString(vaultcrypto.Hash(canonical)) {
			return &BrokenError{Line: i + 1, Reason: ReasonHashMismatch}
		}

		sig, err := hex.DecodeString(entry.Signature)
		if err != nil || !anyVerifies(pubs, sig, canonical) {
			return &BrokenError{Line: i + 1, Reason: ReasonBadSignature}
		}

		if i > 0 && ts.Before(prevTime) {
			return &BrokenError{Line: i + 1, Reason: ReasonNonMonotonicTime}
		}

		prevHash = entry.CurrentHash
		prevTime = ts
	}
	return nil
}

func anyVerifies(pubs []ed25519.PublicKey, sig, msg []byte) bool {
	for _, pub := range pubs {
		if vaultcrypto.Verify(pub, sig, msg) {
			return true
		}
	}
	return false
}

func (c *Chain) readLines() ([][]byte, error) {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors2.Wrap(err, "open log")
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors2.Wrap(err, "read log")
	}
	return lines, nil
}

// canonicalSerialize produces the hashed-and-signed preimage of an entry:
// sorted-key JSON with no insignificant whitespace.
func canonicalSerialize(timestamp, action, prevHash string) []byte {
	canonical, _ := json.Marshal(map[string]string{
		"action":    action,
		"prev_hash": prevHash,
		"timestamp": timestamp,
	})
	return canonical
}
