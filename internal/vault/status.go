// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

package vault

import (
	"sort"

	errors2 "github.com/pkg/errors"

	"github.com/ursafe-io/ursafe/internal/chunks"
	"github.com/ursafe-io/ursafe/internal/drive"
	"github.com/ursafe-io/ursafe/internal/logchain"
)

// VaultStatus is a read-only report for a monitoring panel. Fields that
// require the PIN (vault id, secret count) are filled only while unlocked.
type VaultStatus struct {
	DrivePath   string
	Present     bool
	State       string
	VaultID     string
	SecretCount int
	CreatedAt   string
}

func (e *Engine) VaultStatus() VaultStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := VaultStatus{
		DrivePath: e.drivePath,
		Present:   drive.IsVaultDrive(e.drivePath),
		State:     e.state.String(),
	}
	if e.state == StateUnlocked && e.meta != nil {
		status.VaultID = e.meta.VaultID
		status.SecretCount = len(e.secrets)
		status.CreatedAt = e.meta.CreatedAt
	}
	return status
}

// ChunkStatus inventories the share files of both stores.
type ChunkStatus struct {
	HostDir  string
	DriveDir string

	HostMasterIndices   []int
	HostSigningIndices  []int
	DriveMasterIndices  []int
	DriveSigningIndices []int

	Threshold   int
	TotalShares int

	// Recoverable reports whether the distinct master-key shares on hand
	// reach the threshold.
	Recoverable bool
}

func (e *Engine) ChunkStatus() (ChunkStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := ChunkStatus{
		HostDir:     e.cfg.HostChunkDir,
		DriveDir:    chunks.DriveDir(e.drivePath),
		Threshold:   e.cfg.Threshold,
		TotalShares: e.cfg.TotalShares,
	}

	var err error
	if status.HostMasterIndices, err = sortedIndices(e.hostStore(chunks.MasterKeyPrefix)); err != nil {
		return status, err
	}
	if status.HostSigningIndices, err = sortedIndices(e.hostStore(chunks.SigningKeyPrefix)); err != nil {
		return status, err
	}
	if status.DriveMasterIndices, err = sortedIndices(e.driveStore(chunks.MasterKeyPrefix)); err != nil {
		return status, err
	}
	if status.DriveSigningIndices, err = sortedIndices(e.driveStore(chunks.SigningKeyPrefix)); err != nil {
		return status, err
	}

	distinct := make(map[int]struct{})
	for _, index := range status.HostMasterIndices {
		distinct[index] = struct{}{}
	}
	for _, index := range status.DriveMasterIndices {
		distinct[index] = struct{}{}
	}
	status.Recoverable = len(distinct) >= status.Threshold
	return status, nil
}

// LogStats summarizes the audit chain without verifying it.
type LogStats struct {
	Entries        int
	HeadHash       string
	FirstTimestamp string
	LastTimestamp  string
	LastAction     string
}

func (e *Engine) LogStats() (LogStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.chain.Entries()
	if err != nil {
		return LogStats{}, errors2.Wrap(ErrCorruptLog, err.Error())
	}
	stats := LogStats{Entries: len(entries), HeadHash: logchain.GenesisHash}
	if len(entries) > 0 {
		first, last := entries[0], entries[len(entries)-1]
		stats.HeadHash = last.CurrentHash
		stats.FirstTimestamp = first.Timestamp
		stats.LastTimestamp = last.Timestamp
		stats.LastAction = last.Action
	}
	return stats, nil
}

func sortedIndices(store *chunks.Store) ([]int, error) {
	indices, err := store.Indices()
	if err != nil {
		return nil, err
	}
	sort.Ints(indices)
	return indices, nil
}
