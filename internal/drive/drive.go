// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

// Package drive knows the on-disk layout of a vault drive and binds a vault
// to one particular drive through its salt. Enumeration of removable
// volumes is the caller's concern; this package only consumes paths.
package drive

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	errors2 "github.com/pkg/errors"
)

const (
	// VaultDirName is the hidden directory a vault occupies on its drive.
	VaultDirName = ".ursafe"

	VaultFileName    = "vault.enc"
	MetadataFileName = "metadata.enc"
	ManifestFileName = "manifest.sig"
	ChunksDirName    = "chunks"

	// SaltSize is the length of the per-drive salt stored in the clear at
	// the head of metadata.enc.
	SaltSize = 16
)

var ErrNoSalt = errors2.New("drive salt unreadable")

// Layout resolves the artifact paths under one drive root.
type Layout struct {
	Root string
}

func NewLayout(root string) Layout { return Layout{Root: root} }

func (l Layout) VaultDir() string      { return filepath.Join(l.Root, VaultDirName) }
func (l Layout) VaultFile() string     { return filepath.Join(l.VaultDir(), VaultFileName) }
func (l Layout) MetadataFile() string  { return filepath.Join(l.VaultDir(), MetadataFileName) }
func (l Layout) ManifestFile() string  { return filepath.Join(l.VaultDir(), ManifestFileName) }
func (l Layout) ChunksDir() string     { return filepath.Join(l.VaultDir(), ChunksDirName) }

// IsVaultDrive reports whether path carries a complete vault layout: the
// .ursafe directory with vault.enc, metadata.enc, manifest.sig and a
// non-empty chunks/ subdirectory.
func IsVaultDrive(path string) bool {
	l := NewLayout(path)
	for _, file := range []string{l.VaultFile(), l.MetadataFile(), l.ManifestFile()} {
		info, err := os.Stat(file)
		if err != nil || info.IsDir() {
			return false
		}
	}
	entries, err := os.ReadDir(l.ChunksDir())
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			return true
		}
	}
	return false
}

// NewSalt draws a fresh 16-byte drive salt from rnd.
func NewSalt(rnd io.Reader) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rnd, salt); err != nil {
		return nil, errors2.Wrap(err, "generate drive salt")
	}
	return salt, nil
}

// ReadSalt reads the per-drive salt from the unencrypted fixed-offset
// header of metadata.enc. The salt is not secret; it binds key derivation
// to this drive.
func ReadSalt(path string) ([]byte, error) {
	f, err := os.Open(NewLayout(path).MetadataFile())
	if err != nil {
		return nil, errors2.Wrap(ErrNoSalt, err.Error())
	}
	defer f.Close()

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(f, salt); err != nil {
		return nil, errors2.Wrap(ErrNoSalt, err.Error())
	}
	return salt, nil
}

// CleanTemp removes .tmp residue an aborted save may have left in the
// vault directory.
func CleanTemp(path string) error {
	dir := NewLayout(path).VaultDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors2.Wrap(err, "read vault dir")
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return errors2.Wrapf(err, "remove `%s`", entry.Name())
		}
	}
	return nil
}
