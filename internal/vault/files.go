// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

package vault

import (
	errors2 "github.com/pkg/errors"

	"github.com/ursafe-io/ursafe/internal/drive"
	"github.com/ursafe-io/ursafe/internal/vaultcrypto"
)

// metadata is the plaintext of metadata.enc: non-secret but
// integrity-critical parameters of the vault.
type metadata struct {
	VaultID           string                `json:"vault_id"`
	DriveSalt         string                `json:"drive_salt"`
	KDF               vaultcrypto.KDFParams `json:"kdf_params"`
	FingerprintCheck  string                `json:"fingerprint_check"`
	SigningPub        string                `json:"signing_pub"`
	PriorSigningPubs  []string              `json:"prior_signing_pubs,omitempty"`
	DriveShareIndices []int                 `json:"drive_share_indices"`
	Threshold         int                   `json:"threshold"`
	TotalShares       int                   `json:"total_shares"`
	CreatedAt         string                `json:"created_at"`
}

// vault.enc: [12-byte nonce][16-byte tag][ciphertext]
func encodeVaultFile(box *vaultcrypto.SealedBox) []byte {
	out := make([]byte, 0, vaultcrypto.NonceSize+vaultcrypto.TagSize+len(box.Ciphertext))
	out = append(out, box.Nonce...)
	out = append(out, box.Tag...)
	out = append(out, box.Ciphertext...)
	return out
}

func decodeVaultFile(data []byte) (*vaultcrypto.SealedBox, error) {
	if len(data) < vaultcrypto.NonceSize+vaultcrypto.TagSize {
		return nil, errors2.New("vault file too short")
	}
	return &vaultcrypto.SealedBox{
		Nonce:      data[:vaultcrypto.NonceSize],
		Tag:        data[vaultcrypto.NonceSize : vaultcrypto.NonceSize+vaultcrypto.TagSize],
		Ciphertext: data[vaultcrypto.NonceSize+vaultcrypto.TagSize:],
	}, nil
}

// metadata.enc: [16-byte salt][12-byte nonce][16-byte tag][ciphertext].
// The salt prefix is the only unencrypted field; it must be readable before
// any key can be derived.
func encodeMetadataFile(salt []byte, box *vaultcrypto.SealedBox) []byte {
	out := make([]byte, 0, len(salt)+vaultcrypto.NonceSize+vaultcrypto.TagSize+len(box.Ciphertext))
	out = append(out, salt...)
	out = append(out, box.Nonce...)
	out = append(out, box.Tag...)
	out = append(out, box.Ciphertext...)
	return out
}

func decodeMetadataFile(data []byte) (salt []byte, box *vaultcrypto.SealedBox, err error) {
	header := drive.SaltSize + vaultcrypto.NonceSize + vaultcrypto.TagSize
	if len(data) < header {
		return nil, nil, errors2.New("metadata file too short")
	}
	salt = data[:drive.SaltSize]
	box = &vaultcrypto.SealedBox{
		Nonce:      data[drive.SaltSize : drive.SaltSize+vaultcrypto.NonceSize],
		Tag:        data[drive.SaltSize+vaultcrypto.NonceSize : header],
		Ciphertext: data[header:],
	}
	return salt, box, nil
}

// manifestMessage is what the manifest signature covers: both ciphertexts
// and the log head hash at signing time.
func manifestMessage(vaultCT, metaCT []byte, headHash string) []byte {
	msg := make([]byte, 0, len(vaultCT)+len(metaCT)+len(headHash))
	msg = append(msg, vaultCT...)
	msg = append(msg, metaCT...)
	msg = append(msg, []byte(headHash)...)
	return msg
}
