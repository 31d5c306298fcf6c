// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

// Package vault is the engine tying the vault together: it derives and
// reconstructs keys from the four factors (drive, PIN, shares, hardware),
// maintains the encrypted artifacts on the drive and appends to the audit
// chain. It is the single policy point for the error taxonomy; the packages
// beneath it return typed results and never log or interpret.
package vault

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/google/uuid"
	errors2 "github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
	"go.uber.org/zap"

	"github.com/ursafe-io/ursafe/internal/chunks"
	"github.com/ursafe-io/ursafe/internal/config"
	"github.com/ursafe-io/ursafe/internal/drive"
	"github.com/ursafe-io/ursafe/internal/logchain"
	"github.com/ursafe-io/ursafe/internal/sharing"
	"github.com/ursafe-io/ursafe/internal/vaultcrypto"
)

// State of one engine instance. A Quarantined engine refuses further
// unlocks until the drive is re-selected (a new engine is constructed).
type State int

const (
	StateLocked State = iota
	StateUnlocked
	StateQuarantined
)

func (s State) String() string {
	switch s {
	case StateUnlocked:
		return "unlocked"
	case StateQuarantined:
		return "quarantined"
	default:
		return "locked"
	}
}

// Engine orchestrates one vault on one drive. Operations serialize on an
// internal mutex; engines on distinct drives share no mutable state.
type Engine struct {
	drivePath string
	cfg       config.Config
	log       *zap.Logger
	layout    drive.Layout
	chain     *logchain.Chain

	mu        sync.Mutex
	state     State
	masterKey []byte
	signSeed  []byte
	secrets   SecretsMap
	meta      *metadata
}

// InitResult reports what a fresh initialization produced.
type InitResult struct {
	VaultID        string
	RecoveryPhrase string
	StabilityScore float64
}

func New(drivePath string, cfg config.Config) (*Engine, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		drivePath: drivePath,
		cfg:       cfg,
		log:       cfg.Logger,
		layout:    drive.NewLayout(drivePath),
		chain:     logchain.New(drivePath, cfg.Clock),
	}, nil
}

func (e *Engine) DrivePath() string { return e.drivePath }

// Initialize creates a fresh vault on the drive: new master and signing
// keys, both split and distributed, an empty encrypted secrets map, signed
// manifest and the genesis log entry. The returned recovery phrase encodes
// the master key and is shown exactly once.
func (e *Engine) Initialize(pin string) (*InitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateQuarantined {
		return nil, ErrQuarantined
	}
	if _, err := os.Stat(e.drivePath); err != nil {
		return nil, errors2.Wrapf(err, "unable to see drive `%s`", e.drivePath)
	}
	if drive.IsVaultDrive(e.drivePath) {
		return nil, ErrAlreadyInitialized
	}

	masterKey, err := e.shareableSecret()
	if err != nil {
		return nil, err
	}
	defer clear(masterKey)
	signSeed, err := e.shareableSecret()
	if err != nil {
		return nil, err
	}
	defer clear(signSeed)

	info := e.cfg.Fingerprint()
	fp := info.Sum()
	score := info.StabilityScore()
	if score < 1 {
		e.log.Warn("hardware fingerprint is weakly bound",
			zap.Float64("stability_score", score))
	}

	salt, err := drive.NewSalt(e.cfg.Rand)
	if err != nil {
		return nil, err
	}

	driveIndices, err := e.writeShareSets(masterKey, signSeed)
	if err != nil {
		return nil, err
	}

	pinBytes := []byte(pin)
	defer clear(pinBytes)
	metaKey := vaultcrypto.DeriveKey(pinBytes, salt, e.cfg.KDFParams)
	defer clear(metaKey)
	wk := vaultcrypto.DeriveKey(pinBytes, saltAndFingerprint(salt, fp), e.cfg.KDFParams)
	defer clear(wk)
	vaultKey := vaultKeyFrom(wk, masterKey)
	defer clear(vaultKey)

	secretsPlain, err := json.Marshal(SecretsMap{})
	if err != nil {
		return nil, errors2.Wrap(err, "marshal secrets")
	}
	vaultBox, err := vaultcrypto.Seal(e.cfg.Rand, vaultKey, secretsPlain)
	if err != nil {
		return nil, err
	}

	vaultID, err := uuid.NewRandom()
	if err != nil {
		return nil, errors2.Wrap(err, "unable to create vault id")
	}
	md := &metadata{
		VaultID:           vaultID.String(),
		DriveSalt:         hex.EncodeToString(salt),
		KDF:               e.cfg.KDFParams,
		FingerprintCheck:  hex.EncodeToString(vaultcrypto.Hash(fp[:])[:16]),
		SigningPub:        hex.EncodeToString(vaultcrypto.PublicKeyFromSeed(signSeed)),
		DriveShareIndices: driveIndices,
		Threshold:         e.cfg.Threshold,
		TotalShares:       e.cfg.TotalShares,
		CreatedAt:         e.cfg.Clock().UTC().Format(time.RFC3339),
	}
	mdPlain, err := json.Marshal(md)
	if err != nil {
		return nil, errors2.Wrap(err, "marshal metadata")
	}
	metaBox, err := vaultcrypto.Seal(e.cfg.Rand, metaKey, mdPlain)
	if err != nil {
		return nil, err
	}

	priv := vaultcrypto.SigningKeyFromSeed(signSeed)
	defer clear(priv)
	manifest := vaultcrypto.Sign(priv,
		manifestMessage(vaultBox.Ciphertext, metaBox.Ciphertext, logchain.GenesisHash))

	if err := os.MkdirAll(e.layout.VaultDir(), 0o700); err != nil {
		return nil, errors2.Wrap(err, "unable to create vault dir")
	}
	if err := e.commitArtifacts(encodeVaultFile(vaultBox), encodeMetadataFile(salt, metaBox), manifest); err != nil {
		return nil, err
	}

	if _, err := e.chain.Append(logchain.VaultCreated, priv); err != nil {
		return nil, err
	}
	if err := drive.CleanTemp(e.drivePath); err != nil {
		e.log.Warn("temp cleanup failed", zap.Error(err))
	}

	phrase, err := bip39.NewMnemonic(masterKey)
	if err != nil {
		return nil, errors2.Wrap(err, "unable to encode recovery phrase")
	}

	e.log.Info("vault initialized",
		zap.String("vault_id", md.VaultID),
		zap.Int("threshold", md.Threshold),
		zap.Int("shares", md.TotalShares))
	return &InitResult{
		VaultID:        md.VaultID,
		RecoveryPhrase: phrase,
		StabilityScore: score,
	}, nil
}

// Unlock verifies all four factors and returns the decrypted secrets map.
// The reconstructed keys stay in memory for the session until Lock. On an
// engine that is already unlocked it returns a copy of the session map
// without checking the PIN again.
func (e *Engine) Unlock(pin string) (SecretsMap, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateQuarantined {
		return nil, ErrQuarantined
	}
	if e.state == StateUnlocked {
		return e.secrets.Clone(), nil
	}
	if !drive.IsVaultDrive(e.drivePath) {
		return nil, ErrDriveNotVault
	}

	metaRaw, err := os.ReadFile(e.layout.MetadataFile())
	if err != nil {
		return nil, errors2.Wrap(err, "unable to read metadata")
	}
	salt, metaBox, err := decodeMetadataFile(metaRaw)
	if err != nil {
		return nil, errors2.Wrap(ErrDriveNotVault, err.Error())
	}

	pinBytes := []byte(pin)
	defer clear(pinBytes)
	md, metaKey, err := e.decryptMetadata(pinBytes, salt, metaBox)
	if err != nil {
		return nil, err
	}
	defer clear(metaKey)

	info := e.cfg.Fingerprint()
	fp := info.Sum()
	if hex.EncodeToString(vaultcrypto.Hash(fp[:])[:16]) != md.FingerprintCheck {
		e.appendBestEffort(logchain.FingerprintMismatch, md)
		return nil, ErrHardwareMismatch
	}

	masterKey, err := e.combineStoredShares(chunks.MasterKeyPrefix, md.Threshold)
	if err != nil {
		return nil, e.mapShareError(err, md)
	}
	signSeed, err := e.combineStoredShares(chunks.SigningKeyPrefix, md.Threshold)
	if err != nil {
		clear(masterKey)
		return nil, e.mapShareError(err, md)
	}

	pub, err := hex.DecodeString(md.SigningPub)
	if err != nil || len(pub) != vaultcrypto.PublicKeySize {
		clear(masterKey)
		clear(signSeed)
		return nil, e.tamper(md)
	}
	if !bytes.Equal(vaultcrypto.PublicKeyFromSeed(signSeed), pub) {
		clear(masterKey)
		clear(signSeed)
		return nil, e.tamper(md)
	}

	vaultRaw, err := os.ReadFile(e.layout.VaultFile())
	if err != nil {
		clear(masterKey)
		clear(signSeed)
		return nil, errors2.Wrap(err, "unable to read vault")
	}
	vaultBox, err := decodeVaultFile(vaultRaw)
	if err != nil {
		clear(masterKey)
		clear(signSeed)
		return nil, e.tamper(md)
	}
	manifest, err := os.ReadFile(e.layout.ManifestFile())
	if err != nil {
		clear(masterKey)
		clear(signSeed)
		return nil, errors2.Wrap(err, "unable to read manifest")
	}

	priv := vaultcrypto.SigningKeyFromSeed(signSeed)
	if !e.verifyManifest(pub, vaultBox.Ciphertext, metaBox.Ciphertext, manifest) {
		clear(masterKey)
		clear(signSeed)
		e.appendSigned(logchain.IntegrityFailure, priv)
		clear(priv)
		e.state = StateQuarantined
		return nil, ErrTamperDetected
	}

	if err := e.chain.Verify(chainKeys(md, pub)...); err != nil {
		clear(masterKey)
		clear(signSeed)
		e.appendSigned(logchain.IntegrityFailure, priv)
		clear(priv)
		e.state = StateQuarantined
		return nil, errors2.Wrap(ErrCorruptLog, err.Error())
	}

	// the Metadata snapshot is authoritative for the working key derivation
	wk := vaultcrypto.DeriveKey(pinBytes, saltAndFingerprint(salt, fp), md.KDF)
	vaultKey := vaultKeyFrom(wk, masterKey)
	clear(wk)
	plaintext, err := vaultcrypto.Open(vaultBox, vaultKey)
	clear(vaultKey)
	if err != nil {
		clear(masterKey)
		clear(signSeed)
		e.appendSigned(logchain.IntegrityFailure, priv)
		clear(priv)
		e.state = StateQuarantined
		return nil, ErrTamperDetected
	}

	var secrets SecretsMap
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		clear(masterKey)
		clear(signSeed)
		clear(priv)
		return nil, errors2.Wrap(err, "decode secrets")
	}
	clear(plaintext)
	if secrets == nil {
		secrets = SecretsMap{}
	}

	if _, err := e.chain.Append(logchain.VaultUnlocked, priv); err != nil {
		clear(masterKey)
		clear(signSeed)
		clear(priv)
		return nil, err
	}
	clear(priv)
	if err := drive.CleanTemp(e.drivePath); err != nil {
		e.log.Warn("temp cleanup failed", zap.Error(err))
	}

	e.masterKey = masterKey
	e.signSeed = signSeed
	e.secrets = secrets
	e.meta = md
	e.state = StateUnlocked

	e.log.Info("vault unlocked", zap.String("vault_id", md.VaultID),
		zap.Int("secrets", len(secrets)))
	return secrets.Clone(), nil
}

// Save re-encrypts the secrets map with a fresh nonce, atomically rewrites
// vault, metadata and manifest, and appends the diff-derived log entries.
func (e *Engine) Save(pin string, newMap SecretsMap) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateQuarantined {
		return ErrQuarantined
	}
	if e.state != StateUnlocked {
		return ErrNotUnlocked
	}

	metaRaw, err := os.ReadFile(e.layout.MetadataFile())
	if err != nil {
		return errors2.Wrap(err, "unable to read metadata")
	}
	salt, metaBox, err := decodeMetadataFile(metaRaw)
	if err != nil {
		return errors2.Wrap(ErrDriveNotVault, err.Error())
	}

	pinBytes := []byte(pin)
	defer clear(pinBytes)
	metaKey := vaultcrypto.DeriveKey(pinBytes, salt, e.meta.KDF)
	defer clear(metaKey)
	if _, err := vaultcrypto.Open(metaBox, metaKey); err != nil {
		return ErrBadPin
	}

	fp := e.cfg.Fingerprint().Sum()
	wk := vaultcrypto.DeriveKey(pinBytes, saltAndFingerprint(salt, fp), e.meta.KDF)
	defer clear(wk)
	vaultKey := vaultKeyFrom(wk, e.masterKey)
	defer clear(vaultKey)

	plaintext, err := json.Marshal(newMap)
	if err != nil {
		return errors2.Wrap(err, "marshal secrets")
	}
	vaultBox, err := vaultcrypto.Seal(e.cfg.Rand, vaultKey, plaintext)
	clear(plaintext)
	if err != nil {
		return err
	}

	mdPlain, err := json.Marshal(e.meta)
	if err != nil {
		return errors2.Wrap(err, "marshal metadata")
	}
	newMetaBox, err := vaultcrypto.Seal(e.cfg.Rand, metaKey, mdPlain)
	if err != nil {
		return err
	}

	head, err := e.chain.HeadHash()
	if err != nil {
		return errors2.Wrap(ErrCorruptLog, err.Error())
	}
	priv := vaultcrypto.SigningKeyFromSeed(e.signSeed)
	defer clear(priv)
	manifest := vaultcrypto.Sign(priv,
		manifestMessage(vaultBox.Ciphertext, newMetaBox.Ciphertext, head))

	if err := e.commitArtifacts(encodeVaultFile(vaultBox), encodeMetadataFile(salt, newMetaBox), manifest); err != nil {
		return err
	}

	for _, change := range diffChanges(e.secrets, newMap) {
		if _, err := e.chain.Append(change, priv); err != nil {
			return err
		}
	}

	e.secrets = newMap.Clone()
	e.log.Info("vault saved", zap.Int("secrets", len(newMap)))
	return nil
}

// Lock appends the closing log entry and zeroizes every session buffer.
func (e *Engine) Lock() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateUnlocked {
		priv := vaultcrypto.SigningKeyFromSeed(e.signSeed)
		if _, err := e.chain.Append(logchain.VaultLocked, priv); err != nil {
			clear(priv)
			e.zeroizeSession()
			return err
		}
		clear(priv)
	}
	e.zeroizeSession()
	if e.state != StateQuarantined {
		e.state = StateLocked
	}
	return nil
}

// RepairShares re-materializes both share sets from the recovery phrase.
// The signing keypair is rotated: shares, Metadata and manifest are
// rewritten under a fresh key, and the rotation is logged.
func (e *Engine) RepairShares(pin, phrase string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateQuarantined {
		return ErrQuarantined
	}
	if !drive.IsVaultDrive(e.drivePath) {
		return ErrDriveNotVault
	}

	masterKey, err := bip39.EntropyFromMnemonic(normalizePhrase(phrase))
	if err != nil {
		return errors2.Wrap(ErrBadRecoveryPhrase, err.Error())
	}
	defer clear(masterKey)
	if !sharing.UsableSecret(masterKey) {
		return ErrBadRecoveryPhrase
	}

	metaRaw, err := os.ReadFile(e.layout.MetadataFile())
	if err != nil {
		return errors2.Wrap(err, "unable to read metadata")
	}
	salt, metaBox, err := decodeMetadataFile(metaRaw)
	if err != nil {
		return errors2.Wrap(ErrDriveNotVault, err.Error())
	}

	pinBytes := []byte(pin)
	defer clear(pinBytes)
	md, metaKey, err := e.decryptMetadata(pinBytes, salt, metaBox)
	if err != nil {
		return err
	}
	defer clear(metaKey)

	info := e.cfg.Fingerprint()
	fp := info.Sum()
	if hex.EncodeToString(vaultcrypto.Hash(fp[:])[:16]) != md.FingerprintCheck {
		e.appendBestEffort(logchain.FingerprintMismatch, md)
		return ErrHardwareMismatch
	}

	// prove the phrase against the vault ciphertext before touching shares
	vaultRaw, err := os.ReadFile(e.layout.VaultFile())
	if err != nil {
		return errors2.Wrap(err, "unable to read vault")
	}
	vaultBox, err := decodeVaultFile(vaultRaw)
	if err != nil {
		return e.tamper(md)
	}
	wk := vaultcrypto.DeriveKey(pinBytes, saltAndFingerprint(salt, fp), md.KDF)
	defer clear(wk)
	vaultKey := vaultKeyFrom(wk, masterKey)
	defer clear(vaultKey)
	plaintext, err := vaultcrypto.Open(vaultBox, vaultKey)
	if err != nil {
		return ErrBadRecoveryPhrase
	}

	signSeed, err := e.shareableSecret()
	if err != nil {
		return err
	}
	defer clear(signSeed)

	if err := e.removeShareSets(); err != nil {
		return err
	}
	driveIndices, err := e.writeShareSets(masterKey, signSeed)
	if err != nil {
		return err
	}

	// entries already in the chain stay verifiable under the rotated-out key
	md.PriorSigningPubs = append(md.PriorSigningPubs, md.SigningPub)
	md.SigningPub = hex.EncodeToString(vaultcrypto.PublicKeyFromSeed(signSeed))
	md.DriveShareIndices = driveIndices
	md.Threshold = e.cfg.Threshold
	md.TotalShares = e.cfg.TotalShares

	newVaultBox, err := vaultcrypto.Seal(e.cfg.Rand, vaultKey, plaintext)
	clear(plaintext)
	if err != nil {
		return err
	}
	mdPlain, err := json.Marshal(md)
	if err != nil {
		return errors2.Wrap(err, "marshal metadata")
	}
	newMetaBox, err := vaultcrypto.Seal(e.cfg.Rand, metaKey, mdPlain)
	if err != nil {
		return err
	}

	head, err := e.chain.HeadHash()
	if err != nil {
		return errors2.Wrap(ErrCorruptLog, err.Error())
	}
	priv := vaultcrypto.SigningKeyFromSeed(signSeed)
	defer clear(priv)
	manifest := vaultcrypto.Sign(priv,
		manifestMessage(newVaultBox.Ciphertext, newMetaBox.Ciphertext, head))

	if err := e.commitArtifacts(encodeVaultFile(newVaultBox), encodeMetadataFile(salt, newMetaBox), manifest); err != nil {
		return err
	}
	if _, err := e.chain.Append(logchain.SharesRepaired, priv); err != nil {
		return err
	}

	if e.state == StateUnlocked {
		clear(e.masterKey)
		clear(e.signSeed)
		e.masterKey = append([]byte(nil), masterKey...)
		e.signSeed = append([]byte(nil), signSeed...)
		e.meta = md
	}

	e.log.Info("share sets repaired", zap.String("vault_id", md.VaultID))
	return nil
}

// ---- internals ----

// shareableSecret draws 32 random bytes until they are usable as a sharing
// secret.
func (e *Engine) shareableSecret() ([]byte, error) {
	for attempts := 0; attempts < 128; attempts++ {
		secret, err := vaultcrypto.GenerateKey(e.cfg.Rand)
		if err != nil {
			return nil, errors2.Wrap(err, "unable to generate key material")
		}
		if sharing.UsableSecret(secret) {
			return secret, nil
		}
		clear(secret)
	}
	return nil, errors2.New("random source keeps yielding unusable key material")
}

func (e *Engine) hostStore(prefix string) *chunks.Store {
	return chunks.New(e.cfg.HostChunkDir, prefix)
}

func (e *Engine) driveStore(prefix string) *chunks.Store {
	return chunks.New(chunks.DriveDir(e.drivePath), prefix)
}

// writeShareSets splits both secrets and distributes the shares: indices
// 1..H to the host store, the rest to the drive store. Returns the sorted
// drive-side indices for the Metadata record.
func (e *Engine) writeShareSets(masterKey, signSeed []byte) ([]int, error) {
	var driveIndices []int
	for _, set := range []struct {
		prefix string
		secret []byte
	}{
		{chunks.MasterKeyPrefix, masterKey},
		{chunks.SigningKeyPrefix, signSeed},
	} {
		shares, err := sharing.Split(e.cfg.Rand, set.secret, e.cfg.Threshold, e.cfg.TotalShares)
		if err != nil {
			return nil, err
		}
		host := e.hostStore(set.prefix)
		drv := e.driveStore(set.prefix)
		for _, sh := range shares {
			store := host
			if sh.Index > e.cfg.HostShares {
				store = drv
				if set.prefix == chunks.MasterKeyPrefix {
					driveIndices = append(driveIndices, sh.Index)
				}
			}
			if err := store.Put(sh.Index, sh.Value); err != nil {
				return nil, err
			}
			clear(sh.Value)
		}
	}
	sort.Ints(driveIndices)
	return driveIndices, nil
}

func (e *Engine) removeShareSets() error {
	for _, prefix := range []string{chunks.MasterKeyPrefix, chunks.SigningKeyPrefix} {
		if err := e.hostStore(prefix).RemoveAll(); err != nil {
			return err
		}
		if err := e.driveStore(prefix).RemoveAll(); err != nil {
			return err
		}
	}
	return nil
}

// combineStoredShares merges host and drive enumerations and reconstructs
// the secret. Host shares win on an index collision.
func (e *Engine) combineStoredShares(prefix string, threshold int) ([]byte, error) {
	hostShares, err := e.hostStore(prefix).Enumerate()
	if err != nil {
		return nil, err
	}
	driveShares, err := e.driveStore(prefix).Enumerate()
	if err != nil {
		return nil, err
	}
	merged := make([]sharing.Share, 0, len(hostShares)+len(driveShares))
	for index, value := range hostShares {
		merged = append(merged, sharing.Share{Index: index, Value: value})
	}
	for index, value := range driveShares {
		if _, ok := hostShares[index]; ok {
			continue
		}
		merged = append(merged, sharing.Share{Index: index, Value: value})
	}
	secret, err := sharing.Combine(merged, threshold)
	for _, sh := range merged {
		clear(sh.Value)
	}
	return secret, err
}

func (e *Engine) mapShareError(err error, md *metadata) error {
	switch {
	case errors2.Is(err, sharing.ErrInsufficientShares):
		return ErrInsufficientShares
	case errors2.Is(err, sharing.ErrInconsistentShares):
		return e.tamper(md)
	default:
		return err
	}
}

// decryptMetadata tries the configured KDF parameters, then the legacy
// published set. Any remaining tag mismatch surfaces as BadPin.
func (e *Engine) decryptMetadata(pin, salt []byte, box *vaultcrypto.SealedBox) (*metadata, []byte, error) {
	for _, params := range []vaultcrypto.KDFParams{e.cfg.KDFParams, vaultcrypto.LegacyKDFParams} {
		metaKey := vaultcrypto.DeriveKey(pin, salt, params)
		plaintext, err := vaultcrypto.Open(box, metaKey)
		if err != nil {
			clear(metaKey)
			continue
		}
		md := new(metadata)
		if err := json.Unmarshal(plaintext, md); err != nil {
			clear(metaKey)
			return nil, nil, errors2.Wrap(ErrTamperDetected, "metadata undecodable")
		}
		return md, metaKey, nil
	}
	return nil, nil, ErrBadPin
}

// verifyManifest checks the signature against every candidate log head,
// newest first, ending with the genesis literal. Entries appended after the
// last save are expected to trail the signed head.
func (e *Engine) verifyManifest(pub ed25519.PublicKey, vaultCT, metaCT, sig []byte) bool {
	if len(sig) != vaultcrypto.SignatureSize {
		return false
	}
	entries, err := e.chain.Entries()
	if err != nil {
		return false
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if vaultcrypto.Verify(pub, sig, manifestMessage(vaultCT, metaCT, entries[i].CurrentHash)) {
			return true
		}
	}
	return vaultcrypto.Verify(pub, sig, manifestMessage(vaultCT, metaCT, logchain.GenesisHash))
}

// chainKeys is the set of public keys log entries may be signed under: the
// current key first, then any predecessors rotated out by share repair.
func chainKeys(md *metadata, current ed25519.PublicKey) []ed25519.PublicKey {
	keys := []ed25519.PublicKey{current}
	for _, prior := range md.PriorSigningPubs {
		decoded, err := hex.DecodeString(prior)
		if err != nil || len(decoded) != vaultcrypto.PublicKeySize {
			continue
		}
		keys = append(keys, ed25519.PublicKey(decoded))
	}
	return keys
}

// tamper quarantines the engine and logs the integrity failure when the
// signing key can still be reconstructed.
func (e *Engine) tamper(md *metadata) error {
	e.appendBestEffort(logchain.IntegrityFailure, md)
	e.state = StateQuarantined
	return ErrTamperDetected
}

// appendBestEffort reconstructs the signing key from the stores to append
// an entry outside an unlocked session. Failure to do so is not fatal for
// the surrounding operation.
func (e *Engine) appendBestEffort(action logchain.Action, md *metadata) {
	signSeed, err := e.combineStoredShares(chunks.SigningKeyPrefix, md.Threshold)
	if err != nil {
		e.log.Warn("cannot sign audit entry", zap.String("action", string(action)), zap.Error(err))
		return
	}
	priv := vaultcrypto.SigningKeyFromSeed(signSeed)
	e.appendSigned(action, priv)
	clear(priv)
	clear(signSeed)
}

func (e *Engine) appendSigned(action logchain.Action, priv ed25519.PrivateKey) {
	if _, err := e.chain.Append(action, priv); err != nil {
		e.log.Warn("audit append failed", zap.String("action", string(action)), zap.Error(err))
	}
}

// commitArtifacts stages all three artifacts as .tmp siblings, then renames
// them into place vault-first and manifest-last, so an interrupted save
// leaves either the prior consistent state or a mix the manifest check
// rejects deterministically.
func (e *Engine) commitArtifacts(vaultData, metaData, manifestData []byte) error {
	targets := []struct {
		path string
		data []byte
	}{
		{e.layout.VaultFile(), vaultData},
		{e.layout.MetadataFile(), metaData},
		{e.layout.ManifestFile(), manifestData},
	}
	for _, t := range targets {
		if err := stageFile(t.path+".tmp", t.data); err != nil {
			return err
		}
	}
	for _, t := range targets {
		if err := os.Rename(t.path+".tmp", t.path); err != nil {
			return errors2.Wrapf(err, "unable to place `%s`", t.path)
		}
	}
	return nil
}

func (e *Engine) zeroizeSession() {
	clear(e.masterKey)
	clear(e.signSeed)
	e.masterKey = nil
	e.signSeed = nil
	e.secrets = nil
	e.meta = nil
}

func stageFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errors2.Wrapf(err, "unable to create `%s`", path)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors2.Wrapf(err, "unable to write `%s`", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors2.Wrapf(err, "unable to sync `%s`", path)
	}
	return f.Close()
}

func saltAndFingerprint(salt []byte, fp [32]byte) []byte {
	out := make([]byte, 0, len(salt)+len(fp))
	out = append(out, salt...)
	out = append(out, fp[:]...)
	return out
}

// vaultKeyFrom binds the vault ciphertext to both the derived working key
// and the reconstructed master key.
func vaultKeyFrom(wk, masterKey []byte) []byte {
	preimage := make([]byte, 0, len(wk)+len(masterKey))
	preimage = append(preimage, wk...)
	preimage = append(preimage, masterKey...)
	key := vaultcrypto.Hash(preimage)
	clear(preimage)
	return key
}

// diffChanges derives the audit trail of a save: one entry per addition,
// then per update, then per removal. Record names never enter the log.
func diffChanges(before, after SecretsMap) []logchain.Action {
	var added, updated, removed int
	for name, rec := range after {
		prev, ok := before[name]
		switch {
		case !ok:
			added++
		case !prev.equal(rec):
			updated++
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			removed++
		}
	}

	changes := make([]logchain.Action, 0, added+updated+removed)
	for i := 0; i < added; i++ {
		changes = append(changes, logchain.SecretAdded)
	}
	for i := 0; i < updated; i++ {
		changes = append(changes, logchain.SecretUpdated)
	}
	for i := 0; i < removed; i++ {
		changes = append(changes, logchain.SecretRemoved)
	}
	return changes
}

func normalizePhrase(phrase string) string {
	return string(bytes.Join(bytes.Fields([]byte(phrase)), []byte(" ")))
}
