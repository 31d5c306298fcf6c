// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

package vault

import (
	"bytes"
	"io"
	mrand "math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"

	"github.com/ursafe-io/ursafe/internal/chunks"
	"github.com/ursafe-io/ursafe/internal/config"
	"github.com/ursafe-io/ursafe/internal/drive"
	"github.com/ursafe-io/ursafe/internal/fingerprint"
	"github.com/ursafe-io/ursafe/internal/logchain"
	"github.com/ursafe-io/ursafe/internal/vaultcrypto"
)

// fastKDF keeps Argon2 cheap in tests; the parameter snapshot mechanics are
// identical to production values.
var fastKDF = vaultcrypto.KDFParams{Time: 1, MemoryKiB: 1024, Threads: 1}

// seededRand serves a fixed prefix first (the master key of scenario E1),
// then deterministic pseudo-randomness.
type seededRand struct {
	prefix []byte
	rest   *mrand.Rand
}

func newSeededRand(prefix []byte) io.Reader {
	return &seededRand{prefix: append([]byte(nil), prefix...), rest: mrand.New(mrand.NewSource(7))}
}

func (r *seededRand) Read(p []byte) (int, error) {
	if len(r.prefix) > 0 {
		n := copy(p, r.prefix)
		r.prefix = r.prefix[n:]
		if n == len(p) {
			return n, nil
		}
		m, err := r.rest.Read(p[n:])
		return n + m, err
	}
	return r.rest.Read(p)
}

func hostInfo(serial string) fingerprint.Collector {
	return func() fingerprint.Info {
		return fingerprint.Info{
			CPUID:       "test-cpu",
			BoardSerial: serial,
			MACs:        []string{"aa:bb:cc:dd:ee:ff"},
			Platform:    "linux/amd64",
		}
	}
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.now = c.now.Add(10 * time.Millisecond)
	return c.now
}

type fixture struct {
	drivePath string
	hostDir   string
	cfg       config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	drivePath := filepath.Join(base, "usb1")
	require.NoError(t, os.MkdirAll(drivePath, 0o700))
	clock := &testClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	return &fixture{
		drivePath: drivePath,
		hostDir:   filepath.Join(base, "host_chunks"),
		cfg: config.Config{
			HostChunkDir: filepath.Join(base, "host_chunks"),
			KDFParams:    fastKDF,
			Threshold:    10,
			TotalShares:  20,
			HostShares:   15,
			DriveShares:  5,
			Clock:        clock.Now,
			Rand:         newSeededRand(bytes.Repeat([]byte{0x01}, 32)),
			Fingerprint:  hostInfo("board-serial-0"),
		},
	}
}

func (f *fixture) engine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(f.drivePath, f.cfg)
	require.NoError(t, err)
	return e
}

func (f *fixture) logEntries(t *testing.T) []logchain.Entry {
	t.Helper()
	entries, err := logchain.New(f.drivePath, nil).Entries()
	require.NoError(t, err)
	return entries
}

func actions(entries []logchain.Entry) []string {
	out := make([]string, len(entries))
	for i, entry := range entries {
		out[i] = entry.Action
	}
	return out
}

// Scenario E1: initialize then unlock.
func TestInitializeThenUnlock(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)

	res, err := e.Initialize("1234")
	require.NoError(t, err)
	assert.NotEmpty(t, res.VaultID)
	assert.Equal(t, 1.0, res.StabilityScore)

	// the recovery phrase encodes the master key the seeded RNG produced
	entropy, err := bip39.EntropyFromMnemonic(res.RecoveryPhrase)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x01}, 32), entropy)

	l := drive.NewLayout(f.drivePath)
	for _, file := range []string{l.VaultFile(), l.MetadataFile(), l.ManifestFile()} {
		_, err := os.Stat(file)
		assert.NoError(t, err, file)
	}

	// drive store carries the tail indices 16..20 of both share sets
	for i := 16; i <= 20; i++ {
		_, err := os.Stat(filepath.Join(l.ChunksDir(), chunks.MasterKeyPrefix+strconv.Itoa(i)))
		assert.NoError(t, err, i)
		_, err = os.Stat(filepath.Join(l.ChunksDir(), chunks.SigningKeyPrefix+strconv.Itoa(i)))
		assert.NoError(t, err, i)
	}
	for i := 1; i <= 15; i++ {
		_, err := os.Stat(filepath.Join(f.hostDir, chunks.MasterKeyPrefix+strconv.Itoa(i)))
		assert.NoError(t, err, i)
	}

	entries := f.logEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "vault_created", entries[0].Action)
	assert.Equal(t, "genesis", entries[0].PrevHash)

	secrets, err := e.Unlock("1234")
	require.NoError(t, err)
	assert.Empty(t, secrets)

	entries = f.logEntries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, "vault_unlocked", entries[1].Action)
	assert.Equal(t, entries[0].CurrentHash, entries[1].PrevHash)
}

// Scenario E2: a wrong PIN fails without touching the log.
func TestUnlockWrongPin(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	_, err := e.Initialize("1234")
	require.NoError(t, err)
	before := len(f.logEntries(t))

	_, err = e.Unlock("9999")
	assert.ErrorIs(t, err, ErrBadPin)
	assert.Len(t, f.logEntries(t), before)
}

// Scenario E3: too few shares.
func TestUnlockInsufficientShares(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	_, err := e.Initialize("1234")
	require.NoError(t, err)

	// delete 11 of the 15 host master-key shares, leaving 4 + 5 on-drive
	for i := 1; i <= 11; i++ {
		require.NoError(t, os.Remove(filepath.Join(f.hostDir, chunks.MasterKeyPrefix+strconv.Itoa(i))))
	}

	_, err = e.Unlock("1234")
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

// Scenario E4: manifest tamper quarantines and is logged.
func TestUnlockTamperedManifest(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	_, err := e.Initialize("1234")
	require.NoError(t, err)

	manifestPath := drive.NewLayout(f.drivePath).ManifestFile()
	raw, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	raw[7] ^= 0x01
	require.NoError(t, os.WriteFile(manifestPath, raw, 0o600))

	_, err = e.Unlock("1234")
	assert.ErrorIs(t, err, ErrTamperDetected)

	entries := f.logEntries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, "integrity_failure", entries[1].Action)
	assert.Equal(t, entries[0].CurrentHash, entries[1].PrevHash)

	// quarantined for the rest of this engine's life
	_, err = e.Unlock("1234")
	assert.ErrorIs(t, err, ErrQuarantined)
}

// Scenario E5: save, lock, unlock round-trip with the audit trail in order.
func TestSaveLockUnlock(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	_, err := e.Initialize("1234")
	require.NoError(t, err)

	_, err = e.Unlock("1234")
	require.NoError(t, err)

	require.NoError(t, e.Save("1234", SecretsMap{"github": PasswordRecord("pw1")}))
	require.NoError(t, e.Lock())

	secrets, err := e.Unlock("1234")
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	assert.Equal(t, PasswordRecord("pw1"), secrets["github"])

	assert.Equal(t,
		[]string{"vault_created", "vault_unlocked", "secret_added", "vault_locked", "vault_unlocked"},
		actions(f.logEntries(t)))
}

// Scenario E6: hardware drift.
func TestUnlockHardwareMismatch(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	_, err := e.Initialize("1234")
	require.NoError(t, err)

	f.cfg.Fingerprint = hostInfo("board-serial-CHANGED")
	moved := f.engine(t)
	_, err = moved.Unlock("1234")
	assert.ErrorIs(t, err, ErrHardwareMismatch)

	entries := f.logEntries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, "fingerprint_mismatch", entries[1].Action)
}

func TestInitializeRefusesExistingVault(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	_, err := e.Initialize("1234")
	require.NoError(t, err)

	_, err = e.Initialize("1234")
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestUnlockNonVaultDrive(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	_, err := e.Unlock("1234")
	assert.ErrorIs(t, err, ErrDriveNotVault)
}

func TestSaveRequiresUnlock(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	_, err := e.Initialize("1234")
	require.NoError(t, err)

	err = e.Save("1234", SecretsMap{"x": NoteRecord("y")})
	assert.ErrorIs(t, err, ErrNotUnlocked)
}

func TestSaveWrongPin(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	_, err := e.Initialize("1234")
	require.NoError(t, err)
	_, err = e.Unlock("1234")
	require.NoError(t, err)

	err = e.Save("9999", SecretsMap{"x": NoteRecord("y")})
	assert.ErrorIs(t, err, ErrBadPin)
}

func TestSaveDiffEntries(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	_, err := e.Initialize("1234")
	require.NoError(t, err)
	_, err = e.Unlock("1234")
	require.NoError(t, err)

	require.NoError(t, e.Save("1234", SecretsMap{
		"github": PasswordRecord("pw1"),
		"email":  PasswordRecord("pw2"),
	}))
	require.NoError(t, e.Save("1234", SecretsMap{
		"github": PasswordRecord("pw1-rotated"),
	}))

	assert.Equal(t,
		[]string{"vault_created", "vault_unlocked",
			"secret_added", "secret_added",
			"secret_updated", "secret_removed"},
		actions(f.logEntries(t)))
}

// Property 7: stale .tmp files from an aborted save never shadow the signed
// state, and a half-renamed save is rejected with a typed error.
func TestSaveAtomicity(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	_, err := e.Initialize("1234")
	require.NoError(t, err)

	l := drive.NewLayout(f.drivePath)

	// crash after staging, before any rename: .tmp residue only
	for _, path := range []string{l.VaultFile(), l.MetadataFile(), l.ManifestFile()} {
		require.NoError(t, os.WriteFile(path+".tmp", []byte("half-written"), 0o600))
	}
	secrets, err := e.Unlock("1234")
	require.NoError(t, err)
	assert.Empty(t, secrets)
	entries, err := os.ReadDir(l.VaultDir())
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tmp")
	}
	require.NoError(t, e.Lock())

	// crash between renames: vault.enc replaced, manifest still prior
	raw, err := os.ReadFile(l.VaultFile())
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	require.NoError(t, os.WriteFile(l.VaultFile(), raw, 0o600))

	moved := f.engine(t)
	_, err = moved.Unlock("1234")
	assert.ErrorIs(t, err, ErrTamperDetected)
}

// Property 8: Lock zeroizes every session buffer.
func TestLockZeroizesSession(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	_, err := e.Initialize("1234")
	require.NoError(t, err)
	_, err = e.Unlock("1234")
	require.NoError(t, err)

	masterKey := e.masterKey
	signSeed := e.signSeed
	require.NotEmpty(t, masterKey)
	require.NotEmpty(t, signSeed)

	require.NoError(t, e.Lock())

	assert.Equal(t, bytes.Repeat([]byte{0x00}, len(masterKey)), masterKey)
	assert.Equal(t, bytes.Repeat([]byte{0x00}, len(signSeed)), signSeed)
	assert.Nil(t, e.masterKey)
	assert.Nil(t, e.signSeed)
	assert.Nil(t, e.secrets)
	assert.Nil(t, e.meta)
}

func TestRepairSharesFromRecoveryPhrase(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	res, err := e.Initialize("1234")
	require.NoError(t, err)

	// lose the host store entirely
	require.NoError(t, os.RemoveAll(f.hostDir))
	_, err = e.Unlock("1234")
	require.ErrorIs(t, err, ErrInsufficientShares)

	require.NoError(t, e.RepairShares("1234", res.RecoveryPhrase))

	secrets, err := e.Unlock("1234")
	require.NoError(t, err)
	assert.Empty(t, secrets)

	acts := actions(f.logEntries(t))
	assert.Contains(t, acts, "shares_repaired")
}

func TestRepairSharesWrongPhrase(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	_, err := e.Initialize("1234")
	require.NoError(t, err)

	otherEntropy := bytes.Repeat([]byte{0x02}, 32)
	otherPhrase, err := bip39.NewMnemonic(otherEntropy)
	require.NoError(t, err)

	err = e.RepairShares("1234", otherPhrase)
	assert.ErrorIs(t, err, ErrBadRecoveryPhrase)

	err = e.RepairShares("1234", "not a phrase at all")
	assert.ErrorIs(t, err, ErrBadRecoveryPhrase)
}

func TestStatusQueries(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)

	status := e.VaultStatus()
	assert.False(t, status.Present)
	assert.Equal(t, "locked", status.State)

	res, err := e.Initialize("1234")
	require.NoError(t, err)

	status = e.VaultStatus()
	assert.True(t, status.Present)
	assert.Empty(t, status.VaultID) // requires an unlocked session

	_, err = e.Unlock("1234")
	require.NoError(t, err)
	status = e.VaultStatus()
	assert.Equal(t, "unlocked", status.State)
	assert.Equal(t, res.VaultID, status.VaultID)

	cs, err := e.ChunkStatus()
	require.NoError(t, err)
	assert.Len(t, cs.HostMasterIndices, 15)
	assert.Len(t, cs.DriveMasterIndices, 5)
	assert.Equal(t, []int{16, 17, 18, 19, 20}, cs.DriveMasterIndices)
	assert.True(t, cs.Recoverable)

	ls, err := e.LogStats()
	require.NoError(t, err)
	assert.Equal(t, 2, ls.Entries)
	assert.Equal(t, "vault_unlocked", ls.LastAction)
	assert.NotEmpty(t, ls.HeadHash)
}

