// internal/repository/repository_test.go
package repository

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coldkeep "github.com/coldkeep/coldkeep"
	"github.com/coldkeep/coldkeep/internal/backend"
	"github.com/coldkeep/coldkeep/internal/blockcodec"
	"github.com/coldkeep/coldkeep/internal/lock"
	"github.com/coldkeep/coldkeep/internal/object"
	"github.com/coldkeep/coldkeep/internal/recovery"
	"github.com/coldkeep/coldkeep/internal/repoconfig"
)

func unencryptedOpts() repoconfig.CreateOptions {
	return repoconfig.CreateOptions{
		ChunkerBits: 16,
		Compression: blockcodec.CompressionZstd,
		CompressionLevel: 3,
		Encryption:  blockcodec.EncryptionNone,
	}
}

func encryptedOpts() repoconfig.CreateOptions {
	return repoconfig.CreateOptions{
		ChunkerBits:      16,
		Compression:      blockcodec.CompressionZstd,
		CompressionLevel: 3,
		Encryption:       blockcodec.EncryptionAESGCM,
		KDFMemLimit:      8 * 1024,
		KDFOpsLimit:      1,
	}
}

func writeAll(t *testing.T, h *object.Handle[string], data []byte) {
	t.Helper()
	_, err := h.Write(data)
	require.NoError(t, err)
	require.NoError(t, h.Flush())
}

func readAll(t *testing.T, h *object.Handle[string]) []byte {
	t.Helper()
	size, err := h.Size()
	require.NoError(t, err)
	_, err = h.Seek(0, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, size)
	_, err = io.ReadFull(h, buf)
	require.NoError(t, err)
	return buf
}

// S1 (reduced size): about 1.9MiB of content with a repeated internal
// block deduplicates across two keys in an encrypted, password-protected
// repository.
func TestScenario_DedupAcrossKeysEncrypted(t *testing.T) {
	back := backend.NewMemory()
	table := lock.NewTable()

	repo, err := Create[string](back, table, encryptedOpts(), []byte("hunter2"), nil)
	require.NoError(t, err)
	defer repo.Close()

	block := bytes.Repeat([]byte("REPEATED-BLOCK-"), 64*1024) // 960KiB repeated unit
	payload := append(append([]byte{}, block...), block...)   // 1.875MiB, fully duplicated

	h1 := repo.Insert("obj1")
	writeAll(t, h1, payload)
	h2 := repo.Insert("obj2")
	writeAll(t, h2, payload)

	require.NoError(t, repo.Commit())

	stats := repo.Stats()
	assert.Equal(t, uint64(len(payload))*2, stats.ApparentSize)
	assert.Less(t, stats.ActualSize, stats.ApparentSize, "duplicated content across two objects must not double physical usage")

	got1 := readAll(t, h1)
	got2 := readAll(t, h2)
	assert.True(t, bytes.Equal(got1, payload))
	assert.True(t, bytes.Equal(got2, payload))
}

// S2: an uncommitted Insert does not survive reopening the backend.
func TestScenario_UncommittedInsertDoesNotSurviveReopen(t *testing.T) {
	back := backend.NewMemory()
	table := lock.NewTable()

	repo, err := Create[string](back, table, unencryptedOpts(), nil, nil)
	require.NoError(t, err)

	h := repo.Insert("ghost")
	writeAll(t, h, []byte("never committed"))
	require.NoError(t, repo.Close())

	reopened, err := Open[string](back, table, lock.Abort, nil, nil)
	require.NoError(t, err)
	defer reopened.Close()

	assert.False(t, reopened.Contains("ghost"), "uncommitted insert must not survive reopening")
}

// S3: Verify detects a chunk whose stored bytes were flipped.
func TestScenario_VerifyDetectsCorruption(t *testing.T) {
	back := backend.NewMemory()
	table := lock.NewTable()

	repo, err := Create[string](back, table, unencryptedOpts(), nil, nil)
	require.NoError(t, err)
	defer repo.Close()

	h := repo.Insert("doc")
	writeAll(t, h, bytes.Repeat([]byte("integrity check data "), 500))
	require.NoError(t, repo.Commit())

	corrupt, err := repo.Verify()
	require.NoError(t, err)
	assert.Empty(t, corrupt)

	// Flip a byte in one of the backend's stored blocks directly.
	ids, err := back.ListBlocks()
	require.NoError(t, err)
	var flipped bool
	for _, id := range ids {
		if id == backend.MetadataBlockID || id == backend.VersionBlockID || id == repo.meta.HeaderBlockID {
			continue
		}
		data, ok, err := back.ReadBlock(id)
		require.NoError(t, err)
		if !ok || len(data) == 0 {
			continue
		}
		data[0] ^= 0xFF
		require.NoError(t, back.WriteBlock(id, data))
		flipped = true
		break
	}
	require.True(t, flipped, "test setup must find a non-fixed block to corrupt")

	corrupt, err = repo.Verify()
	require.NoError(t, err)
	assert.Contains(t, corrupt, "doc")
}

// S5: Copy plus Remove of the source preserves content and apparent size.
func TestScenario_CopyThenRemoveSourcePreservesContent(t *testing.T) {
	back := backend.NewMemory()
	table := lock.NewTable()

	repo, err := Create[string](back, table, unencryptedOpts(), nil, nil)
	require.NoError(t, err)
	defer repo.Close()

	content := bytes.Repeat([]byte("copy me please "), 1000)
	h := repo.Insert("src")
	writeAll(t, h, content)
	require.NoError(t, repo.Commit())

	require.NoError(t, repo.Copy("src", "dst"))
	require.True(t, repo.Remove("src"))
	require.NoError(t, repo.Commit())

	assert.False(t, repo.Contains("src"))
	dstHandle, ok := repo.Get("dst")
	require.True(t, ok)
	got := readAll(t, dstHandle)
	assert.True(t, bytes.Equal(got, content))

	stats := repo.Stats()
	assert.Equal(t, uint64(len(content)), stats.ApparentSize)
}

// S6: a second Abort-strategy open of the same repository fails Locked
// while the first is still held.
func TestScenario_SecondAbortOpenIsLocked(t *testing.T) {
	back := backend.NewMemory()
	table := lock.NewTable()

	repo, err := Create[string](back, table, unencryptedOpts(), nil, nil)
	require.NoError(t, err)
	defer repo.Close()

	_, err = Open[string](back, table, lock.Abort, nil, nil)
	assert.True(t, coldkeep.Is(err, coldkeep.KindLocked))
}

func TestCreate_RejectsPasswordMismatch(t *testing.T) {
	back := backend.NewMemory()
	table := lock.NewTable()

	_, err := Create[string](back, table, encryptedOpts(), nil, nil)
	assert.True(t, coldkeep.Is(err, coldkeep.KindPassword), "encrypted repo without a password must fail")

	_, err = Create[string](back, table, unencryptedOpts(), []byte("unwanted"), nil)
	assert.True(t, coldkeep.Is(err, coldkeep.KindPassword), "unencrypted repo with a password must fail")
}

func TestCreate_RefusesExistingRepository(t *testing.T) {
	back := backend.NewMemory()
	table := lock.NewTable()

	repo, err := Create[string](back, table, unencryptedOpts(), nil, nil)
	require.NoError(t, err)
	repo.Close()

	_, err = Create[string](back, table, unencryptedOpts(), nil, nil)
	assert.True(t, coldkeep.Is(err, coldkeep.KindAlreadyExists))
}

func TestOpen_WrongPasswordFails(t *testing.T) {
	back := backend.NewMemory()
	table := lock.NewTable()

	repo, err := Create[string](back, table, encryptedOpts(), []byte("correct"), nil)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	_, err = Open[string](back, table, lock.Abort, []byte("wrong"), nil)
	assert.True(t, coldkeep.Is(err, coldkeep.KindPassword))
}

func TestOpen_RejectsKeyTypeMismatch(t *testing.T) {
	back := backend.NewMemory()
	table := lock.NewTable()

	repo, err := Create[int](back, table, unencryptedOpts(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	_, err = Open[string](back, table, lock.Abort, nil, nil)
	assert.True(t, coldkeep.Is(err, coldkeep.KindKeyType))
}

func TestChangePassword_NewPasswordOpensAfterCommit(t *testing.T) {
	back := backend.NewMemory()
	table := lock.NewTable()

	repo, err := Create[string](back, table, encryptedOpts(), []byte("old-pw"), nil)
	require.NoError(t, err)

	h := repo.Insert("k")
	writeAll(t, h, []byte("secret data"))
	require.NoError(t, repo.Commit())

	require.NoError(t, repo.ChangePassword([]byte("new-pw")))
	require.NoError(t, repo.Commit())
	require.NoError(t, repo.Close())

	_, err = Open[string](back, table, lock.Abort, []byte("old-pw"), nil)
	assert.Error(t, err, "old password must no longer open the repository")

	reopened, err := Open[string](back, table, lock.Abort, []byte("new-pw"), nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("secret data"), readAll(t, got))
}

func TestRecoverySlot_OpensWithoutPassword(t *testing.T) {
	back := backend.NewMemory()
	table := lock.NewTable()

	pub, priv, err := recovery.GenerateKeyPair()
	require.NoError(t, err)

	repo, err := Create[string](back, table, encryptedOpts(), []byte("pw"), nil)
	require.NoError(t, err)

	require.NoError(t, repo.AddRecoverySlot(7, pub))
	h := repo.Insert("k")
	writeAll(t, h, []byte("escrowed data"))
	require.NoError(t, repo.Commit())
	require.NoError(t, repo.Close())

	recovered, err := OpenWithRecoverySlot[string](back, table, lock.Abort, 7, priv, nil)
	require.NoError(t, err)
	defer recovered.Close()

	handle, ok := recovered.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("escrowed data"), readAll(t, handle))
}

func TestCommit_ReclaimsOrphanedBlocks(t *testing.T) {
	back := backend.NewMemory()
	table := lock.NewTable()

	repo, err := Create[string](back, table, unencryptedOpts(), nil, nil)
	require.NoError(t, err)
	defer repo.Close()

	h := repo.Insert("k")
	writeAll(t, h, bytes.Repeat([]byte("to be deleted "), 2000))
	require.NoError(t, repo.Commit())

	before, err := back.ListBlocks()
	require.NoError(t, err)

	require.True(t, repo.Remove("k"))
	require.NoError(t, repo.Commit())

	after, err := back.ListBlocks()
	require.NoError(t, err)
	assert.Less(t, len(after), len(before), "removing the sole reference to a set of chunks must reclaim their blocks on commit")
}

func TestStaleHandle_FailsAfterRemove(t *testing.T) {
	back := backend.NewMemory()
	table := lock.NewTable()

	repo, err := Create[string](back, table, unencryptedOpts(), nil, nil)
	require.NoError(t, err)
	defer repo.Close()

	h := repo.Insert("k")
	writeAll(t, h, []byte("data"))

	require.True(t, repo.Remove("k"))

	_, err = h.Read(make([]byte, 4))
	assert.True(t, coldkeep.Is(err, coldkeep.KindNotFound))
}

func TestPeek_ReportsRepoInfoWithoutLocking(t *testing.T) {
	back := backend.NewMemory()
	table := lock.NewTable()

	repo, err := Create[string](back, table, unencryptedOpts(), nil, nil)
	require.NoError(t, err)

	info, err := Peek(back)
	require.NoError(t, err)
	assert.Equal(t, repo.Info().RepoID, info.RepoID)

	require.NoError(t, repo.Close())
}

func TestPeek_NotFoundOnEmptyBackend(t *testing.T) {
	_, err := Peek(backend.NewMemory())
	assert.True(t, coldkeep.Is(err, coldkeep.KindNotFound))
}

func TestGenerateMasterKeyEntropy(t *testing.T) {
	// sanity check that the test environment's RNG is usable; guards
	// against a broken crypto/rand source masking unrelated failures.
	buf := make([]byte, 32)
	_, err := rand.Read(buf)
	require.NoError(t, err)
}
