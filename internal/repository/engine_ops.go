package repository

import (
	"go.uber.org/zap"

	coldkeep "github.com/coldkeep/coldkeep"
	"github.com/coldkeep/coldkeep/internal/backend"
	"github.com/coldkeep/coldkeep/internal/blockcodec"
	"github.com/coldkeep/coldkeep/internal/chunker"
	"github.com/coldkeep/coldkeep/internal/header"
	"github.com/coldkeep/coldkeep/internal/keymgmt"
	"github.com/coldkeep/coldkeep/internal/object"
	"github.com/coldkeep/coldkeep/internal/recovery"
)

// --- object.Engine[K] implementation: each method takes its own short
// lock, so a Handle never holds the engine lock across calls. ---

func (r *Repository[K]) Descriptor(key K) (header.ObjectDescriptor, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.header.Objects[key]
	return d, ok, nil
}

func (r *Repository[K]) SetDescriptor(key K, desc header.ObjectDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.header.Objects[key]; !ok {
		return coldkeep.E("repository.SetDescriptor", coldkeep.KindNotFound, errKeyRemoved(key))
	}
	r.header.Objects[key] = desc
	return nil
}

func (r *Repository[K]) ChunkInfo(hash header.ChunkHash) (header.Chunk, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.header.Chunks[hash]
	return c, ok, nil
}

func (r *Repository[K]) RecordChunk(c header.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.header.Chunks[c.Hash] = c
	return nil
}

func (r *Repository[K]) PutChunk(data []byte) (header.Chunk, error) {
	return r.store.PutChunk(data)
}

func (r *Repository[K]) ReadChunk(c header.Chunk) ([]byte, error) {
	return r.store.ReadChunk(c)
}

func (r *Repository[K]) Chunker() *chunker.Chunker {
	return r.chunker
}

var _ object.Engine[string] = (*Repository[string])(nil)

// --- Mutation API, spec.md §4.4.3 ---

// Contains reports whether key currently has an object.
func (r *Repository[K]) Contains(key K) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.header.Objects[key]
	return ok
}

// Insert replaces key with a fresh empty object, drops chunks only the
// replaced object referenced, and returns a writable handle.
func (r *Repository[K]) Insert(key K) *object.Handle[K] {
	r.mu.Lock()
	r.header.Objects[key] = header.ObjectDescriptor{}
	r.header.CleanChunks()
	r.mu.Unlock()
	return object.New[K](key, r)
}

// Remove deletes key's object, if present, and drops now-orphaned
// chunks. Space is reclaimed only at the next Commit.
func (r *Repository[K]) Remove(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.header.Objects[key]; !ok {
		return false
	}
	delete(r.header.Objects, key)
	r.header.CleanChunks()
	return true
}

// Get returns a handle over key's current object, if any.
func (r *Repository[K]) Get(key K) (*object.Handle[K], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.header.Objects[key]; !ok {
		return nil, false
	}
	return object.New[K](key, r), true
}

// Copy makes dst reference the same chunk list as src in O(1); chunks
// are shared through the Header until one side is written to.
func (r *Repository[K]) Copy(src, dst K) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.header.Objects[dst]; ok {
		return coldkeep.E("repository.Copy", coldkeep.KindAlreadyExists, errDstExists(dst))
	}
	d, ok := r.header.Objects[src]
	if !ok {
		return coldkeep.E("repository.Copy", coldkeep.KindNotFound, errSrcMissing(src))
	}
	r.header.Objects[dst] = d
	return nil
}

// Keys returns the current set of keys, in unspecified order.
func (r *Repository[K]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]K, 0, len(r.header.Objects))
	for k := range r.header.Objects {
		keys = append(keys, k)
	}
	return keys
}

// --- Commit, spec.md §4.4.4 ---

// Commit persists the in-memory Header via copy-on-write-plus-pointer-
// swap, then sweeps orphaned blocks.
func (r *Repository[K]) Commit() error {
	const op = "repository.Commit"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.header.CleanChunks()

	headerBytes, err := header.Encode(r.header)
	if err != nil {
		return err
	}
	encoded, err := r.store.EncodeHeaderBlock(headerBytes)
	if err != nil {
		return err
	}
	newHeaderID := backend.NewBlockID()
	if err := r.back.WriteBlock(newHeaderID, encoded); err != nil {
		return coldkeep.E(op, coldkeep.KindIo, err)
	}

	r.meta.HeaderBlockID = newHeaderID
	metaBytes, err := encodeMetadata(&r.meta)
	if err != nil {
		return err
	}
	if err := r.back.WriteBlock(backend.MetadataBlockID, metaBytes); err != nil {
		return coldkeep.E(op, coldkeep.KindIo, err)
	}

	keep := make(map[backend.BlockID]struct{}, len(r.header.Chunks)+2)
	keep[backend.MetadataBlockID] = struct{}{}
	keep[backend.VersionBlockID] = struct{}{}
	keep[newHeaderID] = struct{}{}
	for _, c := range r.header.Chunks {
		keep[c.BlockID] = struct{}{}
	}

	ids, err := r.back.ListBlocks()
	if err != nil {
		return coldkeep.E(op, coldkeep.KindIo, err)
	}
	for _, id := range ids {
		if _, ok := keep[id]; ok {
			continue
		}
		if err := r.back.RemoveBlock(id); err != nil {
			return coldkeep.E(op, coldkeep.KindIo, err)
		}
	}

	if r.log != nil {
		r.log.Info("repository committed",
			zap.String("repo_id", r.meta.RepoID.String()),
			zap.Int("chunks", len(r.header.Chunks)),
			zap.Int("objects", len(r.header.Objects)))
	}
	return nil
}

// --- Verify, spec.md §4.4.5 ---

// Verify reads every chunk, compares length and recomputed hash against
// the recorded Chunk, and returns the set of keys with at least one
// corrupt chunk.
func (r *Repository[K]) Verify() (map[K]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	corruptChunks := make(map[header.ChunkHash]struct{})
	for hash, c := range r.header.Chunks {
		data, err := r.store.ReadChunk(c)
		if err != nil {
			if coldkeep.Is(err, coldkeep.KindInvalidData) || coldkeep.Is(err, coldkeep.KindCorrupt) {
				corruptChunks[hash] = struct{}{}
				continue
			}
			return nil, err
		}
		if uint32(len(data)) != c.Size || header.HashBytes(data) != c.Hash {
			corruptChunks[hash] = struct{}{}
		}
	}

	if len(corruptChunks) == 0 {
		return map[K]struct{}{}, nil
	}

	result := make(map[K]struct{})
	for key, desc := range r.header.Objects {
		for _, h := range desc.Chunks {
			if _, bad := corruptChunks[h]; bad {
				result[key] = struct{}{}
				break
			}
		}
	}
	return result, nil
}

// --- Stats, spec.md §4.4.8 ---

// Stats reports apparent (logical) and actual (unique physical) size.
func (r *Repository[K]) Stats() RepositoryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s RepositoryStats
	for _, d := range r.header.Objects {
		s.ApparentSize += d.Size
	}
	for _, c := range r.header.Chunks {
		s.ActualSize += uint64(c.Size)
	}
	return s
}

// Info returns the repository's public info without touching the
// Header.
func (r *Repository[K]) Info() RepositoryInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.meta.info()
}

// --- Change password / recovery slots, spec.md §4.4.7 + SPEC_FULL §4.7 ---

// ChangePassword derives a new UserKey from newPassword, re-wraps the
// live MasterKey under it, and stores the new salt and wrapped key in
// the in-memory metadata. No chunks are touched; durable after the next
// Commit.
func (r *Repository[K]) ChangePassword(newPassword []byte) error {
	const op = "repository.ChangePassword"
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.meta.Encryption == blockcodec.EncryptionNone {
		return coldkeep.E(op, coldkeep.KindPassword, errEncryptionDisabled())
	}

	newSalt, err := keymgmt.GenerateSalt()
	if err != nil {
		return coldkeep.E(op, coldkeep.KindIo, err)
	}
	kdfParams := keymgmt.KDFParams{MemLimitKiB: r.meta.KDFMemLimit, OpsLimit: r.meta.KDFOpsLimit, Threads: 4}
	newUserKey := keymgmt.DeriveUserKey(newPassword, newSalt, r.codec.KeySize(), kdfParams)
	defer newUserKey.Destroy()

	encryptor, err := blockcodec.NewEncryptor(r.meta.Encryption)
	if err != nil {
		return coldkeep.E(op, coldkeep.KindIo, err)
	}
	wrapped, err := keymgmt.Wrap(encryptor, newUserKey.Bytes(), r.masterKey.Bytes())
	if err != nil {
		return err
	}

	r.meta.Salt = newSalt
	r.meta.EncryptedMasterKey = wrapped
	return nil
}

// AddRecoverySlot seals the live MasterKey for the holder of the given
// ML-KEM-768 public key and appends the resulting slot to metadata,
// durable after the next Commit.
func (r *Repository[K]) AddRecoverySlot(slotID uint8, publicKey []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, err := recovery.AddSlot(slotID, publicKey, r.masterKey.Bytes())
	if err != nil {
		return err
	}
	r.meta.RecoverySlots = append(r.meta.RecoverySlots, slot)
	return nil
}

func errKeyRemoved[K comparable](key K) error {
	return keyRemovedError[K]{key: key}
}

type keyRemovedError[K comparable] struct{ key K }

func (e keyRemovedError[K]) Error() string {
	return "object handle stale: its key was removed"
}

func errDstExists[K comparable](key K) error {
	return dstExistsError[K]{key: key}
}

type dstExistsError[K comparable] struct{ key K }

func (e dstExistsError[K]) Error() string { return "copy destination already exists" }

func errSrcMissing[K comparable](key K) error {
	return srcMissingError[K]{key: key}
}

type srcMissingError[K comparable] struct{ key K }

func (e srcMissingError[K]) Error() string { return "copy source does not exist" }
