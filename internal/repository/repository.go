// Package repository implements the repository engine: the top-level
// lifecycle (create/open/commit), header serialization, master-key
// management, password change, verify, stats, and GC of unreferenced
// blocks. State is a single engine value guarded by a sync.RWMutex,
// matching the teacher's single-writer/many-reader engine shape
// (internal/engine/engine.go).
package repository

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	coldkeep "github.com/coldkeep/coldkeep"
	"github.com/coldkeep/coldkeep/internal/backend"
	"github.com/coldkeep/coldkeep/internal/blockcodec"
	"github.com/coldkeep/coldkeep/internal/chunker"
	"github.com/coldkeep/coldkeep/internal/chunkstore"
	"github.com/coldkeep/coldkeep/internal/header"
	"github.com/coldkeep/coldkeep/internal/keymgmt"
	"github.com/coldkeep/coldkeep/internal/lock"
	"github.com/coldkeep/coldkeep/internal/object"
	"github.com/coldkeep/coldkeep/internal/recovery"
	"github.com/coldkeep/coldkeep/internal/repoconfig"
)

// Repository is the engine owning a repository's mutable Header,
// MasterKey, and backend handle. Object handles borrow access to it
// per-call via the object.Engine interface it implements.
type Repository[K comparable] struct {
	mu sync.RWMutex

	back    backend.Backend
	codec   *blockcodec.Codec
	store   *chunkstore.Store
	chunker *chunker.Chunker
	header  *header.Header[K]
	meta    RepositoryMetadata

	masterKey  *keymgmt.Key
	lockHandle *lock.Handle

	log *zap.Logger
}

func buildCodec(meta RepositoryMetadata) (*blockcodec.Codec, error) {
	return blockcodec.New(meta.Compression, meta.CompressionLevel, meta.Encryption)
}

func buildChunker(meta RepositoryMetadata) (*chunker.Chunker, error) {
	return chunker.New(chunker.Config{
		MinSize:    meta.ChunkerMinSize,
		AvgSize:    meta.ChunkerAvgSize,
		MaxSize:    meta.ChunkerMaxSize,
		Polynomial: meta.ChunkerPoly,
	})
}

// Create initializes a fresh repository on back. All failures leave the
// backend without a VERSION block (not-a-repository). password must be
// supplied iff opts.Encryption enables encryption.
func Create[K comparable](back backend.Backend, table *lock.Table, opts repoconfig.CreateOptions, password []byte, log *zap.Logger) (*Repository[K], error) {
	const op = "repository.Create"

	if err := opts.Validate(); err != nil {
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	}
	encEnabled := opts.Encryption != blockcodec.EncryptionNone
	if encEnabled && len(password) == 0 {
		return nil, coldkeep.E(op, coldkeep.KindPassword, errPasswordRequired())
	}
	if !encEnabled && len(password) != 0 {
		return nil, coldkeep.E(op, coldkeep.KindPassword, errPasswordNotAllowed())
	}

	repoID := uuid.New()
	lockHandle, err := table.Acquire(repoID, lock.Abort)
	if err != nil {
		return nil, coldkeep.E(op, coldkeep.KindAlreadyExists, err)
	}
	release := true
	defer func() {
		if release {
			lockHandle.Release()
		}
	}()

	if _, ok, err := back.ReadBlock(backend.VersionBlockID); err != nil {
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	} else if ok {
		return nil, coldkeep.E(op, coldkeep.KindAlreadyExists, errAlreadyHasVersion())
	}

	codec, err := blockcodec.New(opts.Compression, opts.CompressionLevel, opts.Encryption)
	if err != nil {
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	}

	masterKeySize := 0
	if encEnabled {
		masterKeySize = codec.KeySize()
	}
	masterKey, err := keymgmt.GenerateMasterKey(masterKeySize)
	if err != nil {
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	}

	salt, err := keymgmt.GenerateSalt()
	if err != nil {
		masterKey.Destroy()
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	}

	kdfParams := keymgmt.KDFParams{MemLimitKiB: opts.KDFMemLimit, OpsLimit: opts.KDFOpsLimit, Threads: 4}
	var wrapped []byte
	if encEnabled {
		userKey := keymgmt.DeriveUserKey(password, salt, codec.KeySize(), kdfParams)
		encryptor, err := blockcodec.NewEncryptor(opts.Encryption)
		if err != nil {
			userKey.Destroy()
			masterKey.Destroy()
			return nil, coldkeep.E(op, coldkeep.KindIo, err)
		}
		wrapped, err = keymgmt.Wrap(encryptor, userKey.Bytes(), masterKey.Bytes())
		userKey.Destroy()
		if err != nil {
			masterKey.Destroy()
			return nil, err
		}
	}

	chunkCfg, err := chunker.DefaultConfig(opts.ChunkerBits)
	if err != nil {
		masterKey.Destroy()
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	}
	ck, err := chunker.New(chunkCfg)
	if err != nil {
		masterKey.Destroy()
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	}

	store := chunkstore.New(back, codec, masterKey.Bytes())

	h := header.New[K]()
	headerBytes, err := header.Encode(h)
	if err != nil {
		masterKey.Destroy()
		return nil, err
	}
	encodedHeader, err := store.EncodeHeaderBlock(headerBytes)
	if err != nil {
		masterKey.Destroy()
		return nil, err
	}
	newHeaderID := backend.NewBlockID()
	if err := back.WriteBlock(newHeaderID, encodedHeader); err != nil {
		masterKey.Destroy()
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	}

	meta := RepositoryMetadata{
		RepoID:             repoID,
		ChunkerBits:        opts.ChunkerBits,
		ChunkerMinSize:     chunkCfg.MinSize,
		ChunkerAvgSize:     chunkCfg.AvgSize,
		ChunkerMaxSize:     chunkCfg.MaxSize,
		ChunkerPoly:        chunkCfg.Polynomial,
		Compression:        opts.Compression,
		CompressionLevel:   opts.CompressionLevel,
		Encryption:         opts.Encryption,
		KDFMemLimit:        opts.KDFMemLimit,
		KDFOpsLimit:        opts.KDFOpsLimit,
		EncryptedMasterKey: wrapped,
		Salt:               salt,
		HeaderBlockID:      newHeaderID,
		CreationTime:       time.Now().UTC(),
	}
	metaBytes, err := encodeMetadata(&meta)
	if err != nil {
		masterKey.Destroy()
		return nil, err
	}
	if err := back.WriteBlock(backend.MetadataBlockID, metaBytes); err != nil {
		masterKey.Destroy()
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	}

	if err := back.WriteBlock(backend.VersionBlockID, []byte(VersionMagic)); err != nil {
		masterKey.Destroy()
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	}

	if log != nil {
		log.Info("repository created", zap.String("repo_id", repoID.String()))
	}

	release = false
	return &Repository[K]{
		back:       back,
		codec:      codec,
		store:      store,
		chunker:    ck,
		header:     h,
		meta:       meta,
		masterKey:  masterKey,
		lockHandle: lockHandle,
		log:        log,
	}, nil
}

// Open opens an existing repository, deriving the MasterKey from
// password via the stored salt and KDF parameters.
func Open[K comparable](back backend.Backend, table *lock.Table, strategy lock.Strategy, password []byte, log *zap.Logger) (*Repository[K], error) {
	return open[K](back, table, strategy, log, func(meta RepositoryMetadata, codec *blockcodec.Codec) (*keymgmt.Key, error) {
		if meta.Encryption == blockcodec.EncryptionNone {
			return keymgmt.NewKey(nil), nil
		}
		kdfParams := keymgmt.KDFParams{MemLimitKiB: meta.KDFMemLimit, OpsLimit: meta.KDFOpsLimit, Threads: 4}
		userKey := keymgmt.DeriveUserKey(password, meta.Salt, codec.KeySize(), kdfParams)
		defer userKey.Destroy()
		encryptor, err := blockcodec.NewEncryptor(meta.Encryption)
		if err != nil {
			return nil, coldkeep.E("repository.Open", coldkeep.KindIo, err)
		}
		return keymgmt.Unwrap(encryptor, userKey.Bytes(), meta.EncryptedMasterKey)
	})
}

// OpenWithRecoverySlot opens an existing repository using an escrow
// recovery private key instead of the password, bypassing the password
// path entirely.
func OpenWithRecoverySlot[K comparable](back backend.Backend, table *lock.Table, strategy lock.Strategy, slotID uint8, privateKey []byte, log *zap.Logger) (*Repository[K], error) {
	return open[K](back, table, strategy, log, func(meta RepositoryMetadata, codec *blockcodec.Codec) (*keymgmt.Key, error) {
		for _, slot := range meta.RecoverySlots {
			if slot.SlotID == slotID {
				raw, err := recovery.Recover(privateKey, slot)
				if err != nil {
					return nil, err
				}
				return keymgmt.NewKey(raw), nil
			}
		}
		return nil, coldkeep.E("repository.OpenWithRecoverySlot", coldkeep.KindNotFound, errNoSuchSlot(slotID))
	})
}

func open[K comparable](back backend.Backend, table *lock.Table, strategy lock.Strategy, log *zap.Logger,
	resolveMasterKey func(meta RepositoryMetadata, codec *blockcodec.Codec) (*keymgmt.Key, error)) (*Repository[K], error) {
	const op = "repository.Open"

	peeked, err := Peek(back)
	if err != nil {
		return nil, err
	}

	lockHandle, err := table.Acquire(peeked.RepoID, strategy)
	if err != nil {
		return nil, err
	}
	release := true
	defer func() {
		if release {
			lockHandle.Release()
		}
	}()

	versionBytes, ok, err := back.ReadBlock(backend.VersionBlockID)
	if err != nil {
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	}
	if !ok {
		return nil, coldkeep.E(op, coldkeep.KindNotFound, errNoVersion())
	}
	if string(versionBytes) != VersionMagic {
		return nil, coldkeep.E(op, coldkeep.KindUnsupportedFormat, errVersionMismatch(string(versionBytes)))
	}

	metaBytes, ok, err := back.ReadBlock(backend.MetadataBlockID)
	if err != nil {
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	}
	if !ok {
		return nil, coldkeep.E(op, coldkeep.KindNotFound, errNoMetadata())
	}
	meta, err := decodeMetadata(metaBytes)
	if err != nil {
		return nil, err
	}

	codec, err := buildCodec(meta)
	if err != nil {
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	}

	masterKey, err := resolveMasterKey(meta, codec)
	if err != nil {
		return nil, err
	}

	store := chunkstore.New(back, codec, masterKey.Bytes())

	encodedHeader, ok, err := back.ReadBlock(meta.HeaderBlockID)
	if err != nil {
		masterKey.Destroy()
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	}
	if !ok {
		masterKey.Destroy()
		return nil, coldkeep.E(op, coldkeep.KindCorrupt, errMissingHeaderBlock(meta.HeaderBlockID))
	}
	headerBytes, err := store.DecodeHeaderBlock(encodedHeader)
	if err != nil {
		masterKey.Destroy()
		return nil, err
	}
	h, err := header.Decode[K](headerBytes)
	if err != nil {
		masterKey.Destroy()
		return nil, err
	}

	ck, err := buildChunker(meta)
	if err != nil {
		masterKey.Destroy()
		return nil, coldkeep.E(op, coldkeep.KindIo, err)
	}

	if log != nil {
		log.Info("repository opened", zap.String("repo_id", meta.RepoID.String()))
	}

	release = false
	return &Repository[K]{
		back:       back,
		codec:      codec,
		store:      store,
		chunker:    ck,
		header:     h,
		meta:       meta,
		masterKey:  masterKey,
		lockHandle: lockHandle,
		log:        log,
	}, nil
}

// Close releases the process lock and zeroizes the MasterKey. A
// Repository must not be used after Close.
func (r *Repository[K]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lockHandle != nil {
		r.lockHandle.Release()
		r.lockHandle = nil
	}
	r.masterKey.Destroy()
	return nil
}

