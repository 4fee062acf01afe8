// Package files implements the chunked file transfer feature adapter
// (§4.6): one file:metadata event on files:main, followed by a run of
// file:chunk events on files:main:<file_id>, each chunk doubly enveloped
// (per-file key, then shared key) and integrity-checked by SHA-256.
package files

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/pocketbridge/sync-core/internal/crypto"
	"github.com/pocketbridge/sync-core/internal/eventlog"
	"github.com/pocketbridge/sync-core/internal/identity"
	"github.com/pocketbridge/sync-core/internal/wire"
)

// MetadataStreamID is the single stream every file:metadata event is
// published on (§4.6).
const MetadataStreamID = "files:main"

// Reference defaults (§6 config table): chunk boundary, parallel
// uploads, and the per-file hard ceiling. These are policy, not
// protocol — callers may override them per Adapter via the With* methods.
const (
	DefaultChunkSize     = 5 * 1024 * 1024
	DefaultParallelChunk = 10
	DefaultMaxFileBytes  = 25 * 1024 * 1024 * 1024
)

// ErrIntegrityFailed is returned by Reassemble when a chunk's stored
// hash doesn't match its decrypted plaintext (§8.e: "Reassembly fails
// with IntegrityFailed").
var ErrIntegrityFailed = fmt.Errorf("files: chunk integrity check failed")

// ChunkStreamID returns the per-file chunk stream name (§3: "files:main:<file-uuid>").
func ChunkStreamID(fileID string) string {
	return "files:main:" + fileID
}

type metadataPayload struct {
	FileID           string `json:"file_id"`
	Name             string `json:"name"`
	Size             int64  `json:"size"`
	MimeType         string `json:"mime_type"`
	TotalChunks      int    `json:"total_chunks"`
	EncryptionKeyB64 string `json:"encryption_key_b64"`
}

type chunkPayload struct {
	FileID      string `json:"file_id"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Data        string `json:"data"`
	Hash        string `json:"hash"`
}

// Builder composes and transmits file:metadata and file:chunk events.
type Builder interface {
	Build(streamID string, eventType wire.EventType, payload any, ttl *int64) (wire.Event, error)
}

// Adapter is the chunked file transfer feature adapter (§4.6).
type Adapter struct {
	builder Builder
	log     *eventlog.Log
	idStore *identity.Store

	chunkSize      int
	parallelChunks int
	maxFileBytes   int64
}

// New constructs a file transfer adapter with the reference defaults;
// use the With* options to override policy.
func New(builder Builder, log *eventlog.Log, idStore *identity.Store) *Adapter {
	return &Adapter{
		builder:        builder,
		log:            log,
		idStore:        idStore,
		chunkSize:      DefaultChunkSize,
		parallelChunks: DefaultParallelChunk,
		maxFileBytes:   DefaultMaxFileBytes,
	}
}

// WithChunkSize overrides the chunk boundary.
func (a *Adapter) WithChunkSize(n int) *Adapter { a.chunkSize = n; return a }

// WithParallelChunks overrides the max concurrent chunk uploads.
func (a *Adapter) WithParallelChunks(n int) *Adapter { a.parallelChunks = n; return a }

// WithMaxFileBytes overrides the per-file hard ceiling.
func (a *Adapter) WithMaxFileBytes(n int64) *Adapter { a.maxFileBytes = n; return a }

// Upload splits data into chunks of the configured size, generates a
// fresh per-file AES-256 key, emits one file:metadata event followed by
// one file:chunk event per chunk (dispatched up to parallelChunks at a
// time, each failure retried once, any remaining failure aborting the
// transfer), per §4.6's upload protocol.
func (a *Adapter) Upload(fileID, name, mimeType string, data []byte) error {
	if int64(len(data)) > a.maxFileBytes {
		return fmt.Errorf("files: %q exceeds max file size %d bytes", name, a.maxFileBytes)
	}

	key := make([]byte, crypto.KeySize)
	crypto.RandomBytes(key)

	chunks := splitChunks(data, a.chunkSize)

	if _, err := a.builder.Build(MetadataStreamID, wire.EventFileMetadata, metadataPayload{
		FileID:           fileID,
		Name:             name,
		Size:             int64(len(data)),
		MimeType:         mimeType,
		TotalChunks:      len(chunks),
		EncryptionKeyB64: base64.StdEncoding.EncodeToString(key),
	}, nil); err != nil {
		return err
	}

	failed := a.dispatchChunks(fileID, key, chunks)
	if len(failed) > 0 {
		failed = a.dispatchIndices(fileID, key, chunks, failed)
	}
	if len(failed) > 0 {
		return fmt.Errorf("files: %d chunk(s) failed after retry for %q", len(failed), name)
	}
	return nil
}

// dispatchChunks uploads every chunk once, up to parallelChunks at a
// time, and returns the indices that failed.
func (a *Adapter) dispatchChunks(fileID string, key []byte, chunks [][]byte) []int {
	indices := make([]int, len(chunks))
	for i := range chunks {
		indices[i] = i
	}
	return a.dispatchIndices(fileID, key, chunks, indices)
}

// dispatchIndices uploads exactly the given chunk indices, bounded by
// parallelChunks concurrent workers (mirroring the bounded-goroutine
// background-loop shape used by the Connection Manager), and returns
// the subset that still failed.
func (a *Adapter) dispatchIndices(fileID string, key []byte, chunks [][]byte, indices []int) []int {
	sem := make(chan struct{}, a.parallelChunks)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []int

	for _, idx := range indices {
		idx := idx
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := a.uploadChunk(fileID, key, idx, len(chunks), chunks[idx]); err != nil {
				mu.Lock()
				failed = append(failed, idx)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Ints(failed)
	return failed
}

func (a *Adapter) uploadChunk(fileID string, key []byte, index, total int, plaintext []byte) error {
	sealed, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		return err
	}

	_, err = a.builder.Build(ChunkStreamID(fileID), wire.EventFileChunk, chunkPayload{
		FileID:      fileID,
		ChunkIndex:  index,
		TotalChunks: total,
		Data:        base64.StdEncoding.EncodeToString(sealed),
		Hash:        crypto.Sha256Hex(plaintext),
	}, nil)
	return err
}

// Reassemble collects every file:chunk event for fileID, sorts by
// chunk_index, verifies each plaintext chunk's hash, decrypts under the
// per-file key (recovered from the file's metadata event), and
// concatenates (§4.6 "Reassembly"). A hash mismatch aborts reassembly
// with ErrIntegrityFailed without touching the session.
func (a *Adapter) Reassemble(fileID string) ([]byte, error) {
	key, err := a.fileKey(fileID)
	if err != nil {
		return nil, err
	}

	stored, err := a.log.ByStream(ChunkStreamID(fileID))
	if err != nil {
		return nil, err
	}

	type indexed struct {
		index int
		data  []byte
	}
	pieces := make([]indexed, 0, len(stored))
	for _, s := range stored {
		plaintext, err := a.decryptChunk(key, s.EncryptedPayload)
		if err != nil {
			return nil, err
		}
		pieces = append(pieces, indexed{index: plaintext.index, data: plaintext.data})
	}
	sort.Slice(pieces, func(i, j int) bool { return pieces[i].index < pieces[j].index })

	var out []byte
	for _, p := range pieces {
		out = append(out, p.data...)
	}
	return out, nil
}

type decryptedChunk struct {
	index int
	data  []byte
}

func (a *Adapter) decryptChunk(key []byte, encryptedPayload string) (decryptedChunk, error) {
	sealed, err := base64.StdEncoding.DecodeString(encryptedPayload)
	if err != nil {
		return decryptedChunk{}, err
	}
	plaintext, err := crypto.Decrypt(a.idStore.SharedKey(), sealed)
	if err != nil {
		return decryptedChunk{}, err
	}

	var p chunkPayload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return decryptedChunk{}, err
	}

	envelope, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return decryptedChunk{}, err
	}
	chunk, err := crypto.Decrypt(key, envelope)
	if err != nil {
		return decryptedChunk{}, err
	}

	if crypto.Sha256Hex(chunk) != p.Hash {
		return decryptedChunk{}, ErrIntegrityFailed
	}
	return decryptedChunk{index: p.ChunkIndex, data: chunk}, nil
}

// fileKey recovers the per-file AES key from the file's metadata event.
func (a *Adapter) fileKey(fileID string) ([]byte, error) {
	stored, err := a.log.ByStream(MetadataStreamID)
	if err != nil {
		return nil, err
	}
	for _, s := range stored {
		sealed, err := base64.StdEncoding.DecodeString(s.EncryptedPayload)
		if err != nil {
			continue
		}
		plaintext, err := crypto.Decrypt(a.idStore.SharedKey(), sealed)
		if err != nil {
			continue
		}
		var m metadataPayload
		if err := json.Unmarshal(plaintext, &m); err != nil {
			continue
		}
		if m.FileID != fileID {
			continue
		}
		return base64.StdEncoding.DecodeString(m.EncryptionKeyB64)
	}
	return nil, fmt.Errorf("files: no metadata found for file_id %q", fileID)
}

func splitChunks(data []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for offset := 0; offset < len(data); offset += size {
		end := offset + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[offset:end])
	}
	return chunks
}
