/*
Package blobstore persists variable-length text content outside the ledger.

PURPOSE:
  The ledger holds numeric truth only. Text values (names, descriptions,
  JSON documents) live here, keyed by a 64-bit digest of the owning account
  name. The ledger keeps a 1-unit existence reference per stored blob; this
  package keeps the content.

KEY LAYOUT (single LevelDB, one-byte prefixes):
  'r' + 8-byte big-endian key   -> record JSON
  'a' + account name            -> 8-byte big-endian key (reverse lookup)
  'h' + 8-byte content hash     -> JSON array of record keys (dedup bucket)

DURABILITY:
  All writes go through a single leveldb.Batch committed with Sync=true, so
  a crash never leaves a record without its indexes.

CONTENT HASHING:
  ContentHash is xxhash64 of the content bytes. Identical content collects
  in one bucket, which gives cheap duplicate detection without comparing
  bodies.

SEE ALSO:
  - router/router.go: decides which values land here vs the ledger
*/
package blobstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/warp/ledger-engine/ledger"
)

const (
	prefixRecord  = 'r'
	prefixAccount = 'a'
	prefixHash    = 'h'
)

// MetaBlobKey is the transfer metadata key carrying the hex blob key on a
// reference transfer. Readers use it to tell a blob-routed 1-unit reference
// from an ordinary numeric balance.
const MetaBlobKey = "blob_key"

// Record is a stored text value and its bookkeeping.
type Record struct {
	Key         uint64    `json:"key"`
	Account     string    `json:"account"`
	Content     string    `json:"content"`
	ContentType string    `json:"content_type"`
	ContentHash uint64    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Stats summarizes store contents.
type Stats struct {
	Records      int   `json:"records"`
	ContentBytes int64 `json:"content_bytes"`
}

// Store is a LevelDB-backed blob store.
type Store struct {
	db *leveldb.DB
	mu sync.Mutex
	wo *opt.WriteOptions
}

// Open opens (or creates) a blob store at the given path, recovering the
// database if a previous crash corrupted the manifest.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if ldberrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}
	return &Store{db: db, wo: &opt.WriteOptions{Sync: true}}, nil
}

// OpenMemory opens a store backed by in-process memory (for testing).
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory blob store: %w", err)
	}
	// Sync is meaningless on memory storage.
	return &Store{db: db, wo: nil}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// KeyFor derives the storage key for an account name.
func KeyFor(account string) uint64 {
	return xxhash.Sum64String(account)
}

// HashContent digests content for the dedup bucket index.
func HashContent(content string) uint64 {
	return xxhash.Sum64String(content)
}

// Put stores content under the account's derived key, replacing any previous
// content. Indexes are rewritten in the same batch.
func (s *Store) Put(_ context.Context, account, content string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := KeyFor(account)
	now := time.Now().UTC()

	rec := Record{
		Key:         key,
		Account:     account,
		Content:     content,
		ContentType: "text/plain",
		ContentHash: HashContent(content),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	batch := new(leveldb.Batch)

	// Read-merge-write on the hash buckets: drop the key from the old
	// content's bucket, add it to the new one.
	old, err := s.getByKeyLocked(key)
	if err == nil {
		rec.CreatedAt = old.CreatedAt
		if old.ContentHash != rec.ContentHash {
			if err := s.removeFromBucketLocked(batch, old.ContentHash, key); err != nil {
				return Record{}, err
			}
		}
	} else if err != ledger.ErrNotFound {
		return Record{}, err
	}

	if err := s.addToBucketLocked(batch, rec.ContentHash, key); err != nil {
		return Record{}, err
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode record: %w", err)
	}
	batch.Put(recordKey(key), body)
	batch.Put(accountKey(account), encodeKey(key))

	if err := s.db.Write(batch, s.wo); err != nil {
		return Record{}, fmt.Errorf("failed to write record: %w", err)
	}
	return rec, nil
}

// Get returns the record stored for an account.
func (s *Store) Get(_ context.Context, account string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getByKeyLocked(KeyFor(account))
}

// GetByKey returns the record stored under a raw key.
func (s *Store) GetByKey(_ context.Context, key uint64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getByKeyLocked(key)
}

// Delete removes an account's record and its index entries, reporting
// whether one was found. Deleting a missing record is not an error.
func (s *Store) Delete(_ context.Context, account string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := KeyFor(account)
	old, err := s.getByKeyLocked(key)
	if err == ledger.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	batch := new(leveldb.Batch)
	if err := s.removeFromBucketLocked(batch, old.ContentHash, key); err != nil {
		return false, err
	}
	batch.Delete(recordKey(key))
	batch.Delete(accountKey(account))

	if err := s.db.Write(batch, s.wo); err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}
	return true, nil
}

// GetAll returns every stored value owned by one record, keyed by field
// name. Ownership is by account naming: a record's fields live on accounts
// named <account>:<field>, so this is a prefix walk of the account index.
func (s *Store) GetAll(_ context.Context, account string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := account + ":"
	iter := s.db.NewIterator(util.BytesPrefix(append([]byte{prefixAccount}, prefix...)), nil)
	defer iter.Release()

	fields := make(map[string]string)
	for iter.Next() {
		name := string(iter.Key()[1:])
		rec, err := s.getByKeyLocked(binary.BigEndian.Uint64(iter.Value()))
		if err == ledger.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		fields[strings.TrimPrefix(name, prefix)] = rec.Content
	}
	return fields, iter.Error()
}

// FindByContentHash returns every record whose content digests to hash.
func (s *Store) FindByContentHash(_ context.Context, hash uint64) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.bucketLocked(hash)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		rec, err := s.getByKeyLocked(key)
		if err == ledger.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// All iterates every stored record in key order.
func (s *Store) All(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter := s.db.NewIterator(util.BytesPrefix([]byte{prefixRecord}), nil)
	defer iter.Release()

	var records []Record
	for iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, iter.Error()
}

// Stats counts stored records and their content bytes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	records, err := s.All(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Records: len(records)}
	for _, rec := range records {
		stats.ContentBytes += int64(len(rec.Content))
	}
	return stats, nil
}

// =============================================================================
// INTERNALS - All require s.mu held
// =============================================================================

func (s *Store) getByKeyLocked(key uint64) (Record, error) {
	body, err := s.db.Get(recordKey(key), nil)
	if err == leveldb.ErrNotFound {
		return Record{}, ledger.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}

func (s *Store) bucketLocked(hash uint64) ([]uint64, error) {
	body, err := s.db.Get(hashKey(hash), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read hash bucket: %w", err)
	}

	var keys []uint64
	if err := json.Unmarshal(body, &keys); err != nil {
		return nil, fmt.Errorf("failed to decode hash bucket: %w", err)
	}
	return keys, nil
}

func (s *Store) addToBucketLocked(batch *leveldb.Batch, hash, key uint64) error {
	keys, err := s.bucketLocked(hash)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	keys = append(keys, key)

	body, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("failed to encode hash bucket: %w", err)
	}
	batch.Put(hashKey(hash), body)
	return nil
}

func (s *Store) removeFromBucketLocked(batch *leveldb.Batch, hash, key uint64) error {
	keys, err := s.bucketLocked(hash)
	if err != nil {
		return err
	}

	kept := keys[:0]
	for _, k := range keys {
		if k != key {
			kept = append(kept, k)
		}
	}

	if len(kept) == 0 {
		batch.Delete(hashKey(hash))
		return nil
	}
	body, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("failed to encode hash bucket: %w", err)
	}
	batch.Put(hashKey(hash), body)
	return nil
}

func recordKey(key uint64) []byte {
	return append([]byte{prefixRecord}, encodeKey(key)...)
}

func accountKey(account string) []byte {
	return append([]byte{prefixAccount}, account...)
}

func hashKey(hash uint64) []byte {
	return append([]byte{prefixHash}, encodeKey(hash)...)
}

func encodeKey(key uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, key)
	return b
}
