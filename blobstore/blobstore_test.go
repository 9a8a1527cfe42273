package blobstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/blobstore"
	"github.com/warp/ledger-engine/ledger"
)

func newTestStore(t *testing.T) *blobstore.Store {
	t.Helper()
	s, err := blobstore.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBlobStore_PutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Put(ctx, "user:1:email", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, blobstore.KeyFor("user:1:email"), rec.Key)
	assert.Equal(t, blobstore.HashContent("alice@example.com"), rec.ContentHash)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := s.Get(ctx, "user:1:email")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Content)
	assert.Equal(t, "user:1:email", got.Account)
	assert.Equal(t, "text/plain", got.ContentType)

	byKey, err := s.GetByKey(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, got, byKey)
}

func TestBlobStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "user:1:email")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestBlobStore_OverwritePreservesCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Put(ctx, "user:1:email", "alice@example.com")
	require.NoError(t, err)

	second, err := s.Put(ctx, "user:1:email", "alice@new.example.com")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.NotEqual(t, first.ContentHash, second.ContentHash)

	got, err := s.Get(ctx, "user:1:email")
	require.NoError(t, err)
	assert.Equal(t, "alice@new.example.com", got.Content)

	// The old content hash bucket no longer references the record.
	stale, err := s.FindByContentHash(ctx, first.ContentHash)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestBlobStore_DeleteRemoves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "user:1:email", "alice@example.com")
	require.NoError(t, err)

	found, err := s.Delete(ctx, "user:1:email")
	require.NoError(t, err)
	assert.True(t, found)
	_, err = s.Get(ctx, "user:1:email")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	// Deleting again is a no-op and says so.
	found, err = s.Delete(ctx, "user:1:email")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestBlobStore_GetAllScopedToRecord(t *testing.T) {
	// GetAll walks the account index by record prefix, so one record's
	// fields come back without touching its neighbours.
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "user:1:email", "alice@example.com")
	require.NoError(t, err)
	_, err = s.Put(ctx, "user:1:bio", "likes ledgers")
	require.NoError(t, err)
	_, err = s.Put(ctx, "user:12:email", "carol@example.com")
	require.NoError(t, err)

	fields, err := s.GetAll(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"email": "alice@example.com",
		"bio":   "likes ledgers",
	}, fields)

	empty, err := s.GetAll(ctx, "user:99")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBlobStore_ContentHashBucketsShareContent(t *testing.T) {
	// Two accounts storing identical content land in the same hash
	// bucket, which is how duplicate content is discoverable.
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "user:1:country", "Portugal")
	require.NoError(t, err)
	_, err = s.Put(ctx, "user:2:country", "Portugal")
	require.NoError(t, err)

	matches, err := s.FindByContentHash(ctx, blobstore.HashContent("Portugal"))
	require.NoError(t, err)
	require.Len(t, matches, 2)

	accounts := []string{matches[0].Account, matches[1].Account}
	assert.ElementsMatch(t, []string{"user:1:country", "user:2:country"}, accounts)
}

func TestBlobStore_AllAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "user:1:email", "alice@example.com")
	require.NoError(t, err)
	_, err = s.Put(ctx, "user:1:bio", "likes ledgers")
	require.NoError(t, err)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, int64(len("alice@example.com")+len("likes ledgers")), stats.ContentBytes)
}
