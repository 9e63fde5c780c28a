package bucketstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/pkg/bucketstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForMissingBucket(t *testing.T) {
	t.Parallel()

	store := bucketstore.NewBucketStore()

	assert.ErrorIs(t, store.WaitForBucket(context.Background(), "missing"), bucketstore.ErrNoSuchBucket)
}

func TestCreateWaitForBucketSpacesCalls(t *testing.T) {
	t.Parallel()

	store := bucketstore.NewBucketStore()
	start := time.Now()

	require.NoError(t, store.CreateWaitForBucket(context.Background(), "identify/0", 1, 50*time.Millisecond))
	require.NoError(t, store.CreateWaitForBucket(context.Background(), "identify/0", 1, 50*time.Millisecond))

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, 1, store.Len())
}

func TestBucketsAreIndependent(t *testing.T) {
	t.Parallel()

	store := bucketstore.NewBucketStore()
	store.CreateBucket("a", 1, time.Hour)
	store.CreateBucket("b", 1, time.Hour)

	require.NoError(t, store.WaitForBucket(context.Background(), "a"))
	require.NoError(t, store.WaitForBucket(context.Background(), "b"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.Error(t, store.WaitForBucket(ctx, "a"))
}
