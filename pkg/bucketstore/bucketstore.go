package bucketstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoSuchBucket is when a Bucket was requested that does not exist.
// Use CreateWaitForBucket to create a bucket if it does not exist.
var ErrNoSuchBucket = errors.New("bucket does not exist, use CreateWaitForBucket instead")

// BucketStore is used for managing named limiters. Each bucket admits limit
// operations per duration and refills smoothly.
type BucketStore struct {
	bucketsMu sync.RWMutex
	buckets   map[string]*rate.Limiter
}

// NewBucketStore creates a new Buckets map to store different limits.
func NewBucketStore() *BucketStore {
	return &BucketStore{
		buckets: make(map[string]*rate.Limiter),
	}
}

func newLimiter(limit int, duration time.Duration) *rate.Limiter {
	if limit <= 0 {
		limit = 1
	}

	return rate.NewLimiter(rate.Every(duration/time.Duration(limit)), limit)
}

// CreateBucket will create a new bucket or overwrite an existing one.
func (bs *BucketStore) CreateBucket(name string, limit int, duration time.Duration) *rate.Limiter {
	bucket := newLimiter(limit, duration)

	bs.bucketsMu.Lock()
	bs.buckets[name] = bucket
	bs.bucketsMu.Unlock()

	return bucket
}

// GetBucket returns the bucket with the given name.
func (bs *BucketStore) GetBucket(name string) (*rate.Limiter, bool) {
	bs.bucketsMu.RLock()
	bucket, ok := bs.buckets[name]
	bs.bucketsMu.RUnlock()

	return bucket, ok
}

// WaitForBucket will wait for a bucket to be ready.
func (bs *BucketStore) WaitForBucket(ctx context.Context, name string) error {
	bucket, ok := bs.GetBucket(name)
	if !ok {
		return ErrNoSuchBucket
	}

	return bucket.Wait(ctx)
}

// CreateWaitForBucket will create a bucket if it does not exist and then will
// wait for it.
func (bs *BucketStore) CreateWaitForBucket(ctx context.Context, name string, limit int, duration time.Duration) error {
	bs.bucketsMu.Lock()

	bucket, ok := bs.buckets[name]
	if !ok {
		bucket = newLimiter(limit, duration)
		bs.buckets[name] = bucket
	}

	bs.bucketsMu.Unlock()

	return bucket.Wait(ctx)
}

// Len returns the number of buckets in the store.
func (bs *BucketStore) Len() int {
	bs.bucketsMu.RLock()
	defer bs.bucketsMu.RUnlock()

	return len(bs.buckets)
}
