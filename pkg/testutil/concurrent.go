package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"tempo/pkg/platform/sentinel"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes  int32
	Errors     int32
	Conflicts  int32
	NotFounds  int32
	Duplicates int32
}

// Total returns the number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Errors + r.Conflicts + r.NotFounds + r.Duplicates
}

// Classifier maps an error returned by a concurrent operation to a bucket.
// Return "" to fall back to the sentinel-based classification.
type Classifier func(err error) string

const (
	BucketConflict  = "conflict"
	BucketNotFound  = "not_found"
	BucketDuplicate = "duplicate"
)

// RunConcurrent executes fn in parallel goroutines and buckets the results by
// store sentinel errors.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	return RunConcurrentClassified(goroutines, nil, fn)
}

// RunConcurrentClassified is RunConcurrent with a caller-supplied classifier,
// used by service tests whose errors are domain codes rather than sentinels.
func RunConcurrentClassified(goroutines int, classify Classifier, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, errs, conflicts, notFounds, duplicates atomic.Int32
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			err := fn(idx)
			if err == nil {
				successes.Add(1)
				return
			}
			bucket := ""
			if classify != nil {
				bucket = classify(err)
			}
			if bucket == "" {
				bucket = sentinelBucket(err)
			}
			switch bucket {
			case BucketConflict:
				conflicts.Add(1)
			case BucketNotFound:
				notFounds.Add(1)
			case BucketDuplicate:
				duplicates.Add(1)
			default:
				errs.Add(1)
			}
		}(i)
	}

	close(start)
	wg.Wait()

	return &ConcurrentResult{
		Successes:  successes.Load(),
		Errors:     errs.Load(),
		Conflicts:  conflicts.Load(),
		NotFounds:  notFounds.Load(),
		Duplicates: duplicates.Load(),
	}
}

func sentinelBucket(err error) string {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return BucketConflict
	case errors.Is(err, sentinel.ErrNotFound):
		return BucketNotFound
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return BucketDuplicate
	default:
		return ""
	}
}

// RunConcurrentCtx executes fn in parallel goroutines sharing ctx.
func RunConcurrentCtx(ctx context.Context, goroutines int, fn func(ctx context.Context, idx int) error) *ConcurrentResult {
	return RunConcurrent(goroutines, func(idx int) error {
		return fn(ctx, idx)
	})
}
