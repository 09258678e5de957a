package mempool

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"rubin.dev/node/chain"
)

// Job is one distinct transaction awaiting its first verification slice.
type Job struct {
	TxHash [32]byte
	RTX    *chain.ResolvedTransaction
	Epoch  uint64
}

// WorkerPool runs Admit for many distinct transactions concurrently,
// bounded to a fixed number of in-flight VMs at a time (spec.md §5
// "Parallelism": "Distinct transactions may be verified in parallel on a
// worker pool; the verifier itself holds no mutable shared state").
type WorkerPool struct {
	pool *Pool
	sem  *semaphore.Weighted
}

// NewWorkerPool bounds concurrent admissions to maxConcurrent VMs.
func NewWorkerPool(pool *Pool, maxConcurrent int64) *WorkerPool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &WorkerPool{pool: pool, sem: semaphore.NewWeighted(maxConcurrent)}
}

// AdmitBatch admits every job concurrently, bounded by the pool's
// concurrency cap, and returns the resulting entries in job order. It
// returns early on ctx cancellation; jobs not yet started are skipped (nil
// entry in their slot) and already-started ones still complete.
func (w *WorkerPool) AdmitBatch(ctx context.Context, jobs []Job) ([]*Entry, error) {
	entries := make([]*Entry, len(jobs))
	g, ctx := errgroup.WithContext(ctx)

	for i, job := range jobs {
		i, job := i, job
		if err := w.sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer w.sem.Release(1)
			entries[i] = w.pool.Admit(job.TxHash, job.RTX, job.Epoch)
			return nil
		})
	}

	err := g.Wait()
	return entries, err
}

// ResumeBatch resumes every currently-suspended entry concurrently, bounded
// by the same concurrency cap.
func (w *WorkerPool) ResumeBatch(ctx context.Context) ([]*Entry, error) {
	hashes := w.pool.PendingSuspended()
	entries := make([]*Entry, len(hashes))
	g, ctx := errgroup.WithContext(ctx)

	for i, h := range hashes {
		i, h := i, h
		if err := w.sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer w.sem.Release(1)
			entries[i] = w.pool.Resume(h)
			return nil
		})
	}

	err := g.Wait()
	return entries, err
}
