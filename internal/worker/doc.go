// Package worker provides a goroutine pool for background task execution.
//
// The Pool manages a fixed number of worker goroutines that process tasks
// from a shared queue. The in-process grid uses it to apply backup updates
// asynchronously after a primary write has been acknowledged.
//
// # Basic Usage
//
//	pool := worker.NewPoolWithConfig(worker.PoolConfig{Name: "replication", NumWorkers: 4})
//	pool.Start(ctx)
//	defer pool.Stop()
//
//	pool.Submit(func() {
//	    // do work
//	})
//
//	// Tasks submitted but not yet finished
//	inFlight := pool.Pending()
//
// # Shutdown
//
// Stop() waits for running tasks to return and drops tasks still queued.
package worker
