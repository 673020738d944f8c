// Package bootstrap brings a cache cluster from cold start to a verified,
// preloaded state.
//
// The Engine starts a member through a StartFunc and, on the coordinator node
// only, runs three phases against the returned handle.Handle:
//
//  1. AwaitQuorum polls membership until enough server nodes are visible.
//  2. Loader fans out one job per worker; each job writes its own disjoint
//     slice of the keyspace through a buffered streamer. All jobs are joined
//     before the phase ends.
//  3. Verifier runs the named consistency diagnostic until its report ends
//     with SuccessVerdict or the timeout elapses.
//
// # Basic Usage
//
//	cfg := bootstrap.DefaultConfig()
//	cfg.NodeID = os.Getenv("NODE_ID")
//
//	engine := bootstrap.New(cfg, start, bootstrap.WithMetrics(m))
//	result, err := engine.Run(ctx)
//	if err != nil {
//	    os.Exit(1)
//	}
//	fmt.Println(result.Report())
//
// # Errors
//
// A failed member start or invalid Config wraps ErrConfiguration. A failed
// load job wraps ErrLoad. Cancelling ctx during any wait yields
// ErrInterrupted, or ErrQuorumTimeout when Config.QuorumTimeout expired.
// A verification timeout is not an error: Result.Verify.Converged is false.
package bootstrap
