// Package grid provides an in-process, partitioned cache grid.
//
// A Grid hosts one or more member Nodes. Keys are hashed into a fixed number
// of partitions; each partition has a primary owner and, in partitioned mode,
// a configurable number of backups chosen by rendezvous hashing. Replicated
// mode places a copy on every server node.
//
// # Basic Usage
//
//	g, err := grid.New(grid.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	g.Start(ctx)
//	defer g.Stop()
//
//	g.StartNode(ctx, "1", grid.RoleServer)
//	g.StartNode(ctx, "2", grid.RoleServer)
//
//	s, _ := g.Streamer(ctx, grid.DefaultCacheName)
//	s.AddData("A-000000-000001", 1)
//	s.Close() // flushes
//
//	verify, _ := g.Diagnostic(grid.IdleVerifyName)
//	report, _ := verify(ctx)
//
// # Write Synchronization
//
// With PrimarySync a write returns once the primary copy is applied; backups
// are updated on a background worker pool, optionally after ReplicationLag.
// Until those updates land, IdleVerify reports counter and hash conflicts.
// FullSync applies backups before returning.
//
// # Thread Safety
//
// Grid, Node and the Handle methods are safe for concurrent use. A
// DataStreamer is meant to be owned by one writer but is internally locked.
package grid
