// Package redisgrid runs cluster members against a shared Redis deployment.
//
// Each process joins with Join and keeps a heartbeat key
// "<prefix>:members:<node>" alive; ServerCount counts the live server keys.
// Cache entries are written into the hash "<prefix>:cache:<name>" through a
// pipelining streamer.
//
// The "IdleVerify" diagnostic reads INFO replication from the master and
// reports every replica that is offline or behind the master offset. The last
// line of the report is NoConflictsMessage once all replicas caught up.
package redisgrid
