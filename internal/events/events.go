// Package events provides an event system for bootstrap progress notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventPhase is emitted when the bootstrap moves to a new phase
	EventPhase EventType = "phase"
	// EventQuorumReached is emitted once enough server members are visible
	EventQuorumReached EventType = "quorum_reached"
	// EventJobFinished is emitted when a single load job completes or fails
	EventJobFinished EventType = "job_finished"
	// EventLoadFinished is emitted after every load job has been joined
	EventLoadFinished EventType = "load_finished"
	// EventVerifyAttempt is emitted after each consistency check
	EventVerifyAttempt EventType = "verify_attempt"
	// EventVerifyFinished is emitted when the verify loop ends
	EventVerifyFinished EventType = "verify_finished"
)

// Event represents a bootstrap event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Phase     string `json:"phase,omitempty"`
	Servers   int    `json:"servers,omitempty"`
	JobID     int    `json:"job_id,omitempty"`
	Records   int64  `json:"records,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Converged bool   `json:"converged,omitempty"`
	Verdict   string `json:"verdict,omitempty"`
	Elapsed   string `json:"elapsed,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newEvent(t EventType, nodeID string, data EventData) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		Data:      data,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// NewPhaseEvent creates a phase transition event
func NewPhaseEvent(nodeID, phase string) Event {
	return newEvent(EventPhase, nodeID, EventData{Phase: phase})
}

// NewQuorumReachedEvent creates a quorum event
func NewQuorumReachedEvent(nodeID string, servers int, waited time.Duration) Event {
	return newEvent(EventQuorumReached, nodeID, EventData{
		Servers: servers,
		Elapsed: waited.String(),
	})
}

// NewJobFinishedEvent creates a load job event
func NewJobFinishedEvent(nodeID string, jobID int, records int64, err error) Event {
	return newEvent(EventJobFinished, nodeID, EventData{
		JobID:   jobID,
		Records: records,
		Error:   errString(err),
	})
}

// NewLoadFinishedEvent creates a load completion event
func NewLoadFinishedEvent(nodeID string, records int64, elapsed time.Duration, err error) Event {
	return newEvent(EventLoadFinished, nodeID, EventData{
		Records: records,
		Elapsed: elapsed.String(),
		Error:   errString(err),
	})
}

// NewVerifyAttemptEvent creates a consistency check event
func NewVerifyAttemptEvent(nodeID string, attempt int, converged bool, verdict string) Event {
	return newEvent(EventVerifyAttempt, nodeID, EventData{
		Attempt:   attempt,
		Converged: converged,
		Verdict:   verdict,
	})
}

// NewVerifyFinishedEvent creates a verify loop completion event
func NewVerifyFinishedEvent(nodeID string, attempts int, converged bool, elapsed time.Duration) Event {
	return newEvent(EventVerifyFinished, nodeID, EventData{
		Attempt:   attempts,
		Converged: converged,
		Elapsed:   elapsed.String(),
	})
}
