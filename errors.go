package raft

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLeader is returned when a client submits a command to a node that is not the leader.
	ErrNotLeader = errors.New("not the leader")

	// ErrInvalidOperation indicates a malformed command or entry, such as a write without a
	// value or a read placed in the log. When it is raised while applying committed entries it
	// means the log is corrupt.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrTimeout is returned when a command is not applied before the commit timeout.
	ErrTimeout = errors.New("timed out waiting for the command to be applied - try submitting it again")

	// ErrShutdown is returned when the node is stopped while a command is pending.
	ErrShutdown = errors.New("raft is shut down")

	// ErrLostLeadership is returned when the entry for a command is overwritten by a
	// different leader before it is committed.
	ErrLostLeadership = errors.New("command was overwritten by another leader")

	// ErrIndexOutOfRange is returned when a log index does not exist.
	ErrIndexOutOfRange = errors.New("log index out of range")
)

// NotLeaderError is returned by a non-leader node. It carries the last known
// leader so callers can redirect.
type NotLeaderError struct {
	// The ID of the node that rejected the command.
	ID string

	// The ID of the last known leader. Empty if unknown.
	LeaderID string

	// The address of the last known leader. Empty if unknown.
	LeaderAddress string
}

func (e *NotLeaderError) Error() string {
	if e.LeaderID == "" {
		return fmt.Sprintf("server %s is not the leader: leader unknown", e.ID)
	}
	return fmt.Sprintf("server %s is not the leader: leader = %s", e.ID, e.LeaderID)
}

// Is reports whether target is ErrNotLeader.
func (e *NotLeaderError) Is(target error) bool {
	return target == ErrNotLeader
}
