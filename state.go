package raft

// Role is the role a node plays in the cluster for its current term.
type Role uint32

const (
	// Follower is the initial role. Followers respond to leaders and candidates.
	Follower Role = iota

	// Candidate is a node soliciting votes to become leader.
	Candidate

	// Leader accepts client commands and replicates the log to followers.
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		panic("invalid role")
	}
}

// MarshalText encodes the role by name.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Status is the status of a Raft instance.
type Status struct {
	// The ID of the Raft instance.
	ID string `json:"id"`

	// The current term.
	Term uint64 `json:"term"`

	// The current role of the Raft instance.
	Role Role `json:"role"`

	// The ID of the last known leader. Empty if unknown.
	LeaderID string `json:"leaderId"`

	// The candidate voted for in the current term. Empty if none.
	VotedFor string `json:"votedFor"`

	// The index of the highest committed log entry.
	CommitIndex int64 `json:"commitIndex"`

	// The index of the last log entry applied to the store.
	LastApplied int64 `json:"lastApplied"`

	// The number of entries in the log.
	LogLength int `json:"logLength"`
}
