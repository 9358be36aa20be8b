package raft

// AppendEntriesRequest is a request invoked by the leader to replicate
// log entries and also serves as a heartbeat.
type AppendEntriesRequest struct {
	// The leader's term.
	Term uint64 `json:"term"`

	// The leader's ID. Allows followers to redirect clients.
	LeaderID string `json:"leaderId"`

	// The index of the log entry immediately preceding the new ones.
	// -1 when the new entries start at the beginning of the log.
	PrevLogIndex int64 `json:"prevLogIndex"`

	// The term of the log entry immediately preceding the new ones.
	PrevLogTerm uint64 `json:"prevLogTerm"`

	// Contains the log entries to store (may be empty for heartbeat).
	Entries []Entry `json:"entries"`

	// The leader's commit index.
	LeaderCommit int64 `json:"leaderCommit"`
}

// AppendEntriesResponse is a response to a request to replicate log
// entries.
type AppendEntriesResponse struct {
	// The term of the server that received the request.
	Term uint64 `json:"term"`

	// Indicates whether the request to append entries was successful.
	// True if the request was successful and false otherwise.
	Success bool `json:"success"`
}

// RequestVoteRequest is a request invoked by candidates to gather votes.
type RequestVoteRequest struct {
	// The candidate's term.
	Term uint64 `json:"term"`

	// The ID of the candidate requesting the vote.
	CandidateID string `json:"candidateId"`

	// The index of the candidate's last log entry, -1 if its log is empty.
	LastLogIndex int64 `json:"lastLogIndex"`

	// The term of the candidate's last log entry, 0 if its log is empty.
	LastLogTerm uint64 `json:"lastLogTerm"`
}

// RequestVoteResponse is a response to a request for a vote.
type RequestVoteResponse struct {
	// The term of the server that received the request.
	Term uint64 `json:"term"`

	// Indicates whether the vote request was successful. True if
	// the vote has been granted and false otherwise.
	VoteGranted bool `json:"voteGranted"`
}

// Validate checks every entry carried by the request.
func (r *AppendEntriesRequest) Validate() error {
	for _, entry := range r.Entries {
		if err := entry.Validate(); err != nil {
			return err
		}
	}
	return nil
}
