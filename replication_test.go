package raft

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// forwardingTransport delivers AppendEntries to a single receiver's handler and answers RequestVote
// with a fixed response.
type forwardingTransport struct {
	receiver     *Raft
	voteResponse RequestVoteResponse
}

func (t *forwardingTransport) Run() error { return nil }
func (t *forwardingTransport) Shutdown() error { return nil }
func (t *forwardingTransport) Address() string { return "node-1" }
func (t *forwardingTransport) RegisterAppendEntriesHandler(func(*AppendEntriesRequest, *AppendEntriesResponse) error) {}
func (t *forwardingTransport) RegisterRequestVoteHandler(func(*RequestVoteRequest, *RequestVoteResponse) error) {}

func (t *forwardingTransport) SendAppendEntries(
	ctx context.Context,
	address string,
	request AppendEntriesRequest,
) (AppendEntriesResponse, error) {
	var response AppendEntriesResponse
	err := t.receiver.AppendEntries(&request, &response)
	return response, err
}

func (t *forwardingTransport) SendRequestVote(
	ctx context.Context,
	address string,
	request RequestVoteRequest,
) (RequestVoteResponse, error) {
	return t.voteResponse, nil
}

// newTestLeader creates node-1 of a three node cluster as the started leader of term.
func newTestLeader(t *testing.T, term uint64, entries []Entry, opts ...Option) *Raft {
	raft := newTestRaft(t, opts...)
	raft.mu.Lock()
	defer raft.mu.Unlock()
	raft.started = true
	raft.currentTerm = term
	raft.log.AppendEntries(entries...)
	raft.becomeLeader()
	return raft
}

// TestAdvanceCommitIndexCurrentTermOnly checks that an entry from a previous term is not committed
// by counting replicas, and that it is committed once an entry from the current term is.
func TestAdvanceCommitIndexCurrentTermOnly(t *testing.T) {
	raft := newTestLeader(t, 3, []Entry{{Op: Write, Key: "a", Value: "1", Term: 2}})
	raft.mu.Lock()
	defer raft.mu.Unlock()

	for _, p := range raft.peers {
		p.matchIndex = 0
	}
	raft.advanceCommitIndex()
	require.Equal(t, int64(-1), raft.commitIndex)
	require.Equal(t, int64(-1), raft.lastApplied)

	raft.log.AppendEntries(Entry{Op: Write, Key: "b", Value: "2", Term: 3})
	raft.peers["node-2"].matchIndex = 1
	raft.advanceCommitIndex()
	require.Equal(t, int64(1), raft.commitIndex)
	require.Equal(t, int64(1), raft.lastApplied)
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, snapshotStore(raft.store))
}

// TestAdvanceCommitIndexMajority checks that the leader alone is not a majority of three.
func TestAdvanceCommitIndexMajority(t *testing.T) {
	raft := newTestLeader(t, 1, []Entry{{Op: Write, Key: "a", Value: "1", Term: 1}})
	raft.mu.Lock()
	defer raft.mu.Unlock()

	raft.advanceCommitIndex()
	require.Equal(t, int64(-1), raft.commitIndex)

	raft.peers["node-3"].matchIndex = 0
	raft.advanceCommitIndex()
	require.Equal(t, int64(0), raft.commitIndex)

	// Only leaders advance the commit index.
	raft.log.AppendEntries(Entry{Op: Write, Key: "b", Value: "2", Term: 1})
	raft.peers["node-2"].matchIndex = 1
	raft.peers["node-3"].matchIndex = 1
	raft.becomeFollower(1)
	raft.advanceCommitIndex()
	require.Equal(t, int64(0), raft.commitIndex)
}

// TestHandleAppendEntriesResponseFailure checks that a rejection moves nextIndex back by one and
// never below zero.
func TestHandleAppendEntriesResponseFailure(t *testing.T) {
	raft := newTestLeader(t, 3, []Entry{{Op: Write, Key: "a", Value: "1", Term: 3}})
	raft.mu.Lock()
	defer raft.mu.Unlock()

	p := raft.peers["node-2"]
	require.Equal(t, int64(1), p.nextIndex)

	request := &AppendEntriesRequest{Term: 3, LeaderID: "node-1", PrevLogIndex: 0, PrevLogTerm: 3, LeaderCommit: -1}
	raft.handleAppendEntriesResponse(p, request, &AppendEntriesResponse{Term: 3})
	require.Equal(t, int64(0), p.nextIndex)

	raft.handleAppendEntriesResponse(p, request, &AppendEntriesResponse{Term: 3})
	require.Equal(t, int64(0), p.nextIndex)
	require.Equal(t, int64(-1), p.matchIndex)
}

// TestHandleAppendEntriesResponseSuccess checks that progress follows the acknowledged entries and
// that a delayed acknowledgement does not move matchIndex backwards.
func TestHandleAppendEntriesResponseSuccess(t *testing.T) {
	entries := []Entry{
		{Op: Write, Key: "a", Value: "1", Term: 3},
		{Op: Write, Key: "b", Value: "2", Term: 3},
	}
	raft := newTestLeader(t, 3, entries)
	raft.mu.Lock()
	defer raft.mu.Unlock()

	p := raft.peers["node-2"]
	request := &AppendEntriesRequest{Term: 3, LeaderID: "node-1", PrevLogIndex: -1, Entries: entries, LeaderCommit: -1}
	raft.handleAppendEntriesResponse(p, request, &AppendEntriesResponse{Term: 3, Success: true})
	require.Equal(t, int64(1), p.matchIndex)
	require.Equal(t, int64(2), p.nextIndex)
	require.Equal(t, int64(1), raft.commitIndex)

	delayed := &AppendEntriesRequest{Term: 3, LeaderID: "node-1", PrevLogIndex: -1, Entries: entries[:1], LeaderCommit: -1}
	raft.handleAppendEntriesResponse(p, delayed, &AppendEntriesResponse{Term: 3, Success: true})
	require.Equal(t, int64(1), p.matchIndex)
	require.Equal(t, int64(2), p.nextIndex)
}

// TestHandleAppendEntriesResponseNewerTerm checks that a response with a newer term makes the leader
// step down and adopt the term.
func TestHandleAppendEntriesResponseNewerTerm(t *testing.T) {
	raft := newTestLeader(t, 3, nil)
	raft.mu.Lock()
	defer raft.mu.Unlock()

	request := &AppendEntriesRequest{Term: 3, LeaderID: "node-1", PrevLogIndex: -1, LeaderCommit: -1}
	raft.handleAppendEntriesResponse(raft.peers["node-2"], request, &AppendEntriesResponse{Term: 5})

	require.Equal(t, Follower, raft.role)
	require.Equal(t, uint64(5), raft.currentTerm)
	require.Empty(t, raft.votedFor)
	require.Empty(t, raft.leaderID)
}

// TestHandleAppendEntriesResponseStale checks that responses to requests from an older term, or
// received after stepping down, do not change progress.
func TestHandleAppendEntriesResponseStale(t *testing.T) {
	entries := []Entry{{Op: Write, Key: "a", Value: "1", Term: 3}}
	raft := newTestLeader(t, 3, entries)
	raft.mu.Lock()
	defer raft.mu.Unlock()

	p := raft.peers["node-2"]
	old := &AppendEntriesRequest{Term: 2, LeaderID: "node-1", PrevLogIndex: -1, Entries: entries, LeaderCommit: -1}
	raft.handleAppendEntriesResponse(p, old, &AppendEntriesResponse{Term: 3, Success: true})
	raft.handleAppendEntriesResponse(p, old, &AppendEntriesResponse{Term: 3})
	require.Equal(t, int64(-1), p.matchIndex)
	require.Equal(t, int64(1), p.nextIndex)

	raft.becomeFollower(3)
	current := &AppendEntriesRequest{Term: 3, LeaderID: "node-1", PrevLogIndex: -1, Entries: entries, LeaderCommit: -1}
	raft.handleAppendEntriesResponse(p, current, &AppendEntriesResponse{Term: 3, Success: true})
	require.Equal(t, int64(-1), p.matchIndex)
	require.Equal(t, int64(-1), raft.commitIndex)
}

// newTestFollower creates node-2 of a three node cluster holding entries in term.
func newTestFollower(t *testing.T, term uint64, entries []Entry, opts ...Option) *Raft {
	peers := map[string]string{"node-1": "node-1", "node-2": "node-2", "node-3": "node-3"}
	opts = append([]Option{WithLogger(newTestLogger(t))}, opts...)
	follower, err := NewRaft("node-2", peers, newTestStore(), opts...)
	require.NoError(t, err)
	follower.currentTerm = term
	follower.log.AppendEntries(entries...)
	return follower
}

// TestReplicationBootstrap replicates the first entry of a leader with an empty log to a follower
// that holds an entry from an older term, under both bootstrap modes.
func TestReplicationBootstrap(t *testing.T) {
	stale := Entry{Op: Write, Key: "x", Value: "stale", Term: 1}
	fresh := Entry{Op: Write, Key: "y", Value: "fresh", Term: 2}

	tests := []struct {
		name     string
		opts     []Option
		expected []Entry
	}{
		// The default appends without a consistency check, so the stale entry survives below
		// the new one and the leader's matchIndex does not describe the follower's log.
		{name: "default", expected: []Entry{stale, fresh}},
		{name: "strict", opts: []Option{WithStrictBootstrap()}, expected: []Entry{fresh}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			follower := newTestFollower(t, 1, []Entry{stale}, test.opts...)
			leader := newTestLeader(t, 2, nil, WithTransport(&forwardingTransport{receiver: follower}))

			future := leader.SubmitCommand(fresh.Command())
			leader.sendAppendEntries(context.Background(), leader.peers["node-2"])
			require.NoError(t, future.Await().Error())

			status := leader.Status()
			require.Equal(t, int64(0), status.CommitIndex)
			require.Equal(t, int64(0), leader.peers["node-2"].matchIndex)

			entries, err := follower.log.Entries(0, int64(follower.log.Len()))
			require.NoError(t, err)
			require.Equal(t, test.expected, entries)
			require.Equal(t, uint64(2), follower.Status().Term)
		})
	}
}

// TestSendRequestVoteNewerTerm checks that a candidate reverts to follower when a vote response
// carries a newer term.
func TestSendRequestVoteNewerTerm(t *testing.T) {
	transport := &forwardingTransport{voteResponse: RequestVoteResponse{Term: 5}}
	raft := newTestRaft(t, WithTransport(transport))
	raft.started = true
	raft.currentTerm = 3
	raft.role = Candidate
	raft.votedFor = raft.id

	votes := 1
	request := RequestVoteRequest{Term: 3, CandidateID: raft.id, LastLogIndex: -1}
	raft.wg.Add(1)
	raft.sendRequestVote(context.Background(), raft.peers["node-2"], request, &votes)

	require.Equal(t, Follower, raft.role)
	require.Equal(t, uint64(5), raft.currentTerm)
	require.Empty(t, raft.votedFor)
	require.Equal(t, 1, votes)
}

// TestSendRequestVoteMajority checks that one granted vote elects a candidate of a three node cluster
// and that grants for an older election are ignored.
func TestSendRequestVoteMajority(t *testing.T) {
	transport := &forwardingTransport{voteResponse: RequestVoteResponse{Term: 3, VoteGranted: true}}
	raft := newTestRaft(t, WithTransport(transport))
	raft.started = true
	raft.currentTerm = 3
	raft.role = Candidate
	raft.votedFor = raft.id

	votes := 1
	old := RequestVoteRequest{Term: 2, CandidateID: raft.id, LastLogIndex: -1}
	raft.wg.Add(1)
	raft.sendRequestVote(context.Background(), raft.peers["node-2"], old, &votes)
	require.Equal(t, Candidate, raft.role)
	require.Equal(t, 1, votes)

	current := RequestVoteRequest{Term: 3, CandidateID: raft.id, LastLogIndex: -1}
	raft.wg.Add(1)
	raft.sendRequestVote(context.Background(), raft.peers["node-2"], current, &votes)
	require.Equal(t, Leader, raft.role)
	require.Equal(t, raft.id, raft.leaderID)
	require.Equal(t, 2, votes)
}
