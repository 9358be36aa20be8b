package raft

import (
	"time"
)

// RequestVote handles a RequestVote RPC from a candidate. The outcome is reported
// through the response; the returned error is always nil.
func (r *Raft) RequestVote(request *RequestVoteRequest, response *RequestVoteResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.options.logger.Debugf("server %s received RequestVote RPC: candidateID = %s, term = %d, lastLogIndex = %d, lastLogTerm = %d",
		r.id, request.CandidateID, request.Term, request.LastLogIndex, request.LastLogTerm)

	response.Term = r.currentTerm
	response.VoteGranted = false

	// Reject the request if the term is out-of-date.
	if request.Term < r.currentTerm {
		r.options.logger.Debugf("server %s rejecting RequestVote RPC: out of date term: %d > %d", r.id, r.currentTerm, request.Term)
		return nil
	}

	// If the request has a more up-to-date term, update current term and
	// become a follower.
	newer := request.Term > r.currentTerm
	if newer {
		r.becomeFollower(request.Term)
		response.Term = r.currentTerm
	}

	if !r.voteAllowed(request, newer) {
		r.options.logger.Debugf("server %s rejecting RequestVote RPC: rule = %s, votedFor = %s, lastLogIndex = %d, lastLogTerm = %d",
			r.id, r.options.voteRule, r.votedFor, r.log.LastIndex(), r.log.LastTerm())
		return nil
	}

	r.votedFor = request.CandidateID
	r.lastContact = time.Now()
	response.VoteGranted = true

	r.options.logger.Debugf("server %s granted vote: candidateID = %s, term = %d", r.id, request.CandidateID, r.currentTerm)

	return nil
}

// voteAllowed applies the configured vote rule. newer reports whether the request term was
// greater than the current term before it was adopted. Expects lock to be held.
func (r *Raft) voteAllowed(request *RequestVoteRequest, newer bool) bool {
	lastIndex := r.log.LastIndex()
	lastTerm := r.log.LastTerm()

	switch r.options.voteRule {
	case VoteRuleUpToDate:
		if r.votedFor != "" && r.votedFor != request.CandidateID {
			return false
		}
		// The log with the later last term is more up-to-date. If the last terms
		// are equal, the longer log is more up-to-date.
		return request.LastLogTerm > lastTerm ||
			(request.LastLogTerm == lastTerm && request.LastLogIndex >= lastIndex)
	default:
		// Only one vote is granted per term since a second request in the same
		// term is never newer.
		return newer && request.LastLogIndex == lastIndex && request.LastLogTerm == lastTerm
	}
}
