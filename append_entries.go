package raft

import (
	"time"

	"github.com/jmsadair/raftkv/internal/errors"
	"github.com/jmsadair/raftkv/internal/util"
)

// AppendEntries handles an AppendEntries RPC from a leader. Rejections are reported through
// the response. An error is only returned if a committed entry could not be applied, in which
// case the response still reports the replication result.
func (r *Raft) AppendEntries(request *AppendEntriesRequest, response *AppendEntriesResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.options.logger.Debugf("server %s received AppendEntries RPC: leaderID = %s, term = %d, prevLogIndex = %d, prevLogTerm = %d, entries = %d, leaderCommit = %d",
		r.id, request.LeaderID, request.Term, request.PrevLogIndex, request.PrevLogTerm, len(request.Entries), request.LeaderCommit)

	response.Term = r.currentTerm
	response.Success = false

	// Reject any requests with an out-of-date term.
	if request.Term < r.currentTerm {
		r.options.logger.Debugf("server %s rejecting AppendEntries RPC: out of date term: %d > %d", r.id, r.currentTerm, request.Term)
		return nil
	}

	switch {
	case request.Term > r.currentTerm:
		r.becomeFollower(request.Term)
		r.votedFor = request.LeaderID
		response.Term = r.currentTerm
	case r.role == Candidate:
		r.becomeFollower(request.Term)
	case r.role == Leader:
		r.options.logger.Errorf("server %s rejecting AppendEntries RPC: another leader in term %d: leaderID = %s",
			r.id, request.Term, request.LeaderID)
		return nil
	}

	// Update the time of last contact - note that this should be done even
	// if the request is rejected due to having a non-matching previous log entry.
	r.leaderID = request.LeaderID
	r.lastContact = time.Now()

	if request.PrevLogIndex < -1 {
		r.options.logger.Debugf("server %s rejecting AppendEntries RPC: invalid previous log index: %d", r.id, request.PrevLogIndex)
		return nil
	}

	// Entries at the beginning of the log are appended without a consistency check.
	if request.PrevLogIndex == -1 && (!r.options.strictBootstrap || r.log.Len() == 0) {
		r.log.AppendEntries(request.Entries...)
		response.Success = true
		return nil
	}

	if request.PrevLogIndex >= 0 {
		// Reject the request if the log does not have the previous log entry.
		if !r.log.Contains(request.PrevLogIndex) {
			r.options.logger.Debugf("server %s rejecting AppendEntries RPC: server does not have previous log entry: index = %d, lastLogIndex = %d",
				r.id, request.PrevLogIndex, r.log.LastIndex())
			return nil
		}

		prevEntry, err := r.log.GetEntry(request.PrevLogIndex)
		if err != nil {
			return errors.WrapError(err, "failed to get previous log entry")
		}

		// Reject the request if the log has the previous log entry, but its term does not match.
		if prevEntry.IsConflict(Entry{Term: request.PrevLogTerm}) {
			r.options.logger.Debugf("server %s rejecting AppendEntries RPC: previous log entry has different term: index = %d, localTerm = %d, remoteTerm = %d",
				r.id, request.PrevLogIndex, prevEntry.Term, request.PrevLogTerm)
			if err := r.truncateLog(request.PrevLogIndex); err != nil {
				return errors.WrapError(err, "failed to truncate log")
			}
			return nil
		}
	}

	// Keep the matching prefix and replace everything after it.
	if err := r.truncateLog(request.PrevLogIndex + 1); err != nil {
		return errors.WrapError(err, "failed to truncate log")
	}
	r.log.AppendEntries(request.Entries...)
	response.Success = true

	if request.LeaderCommit > r.commitIndex {
		r.commitIndex = util.Min(request.LeaderCommit, r.log.LastIndex())
	}

	return r.applyCommitted()
}
