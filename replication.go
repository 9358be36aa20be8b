package raft

import (
	"context"
	"time"

	"github.com/jmsadair/raftkv/internal/errors"
	"github.com/jmsadair/raftkv/internal/util"
)

// heartbeatLoop wakes every replicator once per heartbeat interval while this
// instance is the leader.
func (r *Raft) heartbeatLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.options.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r.mu.Lock()
		if r.role == Leader {
			r.notifyPeers()
		}
		r.mu.Unlock()
	}
}

// replicate sends AppendEntries requests to a single peer each time it is notified.
// Only one request to the peer is ever in flight.
func (r *Raft) replicate(ctx context.Context, p *peer) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notifyCh:
		}
		r.sendAppendEntries(ctx, p)
	}
}

// notifyPeers wakes the replicator of every peer. Expects lock to be held.
func (r *Raft) notifyPeers() {
	for _, p := range r.peers {
		p.notify()
	}
}

func (r *Raft) sendAppendEntries(ctx context.Context, p *peer) {
	r.mu.Lock()
	if r.role != Leader {
		r.mu.Unlock()
		return
	}
	request, err := r.appendEntriesRequest(p)
	if err != nil {
		r.options.logger.Errorf("server %s failed to build AppendEntries request: peer = %s, error = %s", r.id, p.id, err.Error())
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	rpcCtx, cancel := context.WithTimeout(ctx, r.options.rpcTimeout)
	response, err := r.transport.SendAppendEntries(rpcCtx, p.address, request)
	cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.options.logger.Debugf("server %s failed to send AppendEntries RPC: peer = %s, error = %s", r.id, p.id, err.Error())
		return
	}

	r.handleAppendEntriesResponse(p, &request, &response)
}

// appendEntriesRequest builds the next request for p from its replication progress.
// Expects lock to be held.
func (r *Raft) appendEntriesRequest(p *peer) (AppendEntriesRequest, error) {
	nextIndex := util.Max(0, util.Min(p.nextIndex, int64(r.log.Len())))
	prevLogIndex := nextIndex - 1
	prevLogTerm := uint64(0)
	if prevLogIndex >= 0 {
		prevEntry, err := r.log.GetEntry(prevLogIndex)
		if err != nil {
			return AppendEntriesRequest{}, err
		}
		prevLogTerm = prevEntry.Term
	}

	lastIndex := util.Min(int64(r.log.Len()), nextIndex+int64(r.options.maxEntriesPerRPC))
	entries, err := r.log.Entries(nextIndex, lastIndex)
	if err != nil {
		return AppendEntriesRequest{}, errors.WrapError(err, "failed to read entries for peer %s", p.id)
	}

	return AppendEntriesRequest{
		Term:         r.currentTerm,
		LeaderID:     r.id,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
		LeaderCommit: r.commitIndex,
	}, nil
}

// handleAppendEntriesResponse updates the progress of p. Expects lock to be held.
func (r *Raft) handleAppendEntriesResponse(p *peer, request *AppendEntriesRequest, response *AppendEntriesResponse) {
	// Become a follower if a peer has a more up-to-date term.
	if response.Term > r.currentTerm {
		r.options.logger.Debugf("server %s received AppendEntries response with newer term: peer = %s, term = %d",
			r.id, p.id, response.Term)
		r.becomeFollower(response.Term)
		return
	}

	// Ignore responses for a previous term or received after stepping down.
	if !r.started || r.role != Leader || request.Term != r.currentTerm {
		return
	}

	if !response.Success {
		if p.nextIndex > 0 {
			p.nextIndex--
		}
		p.notify()
		return
	}

	p.matchIndex = util.Max(p.matchIndex, request.PrevLogIndex+int64(len(request.Entries)))
	p.nextIndex = p.matchIndex + 1

	r.advanceCommitIndex()

	// More entries may have been appended while the request was in flight.
	if p.nextIndex < int64(r.log.Len()) {
		p.notify()
	}
}

// advanceCommitIndex commits the highest entry from the current term that is stored on a
// majority of the cluster, then applies it. Expects lock to be held.
func (r *Raft) advanceCommitIndex() {
	if r.role != Leader {
		return
	}

	majority := util.Majority(len(r.peers) + 1)
	for index := r.log.LastIndex(); index > r.commitIndex; index-- {
		entry, err := r.log.GetEntry(index)
		if err != nil {
			r.options.logger.Errorf("server %s failed to get entry from log: index = %d, error = %s", r.id, index, err.Error())
			return
		}

		// Entries from previous terms are only committed indirectly.
		if entry.Term != r.currentTerm {
			break
		}

		matches := 1
		for _, p := range r.peers {
			if p.matchIndex >= index {
				matches++
			}
		}
		if matches >= majority {
			r.options.logger.Debugf("server %s advanced commit index: commitIndex = %d, previous = %d", r.id, index, r.commitIndex)
			r.commitIndex = index
			break
		}
	}

	// Apply faults are already logged.
	_ = r.applyCommitted()
}
