package raft

import (
	"context"
	"time"

	"github.com/jmsadair/raftkv/internal/util"
)

func (r *Raft) electionLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		// A random timeout between the election timeout and twice the election timeout keeps
		// multiple servers from becoming candidates at the same time.
		timeout := util.RandomTimeout(r.options.electionTimeout, 2*r.options.electionTimeout)
		timer := time.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		r.mu.Lock()
		if !r.started {
			r.mu.Unlock()
			return
		}
		if r.role != Leader && time.Since(r.lastContact) >= timeout {
			r.startElection(ctx)
		}
		r.mu.Unlock()
	}
}

// startElection increments the term and requests votes from every peer. Expects lock to be held.
func (r *Raft) startElection(ctx context.Context) {
	r.currentTerm++
	r.role = Candidate
	r.votedFor = r.id
	r.leaderID = ""
	r.lastContact = time.Now()

	r.options.logger.Infof("server %s started election: term = %d, lastLogIndex = %d, lastLogTerm = %d",
		r.id, r.currentTerm, r.log.LastIndex(), r.log.LastTerm())

	votes := 1
	if votes >= util.Majority(len(r.peers)+1) {
		r.becomeLeader()
		return
	}

	request := RequestVoteRequest{
		Term:         r.currentTerm,
		CandidateID:  r.id,
		LastLogIndex: r.log.LastIndex(),
		LastLogTerm:  r.log.LastTerm(),
	}
	r.wg.Add(len(r.peers))
	for _, p := range r.peers {
		go r.sendRequestVote(ctx, p, request, &votes)
	}
}

// sendRequestVote requests a vote from p. The votes counter is shared by every request of the
// same election and guarded by the lock.
func (r *Raft) sendRequestVote(ctx context.Context, p *peer, request RequestVoteRequest, votes *int) {
	defer r.wg.Done()

	rpcCtx, cancel := context.WithTimeout(ctx, r.options.rpcTimeout)
	response, err := r.transport.SendRequestVote(rpcCtx, p.address, request)
	cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.options.logger.Debugf("server %s failed to send RequestVote RPC: peer = %s, error = %s", r.id, p.id, err.Error())
		return
	}

	// Become a follower if a peer has a more up-to-date term.
	if response.Term > r.currentTerm {
		r.becomeFollower(response.Term)
		return
	}

	// Ensure this response is not stale. This server may have started another
	// election or already won this one.
	if !r.started || r.role != Candidate || r.currentTerm != request.Term {
		return
	}

	if !response.VoteGranted {
		return
	}

	*votes++
	if *votes >= util.Majority(len(r.peers)+1) {
		r.becomeLeader()
	}
}
