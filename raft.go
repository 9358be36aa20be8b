package raft

import (
	"context"
	"sync"
	"time"

	"github.com/jmsadair/raftkv/internal/errors"
	"github.com/jmsadair/raftkv/internal/util"
	"github.com/jmsadair/raftkv/logging"
)

// pendingCommand is a submitted command waiting for its entry to be applied.
type pendingCommand struct {
	// The term the entry was appended at.
	term uint64

	// Receives the result of the command.
	responseCh chan Result[CommandResponse]
}

// Raft is the consensus module in the replicated key-value store. It replicates
// a log of key-value mutations and applies committed entries to a Store.
type Raft struct {
	// The ID of this Raft instance.
	id string

	// The network address of this Raft instance.
	address string

	// The configuration options for this Raft instance.
	options options

	// The other members of the cluster. Does not include this instance.
	peers map[string]*peer

	// The replicated log.
	log Log

	// The store that committed entries are applied to.
	store Store

	// Applies committed entries to the store.
	applier *applier

	// Sends and receives RPCs. May be nil if the instance is never started.
	transport Transport

	// The current role of this Raft instance.
	role Role

	// The latest term this instance has seen. Never decreases.
	currentTerm uint64

	// The candidate that received this instance's vote in the current term.
	votedFor string

	// The ID of the last known leader.
	leaderID string

	// Index of the highest log entry known to be committed.
	commitIndex int64

	// Index of the highest log entry applied to the store.
	lastApplied int64

	// Time of last contact by a leader, or of the last granted vote.
	lastContact time.Time

	// Commands waiting to be applied, keyed by log index.
	pending map[int64]*pendingCommand

	// Indicates whether the background loops are running.
	started bool

	// Cancels the background loops and any in-flight RPCs.
	cancel context.CancelFunc

	wg sync.WaitGroup

	mu sync.Mutex
}

// NewRaft creates a new instance of Raft. The peers map every member of the cluster to its
// network address; the entry for id, if present, is the address of this instance.
func NewRaft(id string, peers map[string]string, store Store, opts ...Option) (*Raft, error) {
	if id == "" {
		return nil, errors.New("failed to create new raft: id must not be empty")
	}
	if store == nil {
		return nil, errors.New("failed to create new raft: store must not be nil")
	}

	var options options
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return nil, errors.WrapError(err, "failed to create new raft")
		}
	}

	// Set default values if option not provided.
	if options.logger == nil {
		logger, err := logging.NewLogger()
		if err != nil {
			return nil, errors.WrapError(err, "failed to create new raft")
		}
		options.logger = logger
	}
	if options.electionTimeout == 0 {
		options.electionTimeout = defaultElectionTimeout
	}
	if options.heartbeatInterval == 0 {
		options.heartbeatInterval = defaultHeartbeat
	}
	if options.rpcTimeout == 0 {
		options.rpcTimeout = defaultRPCTimeout
	}
	if options.commitTimeout == 0 {
		options.commitTimeout = defaultCommitTimeout
	}
	if options.maxEntriesPerRPC == 0 {
		options.maxEntriesPerRPC = defaultMaxEntriesPerRPC
	}
	if options.heartbeatInterval >= options.electionTimeout {
		return nil, errors.New("failed to create new raft: heartbeat interval must be less than election timeout")
	}

	address := id
	if options.transport != nil {
		address = options.transport.Address()
	}
	peerLookup := make(map[string]*peer, len(peers))
	for peerID, peerAddress := range peers {
		if peerID == id {
			address = peerAddress
			continue
		}
		peerLookup[peerID] = newPeer(peerID, peerAddress)
	}

	return &Raft{
		id:          id,
		address:     address,
		options:     options,
		peers:       peerLookup,
		log:         NewVolatileLog(),
		store:       store,
		applier:     newApplier(store),
		transport:   options.transport,
		role:        Follower,
		commitIndex: -1,
		lastApplied: -1,
		pending:     make(map[int64]*pendingCommand),
	}, nil
}

// Start starts the transport and the background election and replication loops
// if they are not already running.
func (r *Raft) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	if r.transport == nil {
		return errors.New("failed to start raft: no transport configured")
	}

	r.transport.RegisterAppendEntriesHandler(r.AppendEntries)
	r.transport.RegisterRequestVoteHandler(r.RequestVote)
	if err := r.transport.Run(); err != nil {
		return errors.WrapError(err, "failed to start raft")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.started = true
	r.role = Follower
	r.lastContact = time.Now()

	r.wg.Add(2 + len(r.peers))
	go r.electionLoop(ctx)
	go r.heartbeatLoop(ctx)
	for _, p := range r.peers {
		go r.replicate(ctx, p)
	}

	r.options.logger.Infof("server %s started: address = %s, peers = %d", r.id, r.address, len(r.peers))

	return nil
}

// Stop stops the background loops and the transport. Commands that have not
// been applied are resolved with ErrShutdown.
func (r *Raft) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.cancel()
	r.role = Follower
	r.failPending(ErrShutdown)
	r.mu.Unlock()

	r.wg.Wait()

	if err := r.transport.Shutdown(); err != nil {
		r.options.logger.Errorf("server %s failed to shutdown transport: %s", r.id, err.Error())
	}

	r.options.logger.Infof("server %s stopped", r.id)
}

// ID returns the ID of this Raft instance.
func (r *Raft) ID() string {
	return r.id
}

// Status returns the current status of this Raft instance.
func (r *Raft) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Status{
		ID:          r.id,
		Term:        r.currentTerm,
		Role:        r.role,
		LeaderID:    r.leaderID,
		VotedFor:    r.votedFor,
		CommitIndex: r.commitIndex,
		LastApplied: r.lastApplied,
		LogLength:   r.log.Len(),
	}
}

// Leader returns the ID and address of the last known leader. Both are empty
// if no leader is known.
func (r *Raft) Leader() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaderID, r.addressOf(r.leaderID)
}

// SubmitCommand accepts a command from a client for replication. The returned
// future resolves once the command has been applied to the store, or with an
// error if this instance is not the leader or loses leadership first.
func (r *Raft) SubmitCommand(command Command) Future[CommandResponse] {
	if err := command.Validate(); err != nil {
		return newResolvedFuture(CommandResponse{}, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return newResolvedFuture(CommandResponse{}, ErrShutdown)
	}
	if r.role != Leader {
		return newResolvedFuture(CommandResponse{}, r.notLeaderError())
	}

	entry := NewEntry(command, r.currentTerm)
	r.log.AppendEntries(entry)
	index := r.log.LastIndex()

	future := newFuture[CommandResponse](r.options.commitTimeout)
	r.pending[index] = &pendingCommand{term: entry.Term, responseCh: future.responseCh}

	r.options.logger.Debugf("server %s submitted command: index = %d, entry = %s", r.id, index, entry)

	r.notifyPeers()
	r.advanceCommitIndex()

	return future
}

// Read returns the value of key in the local store. The value reflects the entries
// applied by this instance so far and may be stale.
func (r *Raft) Read(key string) (string, bool) {
	return r.store.Read(key)
}

// addressOf returns the address of the member with the provided ID. Expects lock to be held.
func (r *Raft) addressOf(id string) string {
	if id == "" {
		return ""
	}
	if id == r.id {
		return r.address
	}
	if p, ok := r.peers[id]; ok {
		return p.address
	}
	return ""
}

// notLeaderError describes the last known leader. Expects lock to be held.
func (r *Raft) notLeaderError() *NotLeaderError {
	return &NotLeaderError{ID: r.id, LeaderID: r.leaderID, LeaderAddress: r.addressOf(r.leaderID)}
}

// becomeFollower steps down to follower, adopting term if it is newer. Expects lock to be held.
func (r *Raft) becomeFollower(term uint64) {
	wasLeader := r.role == Leader

	if term > r.currentTerm {
		r.currentTerm = term
		r.votedFor = ""
		r.leaderID = ""
	}
	r.role = Follower

	if wasLeader {
		r.options.logger.Infof("server %s stepped down: term = %d", r.id, r.currentTerm)
		r.failPending(r.notLeaderError())
	}
}

// becomeLeader transitions to leader and schedules an immediate heartbeat round.
// Expects lock to be held.
func (r *Raft) becomeLeader() {
	r.role = Leader
	r.leaderID = r.id
	for _, p := range r.peers {
		p.resetProgress(int64(r.log.Len()))
		p.notify()
	}
	r.options.logger.Infof("server %s elected leader: term = %d, lastLogIndex = %d", r.id, r.currentTerm, r.log.LastIndex())
}

// applyCommitted applies the entries in (lastApplied, commitIndex] to the store and
// resolves their pending commands. It stops at the first entry that cannot be applied.
// Expects lock to be held.
func (r *Raft) applyCommitted() error {
	last := util.Min(r.commitIndex, r.log.LastIndex())
	if last <= r.lastApplied {
		return nil
	}

	first := r.lastApplied + 1
	entries, err := r.log.Entries(first, last+1)
	if err != nil {
		return errors.WrapError(err, "failed to read committed entries")
	}

	applied, err := r.applier.applyEntries(entries)
	for i := 0; i < applied; i++ {
		r.resolvePending(first+int64(i), entries[i])
	}
	r.lastApplied += int64(applied)

	if err != nil {
		r.options.logger.Errorf("server %s failed to apply entry: index = %d, error = %s", r.id, r.lastApplied+1, err.Error())
		return err
	}

	r.options.logger.Debugf("server %s applied entries: lastApplied = %d, commitIndex = %d", r.id, r.lastApplied, r.commitIndex)

	return nil
}

// resolvePending resolves the command waiting on the entry at index. Expects lock to be held.
func (r *Raft) resolvePending(index int64, entry Entry) {
	pending, ok := r.pending[index]
	if !ok {
		return
	}
	delete(r.pending, index)

	if pending.term != entry.Term {
		respond(pending.responseCh, CommandResponse{}, ErrLostLeadership)
		return
	}
	response := CommandResponse{Command: entry.Command(), Index: index, Term: entry.Term}
	respond(pending.responseCh, response, nil)
}

// failPending resolves every pending command with err. Expects lock to be held.
func (r *Raft) failPending(err error) {
	for index, pending := range r.pending {
		respond(pending.responseCh, CommandResponse{}, err)
		delete(r.pending, index)
	}
}

// truncateLog removes the entries at from and beyond. Commands waiting on the
// removed entries are resolved with ErrLostLeadership. Expects lock to be held.
func (r *Raft) truncateLog(from int64) error {
	if from >= int64(r.log.Len()) {
		return nil
	}
	for index, pending := range r.pending {
		if index >= from {
			respond(pending.responseCh, CommandResponse{}, ErrLostLeadership)
			delete(r.pending, index)
		}
	}
	r.options.logger.Infof("server %s truncating log: from = %d, length = %d", r.id, from, r.log.Len())
	return r.log.Truncate(from)
}
