package raft

// peer is another member of the cluster along with the leader's view of its
// replication progress. The progress fields are guarded by the Raft mutex.
type peer struct {
	// The ID of the peer.
	id string

	// The network address of the peer.
	address string

	// The index of the next log entry to send to the peer.
	nextIndex int64

	// The index of the highest log entry known to be replicated on the peer.
	matchIndex int64

	// Wakes the replicator for this peer. Holds at most one pending notification.
	notifyCh chan struct{}
}

func newPeer(id, address string) *peer {
	return &peer{
		id:         id,
		address:    address,
		nextIndex:  0,
		matchIndex: -1,
		notifyCh:   make(chan struct{}, 1),
	}
}

// notify asks the replicator for this peer to send an AppendEntries request. It never
// blocks; notifications that arrive while one is pending are coalesced.
func (p *peer) notify() {
	select {
	case p.notifyCh <- struct{}{}:
	default:
	}
}

// resetProgress is called when the local node becomes leader.
func (p *peer) resetProgress(nextIndex int64) {
	p.nextIndex = nextIndex
	p.matchIndex = -1
}
