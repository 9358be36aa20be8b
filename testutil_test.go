package raft

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmsadair/raftkv/logging"
	"github.com/jmsadair/raftkv/store"
)

const (
	testElectionTimeout   = 100 * time.Millisecond
	testHeartbeatInterval = 20 * time.Millisecond
	testRPCTimeout        = 50 * time.Millisecond
	testCommitTimeout     = time.Second
	testWaitTimeout       = 5 * time.Second
	testPollInterval      = 10 * time.Millisecond
)

var errUnreachable = errors.New("peer is unreachable")

func newTestLogger(t *testing.T) Logger {
	logger, err := logging.NewLogger(logging.WithWriter(os.Stderr), logging.WithLevel(logging.Error))
	require.NoError(t, err)
	return logger
}

func newTestStore() *store.Store {
	return store.New()
}

// snapshotStore copies the contents of a store into a map.
func snapshotStore(s Store) map[string]string {
	kv := s.(*store.Store)
	contents := make(map[string]string, kv.Len())
	for _, key := range kv.Keys() {
		value, _ := kv.Read(key)
		contents[key] = value
	}
	return contents
}

// newTestRaft creates a member of a three node cluster without a transport. It is used to
// exercise the RPC handlers directly.
func newTestRaft(t *testing.T, opts ...Option) *Raft {
	peers := map[string]string{"node-1": "node-1", "node-2": "node-2", "node-3": "node-3"}
	opts = append([]Option{WithLogger(newTestLogger(t))}, opts...)
	raft, err := NewRaft("node-1", peers, newTestStore(), opts...)
	require.NoError(t, err)
	return raft
}

// memoryNetwork routes RPCs between memory transports and can partition members from it.
type memoryNetwork struct {
	transports   map[string]*memoryTransport
	disconnected map[string]bool
	mu           sync.RWMutex
}

func newMemoryNetwork() *memoryNetwork {
	return &memoryNetwork{
		transports:   make(map[string]*memoryTransport),
		disconnected: make(map[string]bool),
	}
}

func (n *memoryNetwork) transport(address string) *memoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	transport := &memoryTransport{network: n, address: address}
	n.transports[address] = transport
	return transport
}

func (n *memoryNetwork) disconnect(address string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected[address] = true
}

func (n *memoryNetwork) reconnect(address string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.disconnected, address)
}

func (n *memoryNetwork) route(from, to string) (*memoryTransport, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.disconnected[from] || n.disconnected[to] {
		return nil, errUnreachable
	}
	target, ok := n.transports[to]
	if !ok {
		return nil, errUnreachable
	}
	return target, nil
}

// memoryTransport is a Transport that delivers RPCs by calling the handlers of the target directly.
type memoryTransport struct {
	network              *memoryNetwork
	address              string
	running              bool
	appendEntriesHandler func(*AppendEntriesRequest, *AppendEntriesResponse) error
	requestVoteHandler   func(*RequestVoteRequest, *RequestVoteResponse) error
	mu                   sync.RWMutex
}

func (t *memoryTransport) Run() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	return nil
}

func (t *memoryTransport) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	return nil
}

func (t *memoryTransport) Address() string {
	return t.address
}

func (t *memoryTransport) RegisterAppendEntriesHandler(handler func(*AppendEntriesRequest, *AppendEntriesResponse) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendEntriesHandler = handler
}

func (t *memoryTransport) RegisterRequestVoteHandler(handler func(*RequestVoteRequest, *RequestVoteResponse) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requestVoteHandler = handler
}

func (t *memoryTransport) target(ctx context.Context, address string) (*memoryTransport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	running := t.running
	t.mu.RUnlock()
	if !running {
		return nil, ErrTransportClosed
	}

	target, err := t.network.route(t.address, address)
	if err != nil {
		return nil, err
	}
	target.mu.RLock()
	defer target.mu.RUnlock()
	if !target.running {
		return nil, errUnreachable
	}
	return target, nil
}

func (t *memoryTransport) SendAppendEntries(
	ctx context.Context,
	address string,
	request AppendEntriesRequest,
) (AppendEntriesResponse, error) {
	target, err := t.target(ctx, address)
	if err != nil {
		return AppendEntriesResponse{}, err
	}

	target.mu.RLock()
	handler := target.appendEntriesHandler
	target.mu.RUnlock()

	request.Entries = append([]Entry(nil), request.Entries...)
	var response AppendEntriesResponse
	if err := handler(&request, &response); err != nil {
		return AppendEntriesResponse{}, err
	}
	return response, nil
}

func (t *memoryTransport) SendRequestVote(
	ctx context.Context,
	address string,
	request RequestVoteRequest,
) (RequestVoteResponse, error) {
	target, err := t.target(ctx, address)
	if err != nil {
		return RequestVoteResponse{}, err
	}

	target.mu.RLock()
	handler := target.requestVoteHandler
	target.mu.RUnlock()

	var response RequestVoteResponse
	if err := handler(&request, &response); err != nil {
		return RequestVoteResponse{}, err
	}
	return response, nil
}

type testCluster struct {
	// The testing instance associated with the cluster.
	t *testing.T

	// Routes RPCs between the members.
	network *memoryNetwork

	// The members of the cluster.
	nodes []*Raft

	// The store of each member, where stores[i] belongs to nodes[i].
	stores []*store.Store
}

func newTestCluster(t *testing.T, size int, opts ...Option) *testCluster {
	network := newMemoryNetwork()

	peers := make(map[string]string, size)
	for i := 0; i < size; i++ {
		id := fmt.Sprintf("node-%d", i)
		peers[id] = id
	}

	cluster := &testCluster{t: t, network: network}
	for i := 0; i < size; i++ {
		id := fmt.Sprintf("node-%d", i)
		kv := newTestStore()
		nodeOpts := append([]Option{
			WithLogger(newTestLogger(t)),
			WithTransport(network.transport(id)),
			WithElectionTimeout(testElectionTimeout),
			WithHeartbeatInterval(testHeartbeatInterval),
			WithRPCTimeout(testRPCTimeout),
			WithCommitTimeout(testCommitTimeout),
		}, opts...)
		node, err := NewRaft(id, peers, kv, nodeOpts...)
		require.NoError(t, err)
		cluster.nodes = append(cluster.nodes, node)
		cluster.stores = append(cluster.stores, kv)
	}

	return cluster
}

func (c *testCluster) start() {
	for _, node := range c.nodes {
		require.NoError(c.t, node.Start())
	}
}

func (c *testCluster) stop() {
	for _, node := range c.nodes {
		node.Stop()
	}
}

func (c *testCluster) disconnect(node *Raft) {
	c.network.disconnect(node.ID())
}

func (c *testCluster) reconnect(node *Raft) {
	c.network.reconnect(node.ID())
}

// connected returns the members that are not partitioned from the network.
func (c *testCluster) connected() []*Raft {
	c.network.mu.RLock()
	defer c.network.mu.RUnlock()
	var nodes []*Raft
	for _, node := range c.nodes {
		if !c.network.disconnected[node.ID()] {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// leader returns the connected leader with the highest term, if any.
func (c *testCluster) leader() *Raft {
	var leader *Raft
	var term uint64
	for _, node := range c.connected() {
		status := node.Status()
		if status.Role == Leader && (leader == nil || status.Term > term) {
			leader = node
			term = status.Term
		}
	}
	return leader
}

// waitForLeader waits until exactly one connected member believes it is the leader of the
// highest term and every connected member agrees on it.
func (c *testCluster) waitForLeader() *Raft {
	var leader *Raft
	require.Eventually(c.t, func() bool {
		leader = c.leader()
		if leader == nil {
			return false
		}
		for _, node := range c.connected() {
			if leaderID, _ := node.Leader(); leaderID != leader.ID() {
				return false
			}
		}
		return true
	}, testWaitTimeout, testPollInterval)
	return leader
}

// checkOneLeaderPerTerm fails the test if two members are leader of the same term.
func (c *testCluster) checkOneLeaderPerTerm() {
	leaders := make(map[uint64]string)
	for _, node := range c.nodes {
		status := node.Status()
		if status.Role != Leader {
			continue
		}
		existing, ok := leaders[status.Term]
		require.False(c.t, ok, "term %d has leaders %s and %s", status.Term, existing, status.ID)
		leaders[status.Term] = status.ID
	}
}

// submit submits a command to the current leader, retrying until it is applied.
func (c *testCluster) submit(command Command) CommandResponse {
	var response CommandResponse
	require.Eventually(c.t, func() bool {
		leader := c.leader()
		if leader == nil {
			return false
		}
		result := leader.SubmitCommand(command).Await()
		if result.Error() != nil {
			return false
		}
		response = result.Success()
		return true
	}, testWaitTimeout, testPollInterval)
	return response
}

// waitForConvergence waits until every connected member has applied the same entries as
// the leader and their stores match.
func (c *testCluster) waitForConvergence() {
	require.Eventually(c.t, func() bool {
		leader := c.leader()
		if leader == nil {
			return false
		}
		expected := leader.Status()
		contents := snapshotStore(leader.store)
		for _, node := range c.connected() {
			status := node.Status()
			if status.LogLength != expected.LogLength || status.LastApplied != expected.CommitIndex {
				return false
			}
			if !reflect.DeepEqual(snapshotStore(node.store), contents) {
				return false
			}
		}
		return true
	}, testWaitTimeout, testPollInterval)
}
