package raft

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const shutdownGracePeriod = 300 * time.Millisecond

const (
	serviceName         = "raftkv.Raft"
	appendEntriesMethod = "/" + serviceName + "/AppendEntries"
	requestVoteMethod   = "/" + serviceName + "/RequestVote"
)

// ErrTransportClosed is returned when an RPC is attempted on a transport that is not running.
var ErrTransportClosed = errors.New("transport is closed")

// Transport represents the underlying transport mechanism used by a node in a cluster
// to send and receive RPCs. It acts as both a server for a node and a client of other nodes.
type Transport interface {
	// Run will start serving incoming RPCs received at the local network address.
	Run() error

	// Shutdown will stop the serving of incoming RPCs.
	Shutdown() error

	// SendAppendEntries sends an append entries request to the provided address.
	SendAppendEntries(ctx context.Context, address string, request AppendEntriesRequest) (AppendEntriesResponse, error)

	// SendRequestVote sends a request vote request to the provided address.
	SendRequestVote(ctx context.Context, address string, request RequestVoteRequest) (RequestVoteResponse, error)

	// RegisterAppendEntriesHandler registers the function that will be called when an
	// AppendEntries RPC is received.
	RegisterAppendEntriesHandler(handler func(*AppendEntriesRequest, *AppendEntriesResponse) error)

	// RegisterRequestVoteHandler registers the function that will be called when a
	// RequestVote RPC is received.
	RegisterRequestVoteHandler(handler func(*RequestVoteRequest, *RequestVoteResponse) error)

	// Address returns the local network address.
	Address() string
}

// raftServer is the server side of the raftkv.Raft gRPC service.
type raftServer interface {
	AppendEntries(ctx context.Context, request *AppendEntriesRequest) (*AppendEntriesResponse, error)
	RequestVote(ctx context.Context, request *RequestVoteRequest) (*RequestVoteResponse, error)
}

var raftServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*raftServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AppendEntries", Handler: appendEntriesServiceHandler},
		{MethodName: "RequestVote", Handler: requestVoteServiceHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raft.proto",
}

func appendEntriesServiceHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(AppendEntriesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(raftServer).AppendEntries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: appendEntriesMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raftServer).AppendEntries(ctx, req.(*AppendEntriesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func requestVoteServiceHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(RequestVoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(raftServer).RequestVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: requestVoteMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raftServer).RequestVote(ctx, req.(*RequestVoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// connectionManager handles creating new connections and closing existing ones.
// This implementation is concurrent safe.
type connectionManager struct {
	// The connections to the nodes in the cluster. Maps address to connection.
	connections map[string]*grpc.ClientConn

	// The credentials each connection will use.
	creds credentials.TransportCredentials

	mu sync.Mutex
}

func newConnectionManager(creds credentials.TransportCredentials) *connectionManager {
	return &connectionManager{
		connections: make(map[string]*grpc.ClientConn),
		creds:       creds,
	}
}

// getConnection will retrieve a connection for the provided address. If one does not
// exist, it will be created.
func (c *connectionManager) getConnection(address string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.connections[address]; ok {
		return conn, nil
	}

	conn, err := grpc.Dial(
		address,
		grpc.WithTransportCredentials(c.creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wireCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("could not establish connection: %w", err)
	}
	c.connections[address] = conn

	return conn, nil
}

// closeAll closes all open connections.
func (c *connectionManager) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for address, conn := range c.connections {
		conn.Close()
		delete(c.connections, address)
	}
}

// transport is the gRPC implementation of the Transport interface.
type transport struct {
	// Indicates whether the transport is started.
	running bool

	// The local network address.
	address string

	// The address the listener is bound to. Differs from address when binding port 0.
	listenAddress net.Addr

	// The RPC server for raft.
	server *grpc.Server

	// The function that is called when an AppendEntries RPC is received.
	appendEntriesHandler func(*AppendEntriesRequest, *AppendEntriesResponse) error

	// The function that is called when a RequestVote RPC is received.
	requestVoteHandler func(*RequestVoteRequest, *RequestVoteResponse) error

	// Manages connections to other members of the cluster.
	connManager *connectionManager

	mu sync.RWMutex
}

// NewTransport creates a new instance of Transport that can
// be used to make RPCs and serve incoming RPCs at the provided
// address.
func NewTransport(address string) (Transport, error) {
	if _, err := net.ResolveTCPAddr("tcp", address); err != nil {
		return nil, fmt.Errorf("could not resolve tcp address: %w", err)
	}
	connManager := newConnectionManager(insecure.NewCredentials())
	return &transport{address: address, connManager: connManager}, nil
}

func (t *transport) Run() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}

	listener, err := net.Listen("tcp", t.address)
	if err != nil {
		return fmt.Errorf("could not create listener: %w", err)
	}

	t.listenAddress = listener.Addr()
	t.server = grpc.NewServer(grpc.ForceServerCodec(wireCodec{}))
	t.server.RegisterService(&raftServiceDesc, t)
	go t.server.Serve(listener)
	t.running = true

	return nil
}

func (t *transport) Shutdown() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	server := t.server
	t.mu.Unlock()

	stopped := make(chan interface{})
	defer t.connManager.closeAll()

	go func() {
		server.GracefulStop()
		close(stopped)
	}()

	timer := time.NewTimer(shutdownGracePeriod)
	defer timer.Stop()
	select {
	case <-timer.C:
		server.Stop()
		<-stopped
	case <-stopped:
	}

	return nil
}

func (t *transport) SendAppendEntries(
	ctx context.Context,
	address string,
	request AppendEntriesRequest,
) (AppendEntriesResponse, error) {
	conn, err := t.connection(address)
	if err != nil {
		return AppendEntriesResponse{}, fmt.Errorf("could not make AppendEntries RPC: %w", err)
	}

	response := AppendEntriesResponse{}
	if err := conn.Invoke(ctx, appendEntriesMethod, &request, &response); err != nil {
		return AppendEntriesResponse{}, fmt.Errorf("could not make AppendEntries RPC: %w", err)
	}

	return response, nil
}

func (t *transport) SendRequestVote(
	ctx context.Context,
	address string,
	request RequestVoteRequest,
) (RequestVoteResponse, error) {
	conn, err := t.connection(address)
	if err != nil {
		return RequestVoteResponse{}, fmt.Errorf("could not make RequestVote RPC: %w", err)
	}

	response := RequestVoteResponse{}
	if err := conn.Invoke(ctx, requestVoteMethod, &request, &response); err != nil {
		return RequestVoteResponse{}, fmt.Errorf("could not make RequestVote RPC: %w", err)
	}

	return response, nil
}

func (t *transport) connection(address string) (*grpc.ClientConn, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.running {
		return nil, ErrTransportClosed
	}

	conn, err := t.connManager.getConnection(address)
	if err != nil {
		return nil, fmt.Errorf("could not get client connection: %w", err)
	}
	return conn, nil
}

func (t *transport) RegisterAppendEntriesHandler(
	handler func(*AppendEntriesRequest, *AppendEntriesResponse) error,
) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendEntriesHandler = handler
}

func (t *transport) RegisterRequestVoteHandler(
	handler func(*RequestVoteRequest, *RequestVoteResponse) error,
) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requestVoteHandler = handler
}

// Address returns the configured address, or the bound address once the
// transport is running.
func (t *transport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listenAddress != nil {
		return t.listenAddress.String()
	}
	return t.address
}

// AppendEntries handles the AppendEntries gRPC request. Malformed entries are
// rejected before they reach the log.
func (t *transport) AppendEntries(
	ctx context.Context,
	request *AppendEntriesRequest,
) (*AppendEntriesResponse, error) {
	t.mu.RLock()
	handler := t.appendEntriesHandler
	t.mu.RUnlock()
	if handler == nil {
		return nil, status.Error(codes.Unavailable, "no AppendEntries handler registered")
	}
	if err := request.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	response := &AppendEntriesResponse{}
	if err := handler(request, response); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return response, nil
}

// RequestVote handles the RequestVote gRPC request.
func (t *transport) RequestVote(
	ctx context.Context,
	request *RequestVoteRequest,
) (*RequestVoteResponse, error) {
	t.mu.RLock()
	handler := t.requestVoteHandler
	t.mu.RUnlock()
	if handler == nil {
		return nil, status.Error(codes.Unavailable, "no RequestVote handler registered")
	}
	response := &RequestVoteResponse{}
	if err := handler(request, response); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return response, nil
}
