package raft

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultElectionTimeout  = time.Duration(300 * time.Millisecond)
	defaultHeartbeat        = time.Duration(50 * time.Millisecond)
	defaultRPCTimeout       = time.Duration(100 * time.Millisecond)
	defaultCommitTimeout    = time.Duration(2 * time.Second)
	defaultMaxEntriesPerRPC = 128

	minElectionTimeout = time.Duration(20 * time.Millisecond)
	maxElectionTimeout = time.Duration(10 * time.Second)
	minHeartbeat       = time.Duration(5 * time.Millisecond)
	maxHeartbeat       = time.Duration(2 * time.Second)
	minRPCTimeout      = time.Duration(time.Millisecond)
	maxRPCTimeout      = time.Duration(10 * time.Second)
	maxEntriesPerRPC   = 4096
)

// VoteRule decides whether a candidate's log qualifies it for a vote.
type VoteRule uint32

const (
	// VoteRuleExactMatch grants a vote only when the candidate's last log index and
	// last log term are equal to the voter's.
	VoteRuleExactMatch VoteRule = iota

	// VoteRuleUpToDate grants a vote when the candidate's log is at least as up to date
	// as the voter's: a greater last term, or an equal last term and a last index that is
	// not smaller.
	VoteRuleUpToDate
)

func (v VoteRule) String() string {
	switch v {
	case VoteRuleExactMatch:
		return "exact-match"
	case VoteRuleUpToDate:
		return "up-to-date"
	default:
		return fmt.Sprintf("vote-rule(%d)", uint32(v))
	}
}

// ParseVoteRule converts the name of a vote rule into a VoteRule.
func ParseVoteRule(name string) (VoteRule, error) {
	switch name {
	case "exact-match", "":
		return VoteRuleExactMatch, nil
	case "up-to-date":
		return VoteRuleUpToDate, nil
	default:
		return VoteRuleExactMatch, fmt.Errorf("unknown vote rule %q", name)
	}
}

// Logger supports logging messages at the debug, info, warn, error, and
// fatal level.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

type options struct {
	// Minimum election timeout. A random time between electionTimeout and
	// 2 * electionTimeout is chosen to determine when a node holds an election.
	electionTimeout time.Duration

	// The interval between AppendEntries RPCs that the leader sends to the followers.
	heartbeatInterval time.Duration

	// The deadline given to each outgoing RPC.
	rpcTimeout time.Duration

	// How long a submitted command may wait to be applied.
	commitTimeout time.Duration

	// The maximum number of entries sent in a single AppendEntries RPC.
	maxEntriesPerRPC int

	// The rule used to decide whether a candidate's log qualifies for a vote.
	voteRule VoteRule

	// Restricts the prevLogIndex == -1 shortcut of AppendEntries to an empty log.
	strictBootstrap bool

	// A logger for debugging and important events.
	logger Logger

	// The network transport used to exchange RPCs with peers.
	transport Transport
}

// Option is a function that updates the options associated with Raft.
type Option func(options *options) error

// WithElectionTimeout sets the election timeout for raft.
func WithElectionTimeout(time time.Duration) Option {
	return func(options *options) error {
		if time < minElectionTimeout || time > maxElectionTimeout {
			return fmt.Errorf("election timeout must be between %s and %s", minElectionTimeout, maxElectionTimeout)
		}
		options.electionTimeout = time
		return nil
	}
}

// WithHeartbeatInterval sets the heartbeat interval for raft.
func WithHeartbeatInterval(time time.Duration) Option {
	return func(options *options) error {
		if time < minHeartbeat || time > maxHeartbeat {
			return fmt.Errorf("heartbeat interval must be between %s and %s", minHeartbeat, maxHeartbeat)
		}
		options.heartbeatInterval = time
		return nil
	}
}

// WithRPCTimeout sets the deadline for each RPC sent to a peer.
func WithRPCTimeout(time time.Duration) Option {
	return func(options *options) error {
		if time < minRPCTimeout || time > maxRPCTimeout {
			return fmt.Errorf("rpc timeout must be between %s and %s", minRPCTimeout, maxRPCTimeout)
		}
		options.rpcTimeout = time
		return nil
	}
}

// WithCommitTimeout sets how long a submitted command may wait to be applied
// before its future reports ErrTimeout.
func WithCommitTimeout(time time.Duration) Option {
	return func(options *options) error {
		if time <= 0 {
			return errors.New("commit timeout must be positive")
		}
		options.commitTimeout = time
		return nil
	}
}

// WithMaxEntriesPerRPC sets the maximum number of entries sent in one AppendEntries RPC.
func WithMaxEntriesPerRPC(maxEntries int) Option {
	return func(options *options) error {
		if maxEntries <= 0 || maxEntries > maxEntriesPerRPC {
			return fmt.Errorf("max entries per rpc must be between 1 and %d", maxEntriesPerRPC)
		}
		options.maxEntriesPerRPC = maxEntries
		return nil
	}
}

// WithVoteRule sets the rule used to decide whether a candidate qualifies for a vote.
func WithVoteRule(rule VoteRule) Option {
	return func(options *options) error {
		if rule != VoteRuleExactMatch && rule != VoteRuleUpToDate {
			return fmt.Errorf("invalid vote rule %s", rule)
		}
		options.voteRule = rule
		return nil
	}
}

// WithStrictBootstrap restricts AppendEntries requests with a previous log index of -1
// from appending blindly: the shortcut is only taken when the log is empty. Otherwise the
// empty prefix is treated as matching and the log is replaced by the request's entries.
func WithStrictBootstrap() Option {
	return func(options *options) error {
		options.strictBootstrap = true
		return nil
	}
}

// WithLogger sets the logger used by raft.
func WithLogger(logger Logger) Option {
	return func(options *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		options.logger = logger
		return nil
	}
}

// WithTransport sets the network transport that will be used by raft.
func WithTransport(transport Transport) Option {
	return func(options *options) error {
		if transport == nil {
			return errors.New("transport must not be nil")
		}
		options.transport = transport
		return nil
	}
}
