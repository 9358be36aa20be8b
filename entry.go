package raft

import (
	"fmt"

	"github.com/jmsadair/raftkv/internal/errors"
)

// Op is the kind of operation carried by a log entry.
type Op uint32

const (
	// Read reads a key. Reads never mutate the store and are never
	// replicated, so a Read entry in the log is invalid.
	Read Op = iota

	// Write inserts or overwrites the value of a key.
	Write

	// Delete removes a key. Deleting a key that does not exist is not an error.
	Delete
)

// String converts an Op to a string.
func (o Op) String() string {
	switch o {
	case Read:
		return "read"
	case Write:
		return "write"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint32(o))
	}
}

// IsValid indicates whether o is one of the defined operations.
func (o Op) IsValid() bool {
	return o == Read || o == Write || o == Delete
}

// MarshalText encodes the operation by name.
func (o Op) MarshalText() ([]byte, error) {
	if !o.IsValid() {
		return nil, fmt.Errorf("invalid operation %d", uint32(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText decodes an operation name produced by MarshalText.
func (o *Op) UnmarshalText(text []byte) error {
	switch string(text) {
	case "read":
		*o = Read
	case "write":
		*o = Write
	case "delete":
		*o = Delete
	default:
		return fmt.Errorf("invalid operation %q", string(text))
	}
	return nil
}

// Command is an operation submitted by a client to be replicated.
type Command struct {
	// The operation to perform.
	Op Op `json:"op"`

	// The key the operation applies to.
	Key string `json:"key"`

	// The value to write. Only meaningful for Write, where it must be non-empty.
	Value string `json:"value,omitempty"`
}

// Validate checks that the command may be placed in the log.
func (c Command) Validate() error {
	switch c.Op {
	case Write:
		if c.Value == "" {
			return errors.WrapError(ErrInvalidOperation, "write missing value for key %q", c.Key)
		}
		return nil
	case Delete:
		return nil
	case Read:
		return errors.WrapError(ErrInvalidOperation, "read of key %q cannot be replicated", c.Key)
	default:
		return errors.WrapError(ErrInvalidOperation, "unknown operation %s for key %q", c.Op, c.Key)
	}
}

// Entry is the unit of replication: a command and the term of the leader
// that created it.
type Entry struct {
	// The operation to perform.
	Op Op `json:"op"`

	// The key the operation applies to.
	Key string `json:"key"`

	// The value to write. Empty means no value.
	Value string `json:"value,omitempty"`

	// The term of the leader that appended the entry.
	Term uint64 `json:"term"`
}

// NewEntry creates an entry for the command at the provided term.
func NewEntry(command Command, term uint64) Entry {
	return Entry{Op: command.Op, Key: command.Key, Value: command.Value, Term: term}
}

// Command returns the command carried by the entry.
func (e Entry) Command() Command {
	return Command{Op: e.Op, Key: e.Key, Value: e.Value}
}

// Validate checks that the entry can be applied to a store.
func (e Entry) Validate() error {
	return e.Command().Validate()
}

// IsConflict indicates whether two entries at the same index disagree on term.
func (e Entry) IsConflict(other Entry) bool {
	return e.Term != other.Term
}

func (e Entry) String() string {
	if e.Op == Write {
		return fmt.Sprintf("%s(%s=%s)@%d", e.Op, e.Key, e.Value, e.Term)
	}
	return fmt.Sprintf("%s(%s)@%d", e.Op, e.Key, e.Term)
}
