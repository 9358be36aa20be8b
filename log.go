package raft

import (
	"github.com/jmsadair/raftkv/internal/errors"
)

// Log is an ordered, zero-indexed sequence of entries without gaps.
// Implementations need not be concurrent safe; Raft serializes access.
type Log interface {
	// Len returns the number of entries in the log.
	Len() int

	// LastIndex returns the index of the last entry, or -1 if the log is empty.
	LastIndex() int64

	// LastTerm returns the term of the last entry, or 0 if the log is empty.
	LastTerm() uint64

	// Contains indicates whether the log has an entry at index.
	Contains(index int64) bool

	// GetEntry returns the entry at index.
	GetEntry(index int64) (Entry, error)

	// Entries returns a copy of the entries in [from, to).
	Entries(from, to int64) ([]Entry, error)

	// AppendEntries appends entries to the end of the log.
	AppendEntries(entries ...Entry)

	// Truncate removes every entry at an index greater than or equal to from.
	Truncate(from int64) error
}

// volatileLog is an in-memory implementation of Log.
type volatileLog struct {
	entries []Entry
}

// NewVolatileLog creates an empty in-memory log.
func NewVolatileLog() Log {
	return &volatileLog{entries: make([]Entry, 0)}
}

func (l *volatileLog) Len() int {
	return len(l.entries)
}

func (l *volatileLog) LastIndex() int64 {
	return int64(len(l.entries)) - 1
}

func (l *volatileLog) LastTerm() uint64 {
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Term
}

func (l *volatileLog) Contains(index int64) bool {
	return index >= 0 && index < int64(len(l.entries))
}

func (l *volatileLog) GetEntry(index int64) (Entry, error) {
	if !l.Contains(index) {
		return Entry{}, errors.WrapError(ErrIndexOutOfRange, "log does not contain index %d", index)
	}
	return l.entries[index], nil
}

func (l *volatileLog) Entries(from, to int64) ([]Entry, error) {
	if from < 0 || to < from || to > int64(len(l.entries)) {
		return nil, errors.WrapError(ErrIndexOutOfRange, "invalid range [%d, %d) for log of length %d", from, to, len(l.entries))
	}
	entries := make([]Entry, to-from)
	copy(entries, l.entries[from:to])
	return entries, nil
}

func (l *volatileLog) AppendEntries(entries ...Entry) {
	l.entries = append(l.entries, entries...)
}

func (l *volatileLog) Truncate(from int64) error {
	if from < 0 || from > int64(len(l.entries)) {
		return errors.WrapError(ErrIndexOutOfRange, "cannot truncate log of length %d from %d", len(l.entries), from)
	}
	l.entries = l.entries[:from]
	return nil
}
