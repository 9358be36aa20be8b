package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCodecAppendEntriesRequest(t *testing.T) {
	codec := wireCodec{}
	request := &AppendEntriesRequest{
		Term:         3,
		LeaderID:     "node-1",
		PrevLogIndex: -1,
		PrevLogTerm:  0,
		Entries: []Entry{
			{Op: Write, Key: "a", Value: "1", Term: 3},
			{Op: Delete, Key: "a", Term: 3},
		},
		LeaderCommit: -1,
	}

	data, err := codec.Marshal(request)
	require.NoError(t, err)

	decoded := &AppendEntriesRequest{}
	require.NoError(t, codec.Unmarshal(data, decoded))
	require.Equal(t, request, decoded)
}

func TestCodecHeartbeat(t *testing.T) {
	codec := wireCodec{}
	request := &AppendEntriesRequest{Term: 1, LeaderID: "node-1", PrevLogIndex: 4, PrevLogTerm: 1, LeaderCommit: 4}

	data, err := codec.Marshal(request)
	require.NoError(t, err)

	decoded := &AppendEntriesRequest{}
	require.NoError(t, codec.Unmarshal(data, decoded))
	require.Equal(t, request, decoded)
	require.Nil(t, decoded.Entries)
}

// TestCodecResponses checks the round trip of the remaining messages, including zero values.
func TestCodecResponses(t *testing.T) {
	codec := wireCodec{}

	messages := []struct {
		in  wireMessage
		out wireMessage
	}{
		{&AppendEntriesResponse{Term: 2, Success: true}, &AppendEntriesResponse{}},
		{&AppendEntriesResponse{}, &AppendEntriesResponse{Term: 9}},
		{&RequestVoteRequest{Term: 5, CandidateID: "node-2", LastLogIndex: -1}, &RequestVoteRequest{}},
		{&RequestVoteRequest{Term: 5, CandidateID: "node-2", LastLogIndex: 12, LastLogTerm: 4}, &RequestVoteRequest{}},
		{&RequestVoteResponse{Term: 5, VoteGranted: true}, &RequestVoteResponse{}},
	}

	for _, message := range messages {
		data, err := codec.Marshal(message.in)
		require.NoError(t, err)
		require.NoError(t, codec.Unmarshal(data, message.out))
		require.Equal(t, message.in, message.out)
	}
}

// TestCodecSkipsUnknownFields checks that fields added by newer peers are ignored.
func TestCodecSkipsUnknownFields(t *testing.T) {
	data := (&RequestVoteResponse{Term: 7, VoteGranted: true}).marshalWire(nil)
	data = protowire.AppendTag(data, 15, protowire.BytesType)
	data = protowire.AppendString(data, "ignored")

	decoded := &RequestVoteResponse{}
	require.NoError(t, wireCodec{}.Unmarshal(data, decoded))
	require.Equal(t, &RequestVoteResponse{Term: 7, VoteGranted: true}, decoded)
}

func TestCodecInvalid(t *testing.T) {
	codec := wireCodec{}

	_, err := codec.Marshal("not a message")
	require.Error(t, err)
	require.Error(t, codec.Unmarshal([]byte{0x08}, &AppendEntriesResponse{}))

	// An entry with an unknown operation is rejected.
	entry := protowire.AppendTag(nil, entryOpField, protowire.VarintType)
	entry = protowire.AppendVarint(entry, 42)
	data := protowire.AppendTag(nil, appendEntriesField, protowire.BytesType)
	data = protowire.AppendBytes(data, entry)
	require.Error(t, codec.Unmarshal(data, &AppendEntriesRequest{}))

	// An operation that only becomes valid once truncated to 32 bits is rejected.
	entry = protowire.AppendTag(nil, entryOpField, protowire.VarintType)
	entry = protowire.AppendVarint(entry, 1<<32|uint64(Delete))
	entry = protowire.AppendTag(entry, entryKeyField, protowire.BytesType)
	entry = protowire.AppendString(entry, "a")
	data = protowire.AppendTag(nil, appendEntriesField, protowire.BytesType)
	data = protowire.AppendBytes(data, entry)
	require.Error(t, codec.Unmarshal(data, &AppendEntriesRequest{}))

	require.Equal(t, codecName, codec.Name())
}
