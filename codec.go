package raft

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the RPC messages. They follow the layout of raft.proto:
//
//	message LogEntry { Op op = 1; string key = 2; string value = 3; uint64 term = 4; }
//	message AppendEntriesRequest {
//	  uint64 term = 1; string leader_id = 2; sint64 prev_log_index = 3;
//	  uint64 prev_log_term = 4; repeated LogEntry entries = 5; sint64 leader_commit = 6;
//	}
//	message AppendEntriesResponse { uint64 term = 1; bool success = 2; }
//	message RequestVoteRequest {
//	  uint64 term = 1; string candidate_id = 2; sint64 last_log_index = 3; uint64 last_log_term = 4;
//	}
//	message RequestVoteResponse { uint64 term = 1; bool vote_granted = 2; }
const (
	entryOpField    protowire.Number = 1
	entryKeyField   protowire.Number = 2
	entryValueField protowire.Number = 3
	entryTermField  protowire.Number = 4

	appendTermField         protowire.Number = 1
	appendLeaderIDField     protowire.Number = 2
	appendPrevLogIndexField protowire.Number = 3
	appendPrevLogTermField  protowire.Number = 4
	appendEntriesField      protowire.Number = 5
	appendLeaderCommitField protowire.Number = 6

	appendResponseTermField    protowire.Number = 1
	appendResponseSuccessField protowire.Number = 2

	voteTermField         protowire.Number = 1
	voteCandidateIDField  protowire.Number = 2
	voteLastLogIndexField protowire.Number = 3
	voteLastLogTermField  protowire.Number = 4

	voteResponseTermField    protowire.Number = 1
	voteResponseGrantedField protowire.Number = 2
)

// codecName is the gRPC content subtype of the wire codec.
const codecName = "raftkv-proto"

// wireMessage is implemented by every message exchanged between peers.
type wireMessage interface {
	marshalWire(b []byte) []byte
	unmarshalWire(b []byte) error
}

// wireCodec encodes RPC messages in protobuf wire format. It implements
// google.golang.org/grpc/encoding.Codec.
type wireCodec struct{}

func (wireCodec) Marshal(v any) ([]byte, error) {
	message, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("could not marshal %T: not a raft message", v)
	}
	return message.marshalWire(nil), nil
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	message, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("could not unmarshal into %T: not a raft message", v)
	}
	if err := message.unmarshalWire(data); err != nil {
		return fmt.Errorf("could not unmarshal %T: %w", v, err)
	}
	return nil
}

func (wireCodec) Name() string {
	return codecName
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// fieldDecoder consumes the value of a single field and returns the number of bytes
// consumed. Returning 0 skips the field; a negative value is a protowire error code.
type fieldDecoder func(num protowire.Number, typ protowire.Type, b []byte) int

func decodeFields(b []byte, decode fieldDecoder) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n = decode(num, typ, b)
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func consumeUint(typ protowire.Type, b []byte, dst *uint64) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func consumeInt(typ protowire.Type, b []byte, dst *int64) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = protowire.DecodeZigZag(v)
	}
	return n
}

func consumeBool(typ protowire.Type, b []byte, dst *bool) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = protowire.DecodeBool(v)
	}
	return n
}

func consumeString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

// wireEntry adapts Entry to the wire format.
type wireEntry struct {
	*Entry
}

func (e wireEntry) marshalWire(b []byte) []byte {
	b = appendUint(b, entryOpField, uint64(e.Op))
	b = appendString(b, entryKeyField, e.Key)
	b = appendString(b, entryValueField, e.Value)
	return appendUint(b, entryTermField, e.Term)
}

func (e wireEntry) unmarshalWire(b []byte) error {
	*e.Entry = Entry{}
	var op uint64
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case entryOpField:
			return consumeUint(typ, b, &op)
		case entryKeyField:
			return consumeString(typ, b, &e.Key)
		case entryValueField:
			return consumeString(typ, b, &e.Value)
		case entryTermField:
			return consumeUint(typ, b, &e.Term)
		}
		return 0
	})
	if err != nil {
		return err
	}
	if op > math.MaxUint32 {
		return fmt.Errorf("invalid operation %d", op)
	}
	e.Op = Op(op)
	if !e.Op.IsValid() {
		return fmt.Errorf("invalid operation %d", op)
	}
	return nil
}

func (r *AppendEntriesRequest) marshalWire(b []byte) []byte {
	b = appendUint(b, appendTermField, r.Term)
	b = appendString(b, appendLeaderIDField, r.LeaderID)
	b = appendInt(b, appendPrevLogIndexField, r.PrevLogIndex)
	b = appendUint(b, appendPrevLogTermField, r.PrevLogTerm)
	for i := range r.Entries {
		b = protowire.AppendTag(b, appendEntriesField, protowire.BytesType)
		b = protowire.AppendBytes(b, wireEntry{&r.Entries[i]}.marshalWire(nil))
	}
	return appendInt(b, appendLeaderCommitField, r.LeaderCommit)
}

func (r *AppendEntriesRequest) unmarshalWire(b []byte) error {
	*r = AppendEntriesRequest{}
	var entryErr error
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case appendTermField:
			return consumeUint(typ, b, &r.Term)
		case appendLeaderIDField:
			return consumeString(typ, b, &r.LeaderID)
		case appendPrevLogIndexField:
			return consumeInt(typ, b, &r.PrevLogIndex)
		case appendPrevLogTermField:
			return consumeUint(typ, b, &r.PrevLogTerm)
		case appendEntriesField:
			if typ != protowire.BytesType {
				return 0
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			var entry Entry
			if err := (wireEntry{&entry}).unmarshalWire(v); err != nil && entryErr == nil {
				entryErr = err
			}
			r.Entries = append(r.Entries, entry)
			return n
		case appendLeaderCommitField:
			return consumeInt(typ, b, &r.LeaderCommit)
		}
		return 0
	})
	if err != nil {
		return err
	}
	return entryErr
}

func (r *AppendEntriesResponse) marshalWire(b []byte) []byte {
	b = appendUint(b, appendResponseTermField, r.Term)
	return appendBool(b, appendResponseSuccessField, r.Success)
}

func (r *AppendEntriesResponse) unmarshalWire(b []byte) error {
	*r = AppendEntriesResponse{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case appendResponseTermField:
			return consumeUint(typ, b, &r.Term)
		case appendResponseSuccessField:
			return consumeBool(typ, b, &r.Success)
		}
		return 0
	})
}

func (r *RequestVoteRequest) marshalWire(b []byte) []byte {
	b = appendUint(b, voteTermField, r.Term)
	b = appendString(b, voteCandidateIDField, r.CandidateID)
	b = appendInt(b, voteLastLogIndexField, r.LastLogIndex)
	return appendUint(b, voteLastLogTermField, r.LastLogTerm)
}

func (r *RequestVoteRequest) unmarshalWire(b []byte) error {
	*r = RequestVoteRequest{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case voteTermField:
			return consumeUint(typ, b, &r.Term)
		case voteCandidateIDField:
			return consumeString(typ, b, &r.CandidateID)
		case voteLastLogIndexField:
			return consumeInt(typ, b, &r.LastLogIndex)
		case voteLastLogTermField:
			return consumeUint(typ, b, &r.LastLogTerm)
		}
		return 0
	})
}

func (r *RequestVoteResponse) marshalWire(b []byte) []byte {
	b = appendUint(b, voteResponseTermField, r.Term)
	return appendBool(b, voteResponseGrantedField, r.VoteGranted)
}

func (r *RequestVoteResponse) unmarshalWire(b []byte) error {
	*r = RequestVoteResponse{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case voteResponseTermField:
			return consumeUint(typ, b, &r.Term)
		case voteResponseGrantedField:
			return consumeBool(typ, b, &r.VoteGranted)
		}
		return 0
	})
}
