package graph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/orneryd/linkdb/pkg/kvstore"
	"github.com/orneryd/linkdb/pkg/value"
)

// NodeID is the opaque identity of a node.
//
// In caller-supplied mode any non-empty string chosen by the application is
// accepted. In the generated modes the engine hands out decimal counters or
// random UUIDs.
type NodeID string

// RelationshipID identifies a relationship: at most one exists per
// (Type, From, To) triple.
type RelationshipID struct {
	Type string
	From NodeID
	To   NodeID
}

// String renders the relationship as (from)-[:TYPE]->(to).
func (r RelationshipID) String() string {
	return fmt.Sprintf("(%s)-[:%s]->(%s)", r.From, r.Type, r.To)
}

// Direction selects the outgoing or incoming adjacency of a type.
type Direction uint8

const (
	Outgoing Direction = iota
	Incoming
)

// String returns "out" or "in".
func (d Direction) String() string {
	if d == Incoming {
		return "in"
	}
	return "out"
}

// TypeStats reports the number of adjacency entries of a relationship type.
//
// Out counts nodes with at least one outgoing edge of the type and In counts
// nodes with at least one incoming edge. These are store entry counts, not
// edge counts: a node with 50 outgoing edges contributes 1 to Out.
type TypeStats struct {
	Out int
	In  int
}

// TypeInfo describes a registered relationship type and its sizing hints.
type TypeInfo struct {
	Name         string
	MaxEntries   int
	AvgOutDegree int
	AvgInDegree  int
	Stats        TypeStats
}

// NodeRecord is a node together with its properties.
type NodeRecord struct {
	ID    NodeID
	Props value.Value
}

// NodeSet is a set of node identities. The zero value is not usable; use
// NewNodeSet.
type NodeSet map[NodeID]struct{}

// NewNodeSet builds a set from ids. Duplicates collapse.
func NewNodeSet(ids ...NodeID) NodeSet {
	s := make(NodeSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id and reports whether the set grew.
func (s NodeSet) Add(id NodeID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether it was present.
func (s NodeSet) Remove(id NodeID) bool {
	if _, ok := s[id]; !ok {
		return false
	}
	delete(s, id)
	return true
}

// Contains reports membership.
func (s NodeSet) Contains(id NodeID) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of members.
func (s NodeSet) Len() int { return len(s) }

// Sorted returns the members in ascending order.
func (s NodeSet) Sorted() []NodeID {
	out := make([]NodeID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// nodeSetCodec stores neighbor sets as sorted msgpack arrays.
type nodeSetCodec struct {
	inner kvstore.MsgpackCodec[[]NodeID]
}

func (c nodeSetCodec) Encode(s NodeSet) ([]byte, error) {
	return c.inner.Encode(s.Sorted())
}

func (c nodeSetCodec) Decode(data []byte) (NodeSet, error) {
	ids, err := c.inner.Decode(data)
	if err != nil {
		return nil, err
	}
	return NewNodeSet(ids...), nil
}

// relationshipKeyCodec encodes a RelationshipID as
// uvarint(len(type)) type uvarint(len(from)) from to.
type relationshipKeyCodec struct{}

func (relationshipKeyCodec) Encode(r RelationshipID) ([]byte, error) {
	buf := make([]byte, 0, 2*binary.MaxVarintLen64+len(r.Type)+len(r.From)+len(r.To))
	buf = binary.AppendUvarint(buf, uint64(len(r.Type)))
	buf = append(buf, r.Type...)
	buf = binary.AppendUvarint(buf, uint64(len(r.From)))
	buf = append(buf, r.From...)
	buf = append(buf, r.To...)
	return buf, nil
}

var errBadRelationshipKey = errors.New("malformed relationship key")

func (relationshipKeyCodec) Decode(data []byte) (RelationshipID, error) {
	var r RelationshipID
	part := func() (string, error) {
		n, w := binary.Uvarint(data)
		if w <= 0 || uint64(len(data)-w) < n {
			return "", errBadRelationshipKey
		}
		s := string(data[w : w+int(n)])
		data = data[w+int(n):]
		return s, nil
	}
	typ, err := part()
	if err != nil {
		return r, err
	}
	from, err := part()
	if err != nil {
		return r, err
	}
	r.Type, r.From, r.To = typ, NodeID(from), NodeID(data)
	return r, nil
}
